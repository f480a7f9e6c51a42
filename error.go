// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import "github.com/cockroachdb/errors"

// Sentinel errors returned by the public API, per spec.md §7's error-kind
// taxonomy: ErrNotFound/ErrCorruption/ErrClosed are the ones callers are
// expected to compare against with errors.Is; everything else surfaces as
// a wrapped, contextual error.
var (
	// ErrNotFound is returned by Get when a key has no live value: either
	// it was never written, or its most recent record is a DELETION.
	ErrNotFound = errors.New("riftdb: not found")

	// ErrCorruption is returned for a malformed batch read back from a WAL,
	// and marks the error Open returns for a malformed WAL tail with
	// paranoid_checks enabled. A malformed manifest fails Open with the
	// manifest package's own error, not with ErrCorruption.
	ErrCorruption = errors.New("riftdb: corruption")

	// ErrClosed is returned by any operation on a DB that has already had
	// Close called on it.
	ErrClosed = errors.New("riftdb: closed")

	// ErrInvalidBatch is returned for a batch whose encoded record count is
	// the reserved value invalidBatchCount (the largest uint32). A count
	// that does not match the records present is reported as ErrCorruption.
	ErrInvalidBatch = errors.New("riftdb: invalid batch")
)
