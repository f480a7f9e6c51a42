// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"io"
	"os"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/sstable"
	"github.com/riftdb/riftdb/internal/vfs"
)

// FilterPolicy is the out-of-scope bloom-filter collaborator spec.md §6
// lists as a Tunable; riftdb never constructs or consults one, but the
// field exists so callers porting options from the original system have
// somewhere to put it.
type FilterPolicy interface {
	Name() string
}

// Options holds every tunable of spec.md §6 plus the domain-stack knobs
// SPEC_FULL.md §6 adds (Compression, CompactionBytesPerSec, EventListener,
// Logger, Metrics). The zero value is not ready to use; call EnsureDefaults
// or pass the result of Open's defaulting through it.
type Options struct {
	// Comparer orders user keys. Defaults to base.DefaultComparer (byte
	// order).
	Comparer base.Comparer

	// FS is the environment abstraction files, locks, and directory
	// listings go through. Defaults to vfs.Default.
	FS vfs.FS

	// WriteBufferSize is the size, in bytes, a memtable may grow to before
	// it is frozen and flushed. Default 4 MiB.
	WriteBufferSize int

	// MaxOpenFiles bounds the table cache's open-file count. Default 1000.
	MaxOpenFiles int

	// BlockSize is the target, pre-compression size of one sstable data
	// block. Default 4 KiB.
	BlockSize int

	// MaxFileSize is the target size of one compaction output file.
	// Default 2 MiB.
	MaxFileSize int64

	// ParanoidChecks escalates recoverable WAL-tail corruption during
	// recovery to a hard error instead of truncating at the last good
	// record. Default false.
	ParanoidChecks bool

	// FilterPolicy is accepted but never consulted; bloom construction is
	// out of scope (spec.md §1).
	FilterPolicy FilterPolicy

	// ReuseLogs controls whether Open may reuse the most recent log file
	// left by a clean-ish shutdown instead of always starting a fresh one.
	// riftdb does not implement log reuse; the field is retained so
	// options ported from the original tunable list round-trip, but it is
	// always treated as false.
	ReuseLogs bool

	// Compression selects the sstable block codec. Default NoCompression.
	Compression sstable.Compression

	// CompactionBytesPerSec throttles compaction read+write I/O through a
	// token bucket. 0 (the default) means unlimited.
	CompactionBytesPerSec float64

	// EventListener receives lifecycle callbacks for flushes, compactions,
	// WAL/manifest creation, and background errors.
	EventListener *EventListener

	// Logger is an io.Writer for formatted info-log lines. Defaults to
	// os.Stderr. The DB itself writes nothing to it, and Open creates no
	// LOG file.
	Logger io.Writer

	// ErrorIfDBExists makes Open fail if a database already exists at the
	// given directory, instead of opening it.
	ErrorIfDBExists bool

	metrics *Metrics
}

const (
	defaultWriteBufferSize = 4 << 20
	defaultMaxOpenFiles    = 1000
	defaultBlockSize       = 4 << 10
	defaultMaxFileSize     = 2 << 20
)

// EnsureDefaults fills every unset field of o (or of a fresh Options if o
// is nil) and returns the result. The caller should use the returned
// Options, not further mutate the receiver.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	} else {
		clone := *o
		o = &clone
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = defaultWriteBufferSize
	}
	if o.MaxOpenFiles <= 0 {
		o.MaxOpenFiles = defaultMaxOpenFiles
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = defaultMaxFileSize
	}
	o.EventListener = o.EventListener.EnsureDefaults()
	if o.Logger == nil {
		o.Logger = os.Stderr
	}
	if o.metrics == nil {
		o.metrics = newMetrics()
	}
	return o
}

// Metrics returns the database's live metrics snapshot accessor.
func (o *Options) Metrics() *Metrics { return o.metrics }
