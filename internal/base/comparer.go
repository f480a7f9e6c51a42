// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import "bytes"

// Comparer defines a total ordering over the space of []byte user keys: a
// 'less than' relationship. The same comparison algorithm must be used for
// reads and writes over the lifetime of a DB.
type Comparer interface {
	Compare(a, b []byte) int

	// Name identifies the comparer. It is stored in the MANIFEST, and an
	// attempt to open a database with a different comparer name fails.
	Name() string
}

// DefaultComparer is the default implementation of the Comparer interface.
// It uses the natural ordering of bytes.Compare.
var DefaultComparer Comparer = bytewiseComparer{}

type bytewiseComparer struct{}

func (bytewiseComparer) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (bytewiseComparer) Name() string            { return "riftdb.BytewiseComparator" }
