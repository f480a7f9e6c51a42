// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

// InternalIterator iterates over internal keys in internal-key order. It is
// the common interface implemented by the memtable's skip-list iterator, the
// sstable block iterator, and the merging/concatenating iterators built on
// top of them.
type InternalIterator interface {
	// SeekGE moves to the first key >= target.
	SeekGE(target []byte) bool
	// SeekLT moves to the last key < target.
	SeekLT(target []byte) bool
	// First moves to the first key.
	First() bool
	// Last moves to the last key.
	Last() bool
	// Next moves to the next key. Valid must be true before calling.
	Next() bool
	// Prev moves to the previous key. Valid must be true before calling.
	Prev() bool
	// Valid reports whether the iterator is positioned at a valid key.
	Valid() bool
	// Key returns the current internal key. Only valid to call when Valid.
	Key() InternalKey
	// Value returns the current value. Only valid to call when Valid.
	Value() []byte
	// Close releases resources associated with the iterator.
	Close() error
}
