// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"github.com/riftdb/riftdb/internal/base"
)

// mergingIterator merges a fixed set of internal iterators, all already
// sorted by internal key, into a single internal-key-ordered stream. Where
// several sources have the same current key, the one from the
// lowest-indexed source wins. NewIterator passes the memtable, then the
// immutable memtable, then level-0 files in increasing file-number order,
// then levels 1 and up; two sources only share an internal key when they
// hold the same write, since each write has its own sequence number.
type mergingIterator struct {
	ucmp    base.Comparer
	items   []base.InternalIterator
	cur     int
	reverse bool
}

func newMergingIterator(ucmp base.Comparer, iters ...base.InternalIterator) *mergingIterator {
	return &mergingIterator{ucmp: ucmp, items: iters, cur: -1}
}

func (m *mergingIterator) Close() error {
	var err error
	for _, it := range m.items {
		if cerr := it.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// findMin returns the index of the valid source with the smallest key
// (ties broken by lowest index), or -1 if none are valid.
func (m *mergingIterator) findMin() int {
	best := -1
	for i, it := range m.items {
		if !it.Valid() {
			continue
		}
		if best == -1 || base.InternalCompare(m.ucmp, it.Key(), m.items[best].Key()) < 0 {
			best = i
		}
	}
	return best
}

// findMax returns the index of the valid source with the largest key
// (ties broken by lowest index).
func (m *mergingIterator) findMax() int {
	best := -1
	for i, it := range m.items {
		if !it.Valid() {
			continue
		}
		if best == -1 || base.InternalCompare(m.ucmp, it.Key(), m.items[best].Key()) > 0 {
			best = i
		}
	}
	return best
}

func (m *mergingIterator) First() bool {
	m.reverse = false
	for _, it := range m.items {
		it.First()
	}
	m.cur = m.findMin()
	return m.cur >= 0
}

func (m *mergingIterator) Last() bool {
	m.reverse = true
	for _, it := range m.items {
		it.Last()
	}
	m.cur = m.findMax()
	return m.cur >= 0
}

func (m *mergingIterator) SeekGE(target []byte) bool {
	m.reverse = false
	for _, it := range m.items {
		it.SeekGE(target)
	}
	m.cur = m.findMin()
	return m.cur >= 0
}

func (m *mergingIterator) SeekLT(target []byte) bool {
	m.reverse = true
	for _, it := range m.items {
		it.SeekLT(target)
	}
	m.cur = m.findMax()
	return m.cur >= 0
}

func (m *mergingIterator) Next() bool {
	if m.cur < 0 {
		return false
	}
	if m.reverse {
		// Direction changed; re-synchronize every source at the current
		// key before resuming forward, since sources we weren't draining
		// may be positioned behind it.
		key := m.items[m.cur].Key()
		buf := make([]byte, key.Size())
		key.Encode(buf)
		for _, it := range m.items {
			it.SeekGE(buf)
		}
		m.reverse = false
	} else {
		key := m.items[m.cur].Key().Clone()
		// Advance every source currently positioned at key, not just the
		// winner, so a duplicate on another source is skipped too.
		for _, it := range m.items {
			if it.Valid() && base.InternalCompare(m.ucmp, it.Key(), key) == 0 {
				it.Next()
			}
		}
	}
	m.cur = m.findMin()
	return m.cur >= 0
}

func (m *mergingIterator) Prev() bool {
	if m.cur < 0 {
		return false
	}
	if !m.reverse {
		key := m.items[m.cur].Key()
		buf := make([]byte, key.Size())
		key.Encode(buf)
		for _, it := range m.items {
			it.SeekLT(buf)
		}
		m.reverse = true
	} else {
		key := m.items[m.cur].Key().Clone()
		for _, it := range m.items {
			if it.Valid() && base.InternalCompare(m.ucmp, it.Key(), key) == 0 {
				it.Prev()
			}
		}
	}
	m.cur = m.findMax()
	return m.cur >= 0
}

func (m *mergingIterator) Valid() bool { return m.cur >= 0 }

func (m *mergingIterator) Key() base.InternalKey { return m.items[m.cur].Key() }

func (m *mergingIterator) Value() []byte { return m.items[m.cur].Value() }

var _ base.InternalIterator = (*mergingIterator)(nil)
