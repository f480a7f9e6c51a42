// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"sync/atomic"

	"github.com/riftdb/riftdb/internal/arenaskl"
	"github.com/riftdb/riftdb/internal/base"
)

// memTable implements the in-memory layer of the LSM (spec.md §4.2): a
// mutable, append-only skip list of internal keys backed by a fixed-size
// arena, so a memTable's footprint is bounded at the time of its creation.
//
// apply is safe to call concurrently with get and newIter, but a memTable
// has a single writer at a time — concurrent apply calls must be
// serialized by the caller (the commit pipeline does this).
type memTable struct {
	ucmp      base.Comparer
	skl       arenaskl.Skiplist
	emptySize uint32
	refs      int32
	flushedCh chan struct{}
}

// newMemTable returns an empty memTable with capacity writeBufferSize,
// ready for apply.
func newMemTable(ucmp base.Comparer, writeBufferSize int) *memTable {
	m := &memTable{
		ucmp:      ucmp,
		refs:      0,
		flushedCh: make(chan struct{}),
	}
	arena := arenaskl.NewArena(uint32(writeBufferSize))
	icmp := base.InternalKeyComparer{UserComparer: ucmp}
	m.skl = *arenaskl.NewSkiplist(arena, icmp.Compare)
	m.emptySize = arena.Size()
	return m
}

func (m *memTable) ref() {
	atomic.AddInt32(&m.refs, 1)
}

// unref drops a reference and reports whether no reference remains, the
// condition readyForFlush reports. A new memTable starts with none.
func (m *memTable) unref() bool {
	switch v := atomic.AddInt32(&m.refs, -1); {
	case v < 0:
		panic("riftdb: inconsistent memtable reference count")
	case v == 0:
		return true
	default:
		return false
	}
}

func (m *memTable) readyForFlush() bool {
	return atomic.LoadInt32(&m.refs) == 0
}

func (m *memTable) flushed() chan struct{} { return m.flushedCh }

// hasRoom reports whether the memtable's arena has not yet reached its
// configured capacity (spec.md §4.4's "memtable has room" check).
func (m *memTable) hasRoom() bool {
	return m.skl.Arena().Size() < m.skl.Arena().Capacity()
}

// empty reports whether the memTable holds no key/value pairs.
func (m *memTable) empty() bool {
	return m.skl.Arena().Size() == m.emptySize
}

// get looks up key as of seqNum, the highest sequence number visible to
// the reader (spec.md §4.8's snapshot semantics applied to the memtable
// layer). conclusive is false when the memtable has no entry for key at or
// below seqNum, meaning the caller must keep searching older sources.
func (m *memTable) get(key []byte, seqNum uint64) (value []byte, conclusive bool, err error) {
	lookup := base.MakeInternalKey(key, seqNum, base.InternalKeyKindMax)
	buf := make([]byte, lookup.Size())
	lookup.Encode(buf)

	it := m.skl.NewIter()
	it.Seek(buf)
	if !it.Valid() {
		return nil, false, nil
	}
	ikey := base.DecodeInternalKey(it.Key())
	if m.ucmp.Compare(key, ikey.UserKey) != 0 {
		return nil, false, nil
	}
	if ikey.Kind() == base.InternalKeyKindDelete {
		return nil, true, ErrNotFound
	}
	return it.Value(), true, nil
}

// apply inserts every record of batch into the memtable, assigning
// consecutive sequence numbers starting at seqNum. The caller (the commit
// pipeline) has already reserved space for the batch and holds the
// exclusive right to mutate this memtable.
func (m *memTable) apply(batch *Batch, seqNum uint64) error {
	startSeqNum := seqNum
	n := uint32(0)
	for iter := batch.iter(); ; seqNum++ {
		kind, ukey, value, ok := iter.next()
		if !ok {
			break
		}
		ikey := base.MakeInternalKey(ukey, seqNum, kind)
		buf := make([]byte, ikey.Size())
		ikey.Encode(buf)
		if err := m.skl.Insert(buf, value); err != nil {
			return err
		}
		n++
	}
	if uint32(seqNum-startSeqNum) != n || n != uint32(batch.Count()) {
		panic("riftdb: inconsistent batch count")
	}
	return nil
}

// newIter returns an unpositioned iterator over the memtable's internal
// keys.
func (m *memTable) newIter() base.InternalIterator {
	it := m.skl.NewIter()
	return &memTableIterator{it: it, ucmp: m.ucmp}
}

// memTableIterator adapts arenaskl.Iterator (whose Seek/Next/Prev operate
// on raw encoded keys) to base.InternalIterator.
type memTableIterator struct {
	it   arenaskl.Iterator
	ucmp base.Comparer
}

func (it *memTableIterator) Valid() bool { return it.it.Valid() }

func (it *memTableIterator) Key() base.InternalKey { return base.DecodeInternalKey(it.it.Key()) }

func (it *memTableIterator) Value() []byte { return it.it.Value() }

func (it *memTableIterator) Close() error { return nil }

func (it *memTableIterator) First() bool {
	it.it.First()
	return it.it.Valid()
}

func (it *memTableIterator) Last() bool {
	it.it.Last()
	return it.it.Valid()
}

func (it *memTableIterator) Next() bool {
	it.it.Next()
	return it.it.Valid()
}

func (it *memTableIterator) Prev() bool {
	it.it.Prev()
	return it.it.Valid()
}

func (it *memTableIterator) SeekGE(target []byte) bool {
	it.it.Seek(target)
	return it.it.Valid()
}

// SeekLT moves to the last key strictly less than target: seek to the
// first key >= target, then step back one.
func (it *memTableIterator) SeekLT(target []byte) bool {
	it.it.Seek(target)
	if it.it.Valid() {
		it.it.Prev()
	} else {
		it.it.Last()
	}
	return it.it.Valid()
}
