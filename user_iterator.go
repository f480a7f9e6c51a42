// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
)

// Iterator is the user-facing cursor spec.md §4.8's NewIterator describes:
// a merging iterator over mem, imm, and every level's files, translated to
// user keys with duplicate versions and deletions collapsed down to at most
// one live record per user key, as of the pinned sequence number.
type Iterator struct {
	db     *DB
	merged *mergingIterator
	ucmp   base.Comparer
	seqNum uint64

	mem *memTable
	imm *memTable
	ver *manifest.Version

	valid bool
	key   []byte
	value []byte

	closed bool
}

func (it *Iterator) Valid() bool { return it.valid }

func (it *Iterator) Key() []byte { return it.key }

func (it *Iterator) Value() []byte { return it.value }

// Close releases the iterator's pinned memtables and Version.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.merged.Close()
	it.db.releasePins(it.mem, it.imm, it.ver)
	return err
}

func (it *Iterator) First() bool {
	it.merged.First()
	return it.settleForward()
}

func (it *Iterator) Last() bool {
	it.merged.Last()
	return it.settleBackward()
}

func (it *Iterator) Next() bool {
	if !it.valid {
		return false
	}
	return it.settleForward()
}

func (it *Iterator) Prev() bool {
	if !it.valid {
		return false
	}
	return it.settleBackward()
}

// SeekGE positions the iterator at the first live user key >= target.
func (it *Iterator) SeekGE(target []byte) bool {
	lookup := base.MakeInternalKey(target, it.seqNum, base.InternalKeyKindMax)
	buf := make([]byte, lookup.Size())
	lookup.Encode(buf)
	it.merged.SeekGE(buf)
	return it.settleForward()
}

// SeekLT positions the iterator at the last live user key < target.
func (it *Iterator) SeekLT(target []byte) bool {
	lookup := base.MakeInternalKey(target, it.seqNum, base.InternalKeyKindMax)
	buf := make([]byte, lookup.Size())
	lookup.Encode(buf)
	it.merged.SeekLT(buf)
	// A record of target itself newer than the pinned snapshot sorts
	// before the lookup key too; skip any remaining records of target's
	// own user key before collapsing the (necessarily smaller) group
	// SeekLT is actually supposed to land on.
	for it.merged.Valid() && it.ucmp.Compare(it.merged.Key().UserKey, target) == 0 {
		it.merged.Prev()
	}
	return it.settleBackward()
}

// settleForward collapses zero or more user-key groups, starting from
// wherever merged is currently positioned, until it finds one with a live
// (non-deleted, visible-at-seqNum) record or runs out of input.
func (it *Iterator) settleForward() bool {
	for it.merged.Valid() {
		ukey, value, live, ok := it.collapseGroupForward()
		if !ok {
			break
		}
		if live {
			it.key, it.value, it.valid = ukey, value, true
			return true
		}
	}
	it.valid = false
	return false
}

func (it *Iterator) settleBackward() bool {
	for it.merged.Valid() {
		ukey, value, live, ok := it.collapseGroupReverse()
		if !ok {
			break
		}
		if live {
			it.key, it.value, it.valid = ukey, value, true
			return true
		}
	}
	it.valid = false
	return false
}

// collapseGroupForward consumes every record of the user key merged is
// currently positioned at (forward order yields a key's records newest
// sequence first), keeping the first one visible at seqNum, and leaves
// merged positioned at the next (greater) user key's first record.
func (it *Iterator) collapseGroupForward() (ukey, value []byte, live, ok bool) {
	if !it.merged.Valid() {
		return nil, nil, false, false
	}
	ukey = append([]byte(nil), it.merged.Key().UserKey...)
	found := false
	for it.merged.Valid() && it.ucmp.Compare(it.merged.Key().UserKey, ukey) == 0 {
		k := it.merged.Key()
		if !found && k.SeqNum() <= it.seqNum {
			value = it.merged.Value()
			live = k.Kind() == base.InternalKeyKindSet
			found = true
		}
		it.merged.Next()
	}
	return ukey, value, found && live, true
}

// collapseGroupReverse is collapseGroupForward's mirror: reverse order
// yields a key's records oldest sequence first, so the last one with
// seq <= seqNum seen before the group ends is the newest visible version.
func (it *Iterator) collapseGroupReverse() (ukey, value []byte, live, ok bool) {
	if !it.merged.Valid() {
		return nil, nil, false, false
	}
	ukey = append([]byte(nil), it.merged.Key().UserKey...)
	found := false
	for it.merged.Valid() && it.ucmp.Compare(it.merged.Key().UserKey, ukey) == 0 {
		k := it.merged.Key()
		if k.SeqNum() <= it.seqNum {
			value = it.merged.Value()
			live = k.Kind() == base.InternalKeyKindSet
			found = true
		}
		it.merged.Prev()
	}
	return ukey, value, found && live, true
}
