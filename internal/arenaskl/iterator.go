// Copyright 2017 Dgraph Labs, Inc. and Contributors
// Modifications copyright (C) 2017 Andy Kimball and Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package arenaskl

// Iterator walks a Skiplist in key order. The zero value is not usable;
// obtain one from Skiplist.NewIter. It is safe to copy by value and safe to
// use concurrently with a single in-flight writer on the underlying list.
type Iterator struct {
	list *Skiplist
	nd   *node
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.nd != nil }

// Key returns the raw key at the iterator's current position.
func (it *Iterator) Key() []byte { return it.nd.getKey(it.list.arena) }

// Value returns the value at the iterator's current position.
func (it *Iterator) Value() []byte { return it.nd.getValue(it.list.arena) }

// First positions the iterator at the smallest key in the list.
func (it *Iterator) First() {
	it.nd = it.list.getNext(it.list.head, 0)
}

// Last positions the iterator at the largest key in the list.
//
// The underlying skiplist only links nodes forward, so reaching the last
// node costs a walk from the head at the top level down, same as Seek. This
// mirrors spec.md's note that Prev on the memtable iterator need not be
// O(1): memtable iteration is a minority path compared to forward scans
// during flush.
func (it *Iterator) Last() {
	nd := it.list.head
	level := int(it.list.Height() - 1)
	for {
		next := it.list.getNext(nd, level)
		if next == nil {
			if level == 0 {
				break
			}
			level--
			continue
		}
		nd = next
	}
	if nd == it.list.head {
		it.nd = nil
		return
	}
	it.nd = nd
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	nd, _ := it.list.seek(target)
	it.nd = nd
}

// Next advances to the next key in the list. Valid must be true.
func (it *Iterator) Next() {
	it.nd = it.list.getNext(it.nd, 0)
}

// Prev moves to the last key strictly less than the iterator's current key.
// The arena skip list only threads forward pointers, so unlike Next this is
// a fresh O(log n) descent from the head rather than a pointer hop; per
// spec.md §4.1 this tradeoff is deliberate, since the memtable's write and
// flush paths never need backward iteration and only user-facing reverse
// scans pay for it.
func (it *Iterator) Prev() {
	if it.nd == nil {
		return
	}
	key := it.nd.getKey(it.list.arena)

	var last *node
	level := int(it.list.Height() - 1)
	nd := it.list.head
	for {
		next := it.list.getNext(nd, level)
		if next != nil && it.list.comparer(next.getKey(it.list.arena), key) < 0 {
			nd = next
			continue
		}
		if nd != it.list.head {
			last = nd
		}
		if level == 0 {
			break
		}
		level--
	}
	it.nd = last
}
