// Copyright 2017 Dgraph Labs, Inc. and Contributors
// Modifications copyright (C) 2017 Andy Kimball and Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

// Package arenaskl implements a concurrent-read, single-writer ordered set
// of byte-string keys backed by an arena, as described in spec.md §4.1: a
// skiplist whose nodes are never freed while the list lives, so concurrent
// readers may safely dereference stale pointers while the single writer
// publishes new nodes underneath them.
package arenaskl

import (
	"math/rand"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ErrRecordExists is returned by Insert when an equal key is already
// present. Per spec.md §4.1, callers are expected to guarantee this does
// not happen and may treat it as a programming error.
var ErrRecordExists = errors.New("riftdb: record with this key already exists")

// Comparer orders two raw keys. For the memtable, keys are encoded internal
// keys, so this is internal-key order (user-key asc, seq desc, kind desc).
type Comparer func(a, b []byte) int

const pBranching = 4 // promote with probability 1/pBranching

// Skiplist is an ordered set of keys allocated from an Arena. See the
// package doc for its concurrency contract.
type Skiplist struct {
	arena    *Arena
	comparer Comparer
	head     *node

	// height is the tallest tower among all inserted nodes so far. It is
	// only ever written by the single writer; spec.md calls for a relaxed
	// atomic store since readers load it too.
	height uint32
}

// NewSkiplist constructs an empty skiplist backed by arena, ordered by cmp.
func NewSkiplist(arena *Arena, cmp Comparer) *Skiplist {
	head, err := newNode(arena, maxHeight, nil, nil)
	if err != nil {
		panic("riftdb: arena too small to hold the head node")
	}
	return &Skiplist{arena: arena, comparer: cmp, head: head, height: 1}
}

// Height returns the tallest tower among all nodes ever inserted.
func (s *Skiplist) Height() uint32 { return atomic.LoadUint32(&s.height) }

// Arena returns the arena backing this skiplist.
func (s *Skiplist) Arena() *Arena { return s.arena }

// Insert adds key/value to the list. The caller must guarantee that no
// equal key is already present and must serialize Insert calls against all
// other writers; concurrent Contains/iteration is always safe.
func (s *Skiplist) Insert(key, value []byte) error {
	var prev [maxHeight]*node
	var next [maxHeight]*node
	if s.findSplice(key, &prev, &next) {
		return ErrRecordExists
	}

	height := s.randomHeight()
	nd, err := newNode(s.arena, height, key, value)
	if err != nil {
		return err
	}

	if height > s.Height() {
		atomic.StoreUint32(&s.height, height)
	}

	ndOffset := s.offsetOf(nd)
	// Link the new node in from the bottom level up. Each level's forward
	// pointer is published with a release store only after the node is
	// fully initialized, so a reader that observes the pointer via an
	// acquire load always sees a complete node.
	for i := 0; i < int(height); i++ {
		p := prev[i]
		if p == nil {
			p = s.head
		}
		var nextOffset uint32
		if n := next[i]; n != nil {
			nextOffset = s.offsetOf(n)
		}
		nd.setNextOffset(i, nextOffset)
		p.setNextOffset(i, ndOffset)
	}
	return nil
}

func (s *Skiplist) offsetOf(nd *node) uint32 {
	return s.arena.getPointerOffset(unsafe.Pointer(nd))
}

// Contains reports whether key is present. It is lock-free and safe to call
// concurrently with at most one in-flight Insert.
func (s *Skiplist) Contains(key []byte) bool {
	_, found := s.seek(key)
	return found
}

func (s *Skiplist) randomHeight() uint32 {
	h := uint32(1)
	for h < maxHeight && rand.Intn(pBranching) == 0 {
		h++
	}
	return h
}

// seek returns the first node whose key is >= the target, and whether that
// node's key is exactly equal to target.
func (s *Skiplist) seek(key []byte) (nd *node, found bool) {
	level := int(s.Height() - 1)
	prev := s.head
	for {
		var next *node
		prev, next, found = s.findSpliceForLevel(key, level, prev)
		if found {
			return next, true
		}
		if level == 0 {
			return next, false
		}
		level--
	}
}

// findSplice fills prev/next with, for every level, the nodes that would
// straddle key if it were inserted now. Returns true if key is already
// present.
func (s *Skiplist) findSplice(key []byte, prev, next *[maxHeight]*node) (found bool) {
	level := int(s.Height() - 1)
	p := s.head
	for {
		var n *node
		p, n, found = s.findSpliceForLevel(key, level, p)
		prev[level] = p
		next[level] = n
		if level == 0 {
			return found
		}
		level--
	}
}

func (s *Skiplist) findSpliceForLevel(key []byte, level int, start *node) (prev, next *node, found bool) {
	prev = start
	for {
		next = s.getNext(prev, level)
		if next == nil {
			return prev, nil, false
		}
		nextKey := next.getKey(s.arena)
		cmp := s.comparer(key, nextKey)
		if cmp == 0 {
			return prev, next, true
		}
		if cmp < 0 {
			return prev, next, false
		}
		prev = next
	}
}

func (s *Skiplist) getNext(nd *node, h int) *node {
	offset := nd.nextOffset(h)
	if offset == 0 {
		return nil
	}
	return (*node)(s.arena.getPointer(offset))
}

// NewIter returns a new Iterator over the list. The returned value is safe
// to copy by value.
func (s *Skiplist) NewIter() Iterator {
	return Iterator{list: s}
}
