// Copyright 2017 Dgraph Labs, Inc. and Contributors
// Modifications copyright (C) 2017 Andy Kimball and Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package arenaskl

import (
	"sync/atomic"
	"unsafe"
)

const maxHeight = 12

var maxNodeSize = uint32(unsafe.Sizeof(node{}))

// node is a single entry in the skiplist. Everything but the tower of next
// pointers is immutable once the node is published; the tower entries are
// written exactly once each (there is no deletion), by the single writer,
// with a release store, and read by concurrently running readers with an
// acquire load.
type node struct {
	keyOffset   uint32
	keySize     uint32
	valueOffset uint32
	valueSize   uint32
	height      uint32

	// tower[i] holds the arena offset of the next node at level i. Only the
	// first `height` entries are meaningful; the node's arena allocation is
	// trimmed to that many levels.
	tower [maxHeight]uint32
}

func newNode(arena *Arena, height uint32, key, value []byte) (nd *node, err error) {
	if height < 1 || height > maxHeight {
		panic("riftdb: height out of range")
	}
	unusedSize := uint32(maxHeight-height) * 4
	nodeSize := maxNodeSize - unusedSize

	keySize := uint32(len(key))
	valSize := uint32(len(value))

	nodeOffset, err := arena.alloc(nodeSize+keySize+valSize, align4)
	if err != nil {
		return nil, err
	}

	nd = (*node)(arena.getPointer(nodeOffset))
	nd.height = height
	nd.keyOffset = nodeOffset + nodeSize
	nd.keySize = keySize
	nd.valueOffset = nd.keyOffset + keySize
	nd.valueSize = valSize
	copy(arena.getBytes(nd.keyOffset, keySize), key)
	copy(arena.getBytes(nd.valueOffset, valSize), value)
	return nd, nil
}

func (n *node) getKey(arena *Arena) []byte {
	return arena.getBytes(n.keyOffset, n.keySize)
}

func (n *node) getValue(arena *Arena) []byte {
	return arena.getBytes(n.valueOffset, n.valueSize)
}

// nextOffset performs an acquire load of the level-h forward pointer.
func (n *node) nextOffset(h int) uint32 {
	return atomic.LoadUint32(&n.tower[h])
}

// setNextOffset performs a release store of the level-h forward pointer,
// publishing the node it points to. Only ever called by the single writer,
// and only once per (node, level) pair, since there are no updates to an
// existing node's tower once installed.
func (n *node) setNextOffset(h int, offset uint32) {
	atomic.StoreUint32(&n.tower[h], offset)
}
