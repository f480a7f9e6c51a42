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

	"github.com/cockroachdb/errors"
)

// ErrArenaFull is returned when an allocation would overflow the arena. The
// memtable owner treats this as a signal to freeze the memtable and flush.
var ErrArenaFull = errors.New("riftdb: arena full")

const align4 = 4

// Arena is a fixed-size append-only byte buffer that backs a single
// skiplist. Nodes and their keys/values are allocated from it and are never
// freed individually; the whole arena is discarded at once when the
// memtable it backs is destroyed. That "never freed while the list lives"
// property is what lets concurrent readers dereference node pointers
// without risk of use-after-free.
type Arena struct {
	buf a_buf
	n   uint32 // atomic; bytes allocated so far
}

type a_buf []byte

// NewArena allocates a new arena of the given size.
func NewArena(size uint32) *Arena {
	return &Arena{buf: make(a_buf, size), n: 1}
}

// Size returns the number of bytes allocated from the arena so far.
func (a *Arena) Size() uint32 { return atomic.LoadUint32(&a.n) }

// Capacity returns the total size of the arena.
func (a *Arena) Capacity() uint32 { return uint32(len(a.buf)) }

// alloc reserves size bytes, aligned to align, and returns their offset.
func (a *Arena) alloc(size, align uint32) (uint32, error) {
	padded := size + align - 1

	newSize := atomic.AddUint32(&a.n, padded)
	if int(newSize) > len(a.buf) {
		return 0, ErrArenaFull
	}

	offset := (newSize - padded + align - 1) &^ (align - 1)
	return offset, nil
}

func (a *Arena) getBytes(offset uint32, size uint32) []byte {
	if offset == 0 {
		return nil
	}
	return a.buf[offset : offset+size : offset+size]
}

func (a *Arena) getPointer(offset uint32) unsafe.Pointer {
	if offset == 0 {
		return nil
	}
	return unsafe.Pointer(&a.buf[offset])
}

func (a *Arena) getPointerOffset(ptr unsafe.Pointer) uint32 {
	if ptr == nil {
		return 0
	}
	return uint32(uintptr(ptr) - uintptr(unsafe.Pointer(&a.buf[0])))
}
