// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/sstable"
)

// levelIterator concatenates the per-table iterators of one level ≥1 into a
// single internal-key-ordered stream, relying on the level's files being
// sorted and pairwise non-overlapping (spec.md §3 invariant 1) so that
// exhausting one file's iterator and moving to the next never revisits or
// skips a key (spec.md §4.7's "two-level concatenating iterator").
type levelIterator struct {
	cache *sstable.Cache
	ucmp  base.Comparer
	files []*manifest.FileMetadata

	idx int // index of the file the open iterator belongs to, -1 if none
	it  base.InternalIterator
	err error
}

func newLevelIterator(cache *sstable.Cache, ucmp base.Comparer, files []*manifest.FileMetadata) (*levelIterator, error) {
	return &levelIterator{cache: cache, ucmp: ucmp, files: files, idx: -1}, nil
}

func (l *levelIterator) switchTo(i int) bool {
	if l.idx == i {
		return l.it != nil
	}
	if l.it != nil {
		l.it.Close()
		l.it = nil
	}
	l.idx = i
	if i < 0 || i >= len(l.files) {
		return false
	}
	it, err := l.cache.NewIterator(l.files[i].FileNum)
	if err != nil {
		l.err = err
		return false
	}
	l.it = it
	return true
}

func (l *levelIterator) Close() error {
	if l.it != nil {
		return l.it.Close()
	}
	return nil
}

func (l *levelIterator) Valid() bool { return l.err == nil && l.it != nil && l.it.Valid() }

func (l *levelIterator) Key() base.InternalKey { return l.it.Key() }

func (l *levelIterator) Value() []byte { return l.it.Value() }

func (l *levelIterator) First() bool {
	for i := 0; i < len(l.files); i++ {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.First() {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

func (l *levelIterator) Last() bool {
	for i := len(l.files) - 1; i >= 0; i-- {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.Last() {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

func (l *levelIterator) Next() bool {
	if l.it == nil {
		return false
	}
	if l.it.Next() {
		return true
	}
	for i := l.idx + 1; i < len(l.files); i++ {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.First() {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

func (l *levelIterator) Prev() bool {
	if l.it == nil {
		return false
	}
	if l.it.Prev() {
		return true
	}
	for i := l.idx - 1; i >= 0; i-- {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.Last() {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

// findFileForward returns the index of the first file whose range could
// hold an internal key >= target, or len(files) if none.
func (l *levelIterator) findFileForward(ucmp base.Comparer, target base.InternalKey) int {
	lo, hi := 0, len(l.files)
	for lo < hi {
		mid := (lo + hi) / 2
		if base.InternalCompare(ucmp, l.files[mid].Largest, target) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func (l *levelIterator) SeekGE(target []byte) bool {
	tkey := base.DecodeInternalKey(target)
	ucmp := l.ucmp
	i := l.findFileForward(ucmp, tkey)
	for ; i < len(l.files); i++ {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.SeekGE(target) {
			return true
		}
		if l.it.First() {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

func (l *levelIterator) SeekLT(target []byte) bool {
	tkey := base.DecodeInternalKey(target)
	ucmp := l.ucmp
	i := l.findFileForward(ucmp, tkey)
	if i == len(l.files) {
		i = len(l.files) - 1
	}
	for ; i >= 0; i-- {
		if !l.switchTo(i) {
			if l.err != nil {
				return false
			}
			continue
		}
		if l.it.SeekLT(target) {
			return true
		}
	}
	l.switchTo(-1)
	return false
}

var _ base.InternalIterator = (*levelIterator)(nil)
