// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manifest holds the Version/VersionEdit/VersionSet machinery of
// spec.md §3 and §4.9: the durable log of file-layout deltas and the
// refcounted, immutable snapshots of the level vector it produces.
package manifest

import (
	"sort"
	"sync/atomic"

	"github.com/riftdb/riftdb/internal/base"
)

// NumLevels is the fixed level count L spec.md §3 fixes at 7.
const NumLevels = 7

// bytesPerSeek is the size, in bytes, that buys one allowed seek before a
// file becomes a seek-compaction candidate (spec.md §3: "one unit per
// ≈16 KB, clamped to ≥100").
const bytesPerSeek = 16 * 1024

// minAllowedSeeks is the floor spec.md §3 places on the initial seek
// budget, so that even a tiny file survives a few misses before becoming
// a compaction candidate.
const minAllowedSeeks = 100

// FileMetadata describes one on-disk table file, as spec.md §3 defines it.
type FileMetadata struct {
	FileNum  uint64
	Size     uint64
	Smallest base.InternalKey
	Largest  base.InternalKey

	// allowedSeeks counts down from its initial budget on every seek miss
	// attributed to this file (see Get in the db package); it is decremented
	// without a floor, so it can go below zero, and a file at or below 0 is
	// a seek-compaction candidate.
	allowedSeeks int64
}

// NewFileMetadata constructs a FileMetadata with its seek budget
// initialized per spec.md §3.
func NewFileMetadata(fileNum, size uint64, smallest, largest base.InternalKey) *FileMetadata {
	seeks := int64(size / bytesPerSeek)
	if seeks < minAllowedSeeks {
		seeks = minAllowedSeeks
	}
	return &FileMetadata{
		FileNum:      fileNum,
		Size:         size,
		Smallest:     smallest,
		Largest:      largest,
		allowedSeeks: seeks,
	}
}

// InitSeeks sets the file's seek budget from its size per spec.md §3, if
// it has not already been set. VersionEdit's wire format never persists
// allowed_seeks (it is a runtime heuristic, not durable state), so every
// file decoded off a manifest needs this called once before use.
func (m *FileMetadata) InitSeeks() {
	if m.allowedSeeks != 0 {
		return
	}
	seeks := int64(m.Size / bytesPerSeek)
	if seeks < minAllowedSeeks {
		seeks = minAllowedSeeks
	}
	m.allowedSeeks = seeks
}

// RecordSeekMiss decrements the file's seek budget and reports whether it
// just reached zero, the trigger for a seek compaction.
func (m *FileMetadata) RecordSeekMiss() bool {
	return atomic.AddInt64(&m.allowedSeeks, -1) == 0
}

// NeedsSeekCompaction reports whether the file's seek budget is exhausted.
func (m *FileMetadata) NeedsSeekCompaction() bool {
	return atomic.LoadInt64(&m.allowedSeeks) <= 0
}

// TotalSize sums the size of every file in f.
func TotalSize(f []*FileMetadata) (size uint64) {
	for _, m := range f {
		size += m.Size
	}
	return size
}

type byFileNum []*FileMetadata

func (b byFileNum) Len() int           { return len(b) }
func (b byFileNum) Less(i, j int) bool { return b[i].FileNum < b[j].FileNum }
func (b byFileNum) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }

// SortByFileNum sorts f in place by increasing file number, the order
// level-0 files must always be kept in.
func SortByFileNum(f []*FileMetadata) { sort.Sort(byFileNum(f)) }

type bySmallest struct {
	dat []*FileMetadata
	cmp base.Comparer
}

func (b bySmallest) Len() int { return len(b.dat) }
func (b bySmallest) Less(i, j int) bool {
	return base.InternalCompare(b.cmp, b.dat[i].Smallest, b.dat[j].Smallest) < 0
}
func (b bySmallest) Swap(i, j int) { b.dat[i], b.dat[j] = b.dat[j], b.dat[i] }

// SortBySmallest sorts f in place by increasing smallest internal key, the
// order files at levels ≥1 must always be kept in.
func SortBySmallest(f []*FileMetadata, cmp base.Comparer) {
	sort.Sort(bySmallest{f, cmp})
}
