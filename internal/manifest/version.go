// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/base"
)

// ErrNotFound is returned by Version.Get and the table-finder contract when
// a key is conclusively absent.
var ErrNotFound = errors.New("riftdb: not found")

// Version is an immutable snapshot of the file layout at every level, as
// spec.md §3 defines it: level 0 may overlap freely (sorted by increasing
// file number, which is also increasing sequence order); levels ≥1 are
// sorted by key range and pairwise disjoint (invariant 1).
type Version struct {
	Files [NumLevels][]*FileMetadata

	// refs pins the version alive while any iterator or compaction is
	// using it (spec.md §3 "Versions are refcounted").
	refs int32

	// CompactionScore/CompactionLevel are computed once at install time by
	// UpdateCompactionScore, per spec.md §4.6.
	CompactionScore float64
	CompactionLevel int

	// prev/next thread every live Version into VersionSet's circular list,
	// per the teacher's design, so compaction and iteration can walk all
	// versions a snapshot might still be pinning.
	prev, next *Version
}

// Ref increments the version's reference count.
func (v *Version) Ref() { atomic.AddInt32(&v.refs, 1) }

// Unref decrements the version's reference count and reports whether it
// reached zero.
func (v *Version) Unref() bool { return atomic.AddInt32(&v.refs, -1) == 0 }

// Refs reports the current reference count, for diagnostics.
func (v *Version) Refs() int32 { return atomic.LoadInt32(&v.refs) }

// UpdateCompactionScore computes v.CompactionScore/CompactionLevel per
// spec.md §4.6: level 0 scores on file count (num_files/4); levels ≥1
// score on total bytes against a threshold that grows by 10x per level.
func (v *Version) UpdateCompactionScore() {
	const l0CompactionTrigger = 4
	v.CompactionScore = float64(len(v.Files[0])) / l0CompactionTrigger
	v.CompactionLevel = 0

	maxBytes := float64(10 * 1024 * 1024)
	for level := 1; level < NumLevels-1; level++ {
		score := float64(TotalSize(v.Files[level])) / maxBytes
		if score > v.CompactionScore {
			v.CompactionScore = score
			v.CompactionLevel = level
		}
		maxBytes *= 10
	}
}

// Overlaps returns the files at level whose user-key range intersects
// [ukey0, ukey1]. At level 0, since files may overlap each other, the
// search range is grown to the union of matches found so far and repeated
// until it stabilizes (spec.md §4.6 "extend the input set to the whole
// overlapping range at level 0").
func (v *Version) Overlaps(level int, ucmp base.Comparer, ukey0, ukey1 []byte) []*FileMetadata {
	var ret []*FileMetadata
loop:
	for {
		for _, f := range v.Files[level] {
			m0, m1 := f.Smallest.UserKey, f.Largest.UserKey
			if ucmp.Compare(m1, ukey0) < 0 || ucmp.Compare(m0, ukey1) > 0 {
				continue
			}
			ret = append(ret, f)
			if level != 0 {
				continue
			}
			restart := false
			if ucmp.Compare(m0, ukey0) < 0 {
				ukey0 = m0
				restart = true
			}
			if ucmp.Compare(m1, ukey1) > 0 {
				ukey1 = m1
				restart = true
			}
			if restart {
				ret = ret[:0]
				continue loop
			}
		}
		return ret
	}
}

// CheckOrdering validates invariant 1: level-0 files increase by file
// number; files at levels ≥1 are strictly ordered and non-overlapping.
func (v *Version) CheckOrdering(ucmp base.Comparer) error {
	for level, files := range v.Files {
		if level == 0 {
			var prev uint64
			for i, f := range files {
				if i != 0 && prev >= f.FileNum {
					return errors.Newf("riftdb: level 0 files out of fileNum order: %d, %d", prev, f.FileNum)
				}
				prev = f.FileNum
			}
			continue
		}
		var prevLargest base.InternalKey
		for i, f := range files {
			if i != 0 && base.InternalCompare(ucmp, prevLargest, f.Smallest) >= 0 {
				return errors.Newf("riftdb: level %d files overlap or are out of order", level)
			}
			if base.InternalCompare(ucmp, f.Smallest, f.Largest) > 0 {
				return errors.Newf("riftdb: level %d file has inverted bounds", level)
			}
			prevLargest = f.Largest
		}
	}
	return nil
}

// TableFinder opens an iterator positioned at or after ikey within the
// named file, the Version.Get half of the table cache contract described
// in spec.md §6.
type TableFinder interface {
	Find(fileNum uint64, ikey base.InternalKey) (base.InternalIterator, error)
}

// Get implements the Version-probe step of spec.md §4.8: scan level 0
// newest-file-first, then binary search each level ≥1 for the one file
// whose range could hold ukey, stopping at the first conclusive result.
// hitLevel reports which level answered (-1 if none did); sawL0Miss
// reports whether an L0 file was consulted and missed before the hit, the
// signal the caller uses to charge a seek (spec.md §4.8 step 5).
func (v *Version) Get(ikey base.InternalKey, ucmp base.Comparer, finder TableFinder) (value []byte, hitLevel int, sawL0Miss *FileMetadata, err error) {
	ukey := ikey.UserKey

	for i := len(v.Files[0]) - 1; i >= 0; i-- {
		f := v.Files[0][i]
		if ucmp.Compare(ukey, f.Smallest.UserKey) < 0 {
			continue
		}
		if base.InternalCompare(ucmp, ikey, f.Largest) > 0 {
			continue
		}
		iter, ferr := finder.Find(f.FileNum, ikey)
		if ferr != nil {
			return nil, -1, nil, errors.Wrapf(ferr, "riftdb: could not open table %d", f.FileNum)
		}
		value, conclusive, gerr := internalGet(iter, ucmp, ukey)
		if conclusive {
			return value, 0, sawL0Miss, gerr
		}
		if sawL0Miss == nil {
			sawL0Miss = f
		}
	}

	for level := 1; level < len(v.Files); level++ {
		files := v.Files[level]
		n := len(files)
		if n == 0 {
			continue
		}
		index := sortSearch(n, func(i int) bool {
			return base.InternalCompare(ucmp, files[i].Largest, ikey) >= 0
		})
		if index == n {
			continue
		}
		f := files[index]
		if ucmp.Compare(ukey, f.Smallest.UserKey) < 0 {
			continue
		}
		iter, ferr := finder.Find(f.FileNum, ikey)
		if ferr != nil {
			return nil, -1, nil, errors.Wrapf(ferr, "riftdb: could not open table %d", f.FileNum)
		}
		value, conclusive, gerr := internalGet(iter, ucmp, ukey)
		if conclusive {
			return value, level, sawL0Miss, gerr
		}
	}
	return nil, -1, sawL0Miss, ErrNotFound
}

func internalGet(t base.InternalIterator, ucmp base.Comparer, ukey []byte) (value []byte, conclusive bool, err error) {
	defer t.Close()
	if !t.Valid() {
		return nil, false, nil
	}
	ikey0 := t.Key()
	if ucmp.Compare(ukey, ikey0.UserKey) != 0 {
		return nil, false, nil
	}
	if ikey0.Kind() == base.InternalKeyKindDelete {
		return nil, true, ErrNotFound
	}
	return t.Value(), true, nil
}

// sortSearch mirrors sort.Search without importing it just for this.
func sortSearch(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if !f(mid) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Clone returns a shallow copy of v's file slices, used as the starting
// point for applying a VersionEdit (each level's slice is a fresh copy so
// the edit can add/remove without mutating the version it was cloned
// from).
func (v *Version) Clone() *Version {
	nv := &Version{}
	for i := range v.Files {
		if len(v.Files[i]) == 0 {
			continue
		}
		nv.Files[i] = append([]*FileMetadata(nil), v.Files[i]...)
	}
	return nv
}
