// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/base"
)

func ikey(key string, seq uint64, kind base.InternalKeyKind) base.InternalKey {
	return base.MakeInternalKey([]byte(key), seq, kind)
}

func file(num uint64, smallestKey, largestKey string, seq uint64) *FileMetadata {
	return NewFileMetadata(num, 1024,
		ikey(smallestKey, seq, base.InternalKeyKindSet),
		ikey(largestKey, seq, base.InternalKeyKindSet))
}

func TestVersionOverlapsNonL0(t *testing.T) {
	v := &Version{}
	v.Files[1] = []*FileMetadata{
		file(1, "a", "c", 1),
		file(2, "e", "g", 1),
		file(3, "m", "p", 1),
	}
	got := v.Overlaps(1, base.DefaultComparer, []byte("f"), []byte("n"))
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].FileNum)
	require.Equal(t, uint64(3), got[1].FileNum)
}

func TestVersionOverlapsL0ExpandsAcrossOverlappingFiles(t *testing.T) {
	v := &Version{}
	v.Files[0] = []*FileMetadata{
		file(1, "a", "f", 1),
		file(2, "e", "k", 2),
		file(3, "z", "zz", 3),
	}
	// Searching [g, g] should pull in file 2 (overlaps g), then widen to
	// include file 1 (overlaps file 2's expanded range [e,k]).
	got := v.Overlaps(0, base.DefaultComparer, []byte("g"), []byte("g"))
	require.Len(t, got, 2)
}

func TestVersionCheckOrderingAcceptsWellFormedVersion(t *testing.T) {
	v := &Version{}
	v.Files[0] = []*FileMetadata{file(1, "a", "b", 1), file(2, "a", "z", 2)}
	v.Files[1] = []*FileMetadata{file(3, "a", "c", 1), file(4, "d", "f", 1)}
	require.NoError(t, v.CheckOrdering(base.DefaultComparer))
}

func TestVersionCheckOrderingRejectsOverlapAtNonZeroLevel(t *testing.T) {
	v := &Version{}
	v.Files[1] = []*FileMetadata{file(1, "a", "d", 1), file(2, "c", "f", 1)}
	require.Error(t, v.CheckOrdering(base.DefaultComparer))
}

func TestVersionCheckOrderingRejectsL0OutOfFileNumOrder(t *testing.T) {
	v := &Version{}
	v.Files[0] = []*FileMetadata{file(5, "a", "b", 1), file(2, "c", "d", 2)}
	require.Error(t, v.CheckOrdering(base.DefaultComparer))
}

func TestUpdateCompactionScorePrefersL0ByFileCount(t *testing.T) {
	v := &Version{}
	for i := uint64(1); i <= 8; i++ {
		v.Files[0] = append(v.Files[0], file(i, "a", "b", i))
	}
	v.UpdateCompactionScore()
	require.Equal(t, 0, v.CompactionLevel)
	require.GreaterOrEqual(t, v.CompactionScore, 1.0)
}

type sliceIterator struct {
	keys []base.InternalKey
	vals [][]byte
	pos  int
}

func (s *sliceIterator) Valid() bool { return s.pos >= 0 && s.pos < len(s.keys) }
func (s *sliceIterator) Key() base.InternalKey { return s.keys[s.pos] }
func (s *sliceIterator) Value() []byte         { return s.vals[s.pos] }
func (s *sliceIterator) Close() error          { return nil }
func (s *sliceIterator) First() bool           { s.pos = 0; return s.Valid() }
func (s *sliceIterator) Last() bool            { s.pos = len(s.keys) - 1; return s.Valid() }
func (s *sliceIterator) Next() bool            { s.pos++; return s.Valid() }
func (s *sliceIterator) Prev() bool            { s.pos--; return s.Valid() }
func (s *sliceIterator) SeekGE(target []byte) bool {
	t := base.DecodeInternalKey(target)
	for s.pos = 0; s.pos < len(s.keys); s.pos++ {
		if base.InternalCompare(base.DefaultComparer, s.keys[s.pos], t) >= 0 {
			return true
		}
	}
	return false
}
func (s *sliceIterator) SeekLT(target []byte) bool { panic("unused") }

type fakeFinder map[uint64]*sliceIterator

func (f fakeFinder) Find(fileNum uint64, ikey base.InternalKey) (base.InternalIterator, error) {
	src := f[fileNum]
	it := &sliceIterator{keys: src.keys, vals: src.vals}
	buf := make([]byte, ikey.Size())
	ikey.Encode(buf)
	it.SeekGE(buf)
	return it, nil
}

func TestVersionGetFindsHitInLevel1(t *testing.T) {
	v := &Version{}
	v.Files[1] = []*FileMetadata{file(1, "a", "m", 1)}

	finder := fakeFinder{
		1: {
			keys: []base.InternalKey{ikey("k", 1, base.InternalKeyKindSet)},
			vals: [][]byte{[]byte("value")},
		},
	}

	lookup := ikey("k", base.InternalKeySeqNumMax, base.InternalKeyKindMax)
	value, level, _, err := v.Get(lookup, base.DefaultComparer, finder)
	require.NoError(t, err)
	require.Equal(t, 1, level)
	require.Equal(t, []byte("value"), value)
}

func TestVersionGetReturnsErrNotFoundWhenAbsentEverywhere(t *testing.T) {
	v := &Version{}
	lookup := ikey("missing", base.InternalKeySeqNumMax, base.InternalKeyKindMax)
	_, _, _, err := v.Get(lookup, base.DefaultComparer, fakeFinder{})
	require.Equal(t, ErrNotFound, err)
}

func TestVersionGetHonorsDeleteTombstone(t *testing.T) {
	v := &Version{}
	v.Files[1] = []*FileMetadata{file(1, "a", "m", 1)}

	finder := fakeFinder{
		1: {
			keys: []base.InternalKey{ikey("k", 1, base.InternalKeyKindDelete)},
			vals: [][]byte{nil},
		},
	}

	lookup := ikey("k", base.InternalKeySeqNumMax, base.InternalKeyKindMax)
	_, _, _, err := v.Get(lookup, base.DefaultComparer, finder)
	require.Equal(t, ErrNotFound, err)
}

func TestFileMetadataSeekBudgetTriggersCompaction(t *testing.T) {
	f := NewFileMetadata(1, 1024, ikey("a", 1, base.InternalKeyKindSet), ikey("z", 1, base.InternalKeyKindSet))
	require.False(t, f.NeedsSeekCompaction())
	for i := 0; i < minAllowedSeeks-1; i++ {
		require.False(t, f.RecordSeekMiss())
	}
	require.True(t, f.RecordSeekMiss())
	require.True(t, f.NeedsSeekCompaction())
}

func TestVersionCloneIsIndependent(t *testing.T) {
	v := &Version{}
	v.Files[0] = []*FileMetadata{file(1, "a", "b", 1)}
	nv := v.Clone()
	nv.Files[0] = append(nv.Files[0], file(2, "c", "d", 1))
	require.Len(t, v.Files[0], 1)
	require.Len(t, nv.Files[0], 2)
}
