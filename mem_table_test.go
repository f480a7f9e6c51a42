// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/base"
)

func TestMemTableEmptyAndHasRoom(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	require.True(t, m.empty())
	require.True(t, m.hasRoom())

	var b Batch
	b.Set([]byte("k"), []byte("v"))
	require.NoError(t, m.apply(&b, 1))
	require.False(t, m.empty())
}

func TestMemTableGetSetAndMiss(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	var b Batch
	b.Set([]byte("hello"), []byte("world"))
	require.NoError(t, m.apply(&b, 1))

	value, conclusive, err := m.get([]byte("hello"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), value)

	_, conclusive, _ = m.get([]byte("missing"), 1)
	require.False(t, conclusive)
}

func TestMemTableGetRespectsSeqNumVisibility(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	var b1 Batch
	b1.Set([]byte("k"), []byte("v1"))
	require.NoError(t, m.apply(&b1, 1))

	var b2 Batch
	b2.Set([]byte("k"), []byte("v2"))
	require.NoError(t, m.apply(&b2, 2))

	value, conclusive, err := m.get([]byte("k"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	value, conclusive, err = m.get([]byte("k"), 2)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)
}

func TestMemTableGetDeletedKeyReturnsErrNotFound(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	var b1 Batch
	b1.Set([]byte("k"), []byte("v"))
	require.NoError(t, m.apply(&b1, 1))

	var b2 Batch
	b2.Delete([]byte("k"))
	require.NoError(t, m.apply(&b2, 2))

	_, conclusive, err := m.get([]byte("k"), 2)
	require.True(t, conclusive)
	require.Equal(t, ErrNotFound, err)

	// As of the older sequence, the key is still live.
	value, conclusive, err := m.get([]byte("k"), 1)
	require.True(t, conclusive)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
}

func TestMemTableIteratorWalksInUserKeyOrder(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	var b Batch
	b.Set([]byte("c"), []byte("3"))
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	require.NoError(t, m.apply(&b, 1))

	it := m.newIter()
	defer it.Close()

	var keys []string
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, string(it.Key().UserKey))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemTableRefUnrefTracksReadiness(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 4<<10)
	require.True(t, m.readyForFlush())
	m.ref()
	require.False(t, m.readyForFlush())
	require.True(t, m.unref())
	require.True(t, m.readyForFlush())
}

func TestMemTableApplyExhaustsArenaWithErrArenaFull(t *testing.T) {
	m := newMemTable(base.DefaultComparer, 256)
	var err error
	for i := 0; i < 1000 && err == nil; i++ {
		var b Batch
		b.Set([]byte{byte(i), byte(i >> 8)}, []byte("0123456789"))
		err = m.apply(&b, uint64(i+1))
	}
	require.Error(t, err)
}
