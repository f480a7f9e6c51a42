// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/base"
)

func TestBatchSetAndDeleteCount(t *testing.T) {
	var b Batch
	require.True(t, b.Empty())
	b.Set([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Set([]byte("c"), []byte("3"))
	require.False(t, b.Empty())
	require.Equal(t, 3, b.Count())
}

func TestBatchIterYieldsOperationsInOrder(t *testing.T) {
	var b Batch
	b.Set([]byte("k1"), []byte("v1"))
	b.Delete([]byte("k2"))

	iter := b.iter()
	kind, key, value, ok := iter.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, []byte("k1"), key)
	require.Equal(t, []byte("v1"), value)

	kind, key, value, ok = iter.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindDelete, kind)
	require.Equal(t, []byte("k2"), key)
	require.Nil(t, value)

	_, _, _, ok = iter.next()
	require.False(t, ok)
}

func TestBatchWireFormRoundTrip(t *testing.T) {
	var b Batch
	b.Set([]byte("apple"), []byte("fruit"))
	b.Delete([]byte("banana"))
	b.Set([]byte("cherry"), []byte("also fruit"))
	b.setSeqNum(7)

	decoded, err := newBatchFromWireForm(append([]byte(nil), b.data...))
	require.NoError(t, err)
	require.Equal(t, b.Count(), decoded.Count())
	require.Equal(t, uint64(7), decoded.seqNum())

	iter := decoded.iter()
	kind, key, value, ok := iter.next()
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, kind)
	require.Equal(t, []byte("apple"), key)
	require.Equal(t, []byte("fruit"), value)
}

func TestNewBatchFromWireFormRejectsShortHeader(t *testing.T) {
	_, err := newBatchFromWireForm([]byte{1, 2, 3})
	require.Equal(t, ErrCorruption, err)
}

func TestNewBatchFromWireFormRejectsCountMismatch(t *testing.T) {
	var b Batch
	b.Set([]byte("k"), []byte("v"))
	b.Set([]byte("k2"), []byte("v2"))
	// Claim only one record when there are two.
	b.setCount(1)

	_, err := newBatchFromWireForm(append([]byte(nil), b.data...))
	require.Equal(t, ErrCorruption, err)
}

func TestNewBatchFromWireFormRejectsInvalidBatchCount(t *testing.T) {
	data := make([]byte, batchHeaderLen)
	b := Batch{data: data}
	b.setCount(invalidBatchCount)

	_, err := newBatchFromWireForm(data)
	require.Equal(t, ErrInvalidBatch, err)
}
