// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalCompareOrdersBySeqNumDescending(t *testing.T) {
	a := MakeInternalKey([]byte("k"), 10, InternalKeyKindSet)
	b := MakeInternalKey([]byte("k"), 5, InternalKeyKindSet)
	require.Equal(t, -1, InternalCompare(DefaultComparer, a, b))
	require.Equal(t, 1, InternalCompare(DefaultComparer, b, a))
	require.Equal(t, 0, InternalCompare(DefaultComparer, a, a))
}

func TestInternalCompareOrdersByUserKeyFirst(t *testing.T) {
	a := MakeInternalKey([]byte("a"), 1, InternalKeyKindSet)
	b := MakeInternalKey([]byte("b"), 100, InternalKeyKindSet)
	require.Equal(t, -1, InternalCompare(DefaultComparer, a, b))
}

func TestInternalCompareOrdersByKindDescendingWithinSeqNum(t *testing.T) {
	del := MakeInternalKey([]byte("k"), 7, InternalKeyKindDelete)
	set := MakeInternalKey([]byte("k"), 7, InternalKeyKindSet)
	// Same user key, same seqnum: higher kind sorts first.
	require.Equal(t, -1, InternalCompare(DefaultComparer, set, del))
}

func TestInternalKeyEncodeDecodeRoundTrip(t *testing.T) {
	k := MakeInternalKey([]byte("hello"), 42, InternalKeyKindSet)
	buf := make([]byte, k.Size())
	k.Encode(buf)

	got := DecodeInternalKey(buf)
	require.Equal(t, k.UserKey, got.UserKey)
	require.Equal(t, k.SeqNum(), got.SeqNum())
	require.Equal(t, k.Kind(), got.Kind())
}

func TestInternalKeyLookupComparesEqualToSetRecordAtSameSeq(t *testing.T) {
	lookup := MakeInternalKey([]byte("k"), 10, InternalKeyKindMax)
	real := MakeInternalKey([]byte("k"), 10, InternalKeyKindSet)
	require.Equal(t, 0, InternalCompare(DefaultComparer, lookup, real))
}

func TestInternalKeyComparerOrdersEncodedForms(t *testing.T) {
	icmp := InternalKeyComparer{UserComparer: DefaultComparer}
	newer := MakeInternalKey([]byte("k"), 10, InternalKeyKindSet)
	older := MakeInternalKey([]byte("k"), 5, InternalKeyKindSet)

	newBuf := make([]byte, newer.Size())
	newer.Encode(newBuf)
	oldBuf := make([]byte, older.Size())
	older.Encode(oldBuf)

	require.Equal(t, -1, icmp.Compare(newBuf, oldBuf))
}

func TestParseKindRejectsUnknownValues(t *testing.T) {
	_, err := ParseKind(byte(InternalKeyKindSet))
	require.NoError(t, err)

	_, err = ParseKind(200)
	require.Error(t, err)
}

func TestInternalKeyClone(t *testing.T) {
	k := MakeInternalKey([]byte("hello"), 1, InternalKeyKindSet)
	c := k.Clone()
	c.UserKey[0] = 'H'
	require.Equal(t, byte('h'), k.UserKey[0])
}
