// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/vfs"
)

func openTestDB(t *testing.T, opts *Options) *DB {
	t.Helper()
	if opts == nil {
		opts = &Options{}
	}
	if opts.FS == nil {
		opts.FS = vfs.NewMem()
	}
	d, err := Open("db", opts)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return d
}

func apply(t *testing.T, d *DB, sets map[string]string, deletes []string) {
	t.Helper()
	var b Batch
	for k, v := range sets {
		b.Set([]byte(k), []byte(v))
	}
	for _, k := range deletes {
		b.Delete([]byte(k))
	}
	require.NoError(t, d.Apply(&b, true))
}

func TestOpenCreatesAndReopensEmptyDatabase(t *testing.T) {
	fs := vfs.NewMem()
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	d2, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	require.NoError(t, d2.Close())
}

func TestOpenErrorIfDBExists(t *testing.T) {
	fs := vfs.NewMem()
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = Open("db", &Options{FS: fs, ErrorIfDBExists: true})
	require.Error(t, err)
}

// TestOpenPersistsPostRecoveryLogNumber checks that Open installs a
// VersionEdit recording the post-recovery WAL's file number immediately,
// rather than leaving VersionSet.LogNumber stale until the first
// in-process flush (spec.md §4.9 step 5).
func TestOpenPersistsPostRecoveryLogNumber(t *testing.T) {
	fs := vfs.NewMem()
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	apply(t, d, map[string]string{"a": "1"}, nil)
	require.NoError(t, d.Close())

	d2, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	require.Equal(t, d2.logFileNum, d2.versions.LogNumber())
	require.NoError(t, d2.Close())
}

func TestApplyAndGetRoundTrip(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"apple": "fruit", "carrot": "vegetable"}, nil)

	value, err := d.Get([]byte("apple"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("fruit"), value)

	value, err = d.Get([]byte("carrot"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("vegetable"), value)
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	d := openTestDB(t, nil)
	_, err := d.Get([]byte("nope"), nil)
	require.Equal(t, ErrNotFound, err)
}

func TestDeleteRemovesKey(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"k": "v"}, nil)
	apply(t, d, nil, []string{"k"})

	_, err := d.Get([]byte("k"), nil)
	require.Equal(t, ErrNotFound, err)
}

func TestOverwriteReturnsLatestValue(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"k": "v1"}, nil)
	apply(t, d, map[string]string{"k": "v2"}, nil)

	value, err := d.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)
}

func TestSnapshotIsolatesReadsFromLaterWrites(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"k": "v1"}, nil)

	snap := d.NewSnapshot()
	defer snap.Close()

	apply(t, d, map[string]string{"k": "v2"}, nil)

	value, err := d.Get([]byte("k"), snap)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	value, err = d.Get([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), value)
}

func TestSnapshotSeesKeyDeletedAfterSnapshotWasTaken(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"k": "v"}, nil)

	snap := d.NewSnapshot()
	defer snap.Close()

	apply(t, d, nil, []string{"k"})

	value, err := d.Get([]byte("k"), snap)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)

	_, err = d.Get([]byte("k"), nil)
	require.Equal(t, ErrNotFound, err)
}

func TestNewIteratorForwardScansInUserKeyOrder(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"c": "3", "a": "1", "b": "2"}, nil)

	it, err := d.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	var keys, values []string
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, string(it.Key()))
		values = append(values, string(it.Value()))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)
	require.Equal(t, []string{"1", "2", "3"}, values)
}

func TestNewIteratorReverseScanMatchesForwardReversed(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"c": "3", "a": "1", "b": "2"}, nil)

	it, err := d.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ok := it.Last(); ok; ok = it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestNewIteratorSkipsDeletedKeys(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"a": "1", "b": "2", "c": "3"}, nil)
	apply(t, d, nil, []string{"b"})

	it, err := d.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	var keys []string
	for ok := it.First(); ok; ok = it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"a", "c"}, keys)
}

func TestNewIteratorSeekGEAndSeekLT(t *testing.T) {
	d := openTestDB(t, nil)
	apply(t, d, map[string]string{"a": "1", "c": "3", "e": "5"}, nil)

	it, err := d.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.SeekGE([]byte("b")))
	require.Equal(t, "c", string(it.Key()))

	require.True(t, it.SeekLT([]byte("e")))
	require.Equal(t, "c", string(it.Key()))
}

func TestApplyRejectsEmptyBatchAsNoOp(t *testing.T) {
	d := openTestDB(t, nil)
	var b Batch
	require.NoError(t, d.Apply(&b, true))
}

func TestCloseRejectsFurtherOperations(t *testing.T) {
	fs := vfs.NewMem()
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Get([]byte("k"), nil)
	require.Equal(t, ErrClosed, err)
}

func TestWriteAheadLogRecoversAfterReopen(t *testing.T) {
	fs := vfs.NewMem()
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	apply(t, d, map[string]string{"a": "1", "b": "2"}, nil)
	apply(t, d, nil, []string{"a"})
	require.NoError(t, d.Close())

	d2, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	defer func() { require.NoError(t, d2.Close()) }()

	_, err = d2.Get([]byte("a"), nil)
	require.Equal(t, ErrNotFound, err)

	value, err := d2.Get([]byte("b"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("2"), value)
}

func TestFlushMovesDataIntoATableFile(t *testing.T) {
	fs := vfs.NewMem()
	flushed := make(chan FlushInfo, 64)
	opts := &Options{
		FS:              fs,
		WriteBufferSize: 512,
		EventListener: &EventListener{
			FlushEnd: func(info FlushInfo) { flushed <- info },
		},
	}
	d := openTestDB(t, opts)

	for i := 0; i < 200; i++ {
		var b Batch
		b.Set([]byte{byte(i), byte(i >> 8)}, []byte("0123456789012345678901234567890123456789"))
		require.NoError(t, d.Apply(&b, false))
	}

	select {
	case info := <-flushed:
		require.NoError(t, info.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a flush to complete")
	}

	value, err := d.Get([]byte{0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789012345678901234567890123456789"), value)
}

func TestGetAfterFlushAndReopen(t *testing.T) {
	fs := vfs.NewMem()
	flushed := make(chan FlushInfo, 64)
	opts := &Options{
		FS:              fs,
		WriteBufferSize: 512,
		EventListener: &EventListener{
			FlushEnd: func(info FlushInfo) { flushed <- info },
		},
	}
	d, err := Open("db", opts)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		var b Batch
		b.Set([]byte{byte(i), byte(i >> 8)}, []byte("0123456789012345678901234567890123456789"))
		require.NoError(t, d.Apply(&b, false))
	}

	select {
	case info := <-flushed:
		require.NoError(t, info.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a flush to complete")
	}
	require.NoError(t, d.Close())

	d2, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)
	defer func() { require.NoError(t, d2.Close()) }()

	value, err := d2.Get([]byte{0, 0}, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789012345678901234567890123456789"), value)
}
