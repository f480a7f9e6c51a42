// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/cockroachdb/metamorphic"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/vfs"
)

// TestMetamorphic runs a long randomized sequence of Set/Delete/Get
// operations, interleaved with snapshot churn and close/reopen cycles that
// force a WAL replay, against both a DB and a plain Go map, failing as soon
// as a Get disagrees with the reference. The close/reopen op exercises
// spec.md §4.9 recovery on every replay, not just at test start.
func TestMetamorphic(t *testing.T) {
	const keyspace = 64
	key := func(i int) []byte { return []byte(fmt.Sprintf("k%04d", i)) }

	fs := vfs.NewMem()
	opts := &Options{FS: fs, WriteBufferSize: 4 << 10}
	d, err := Open("primary", opts)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	ref := make(map[int]string)
	rng := rand.New(rand.NewSource(1))

	check := func(i int) {
		want, wantOK := ref[i]
		got, gerr := d.Get(key(i), nil)
		if gerr == ErrNotFound {
			if wantOK {
				t.Fatalf("key %d: reference has %q, db says not found", i, want)
			}
			return
		}
		require.NoError(t, gerr)
		if !wantOK {
			t.Fatalf("key %d: reference has nothing, db has %q", i, got)
		}
		require.Equal(t, want, string(got))
	}

	ops := metamorphic.Weighted[func()]{
		{Weight: 30, Item: func() {
			i := rng.Intn(keyspace)
			v := fmt.Sprintf("v%d", rng.Intn(1<<20))
			var b Batch
			b.Set(key(i), []byte(v))
			require.NoError(t, d.Apply(&b, rng.Intn(2) == 0))
			ref[i] = v
		}},
		{Weight: 10, Item: func() {
			i := rng.Intn(keyspace)
			var b Batch
			b.Delete(key(i))
			require.NoError(t, d.Apply(&b, rng.Intn(2) == 0))
			delete(ref, i)
		}},
		{Weight: 30, Item: func() {
			check(rng.Intn(keyspace))
		}},
		{Weight: 10, Item: func() {
			snap := d.NewSnapshot()
			require.NoError(t, snap.Close())
		}},
		{Weight: 5, Item: func() {
			require.NoError(t, d.Close())
			d, err = Open("primary", opts)
			require.NoError(t, err)
			for i := 0; i < keyspace; i++ {
				check(i)
			}
		}},
	}

	nextOp := ops.RandomDeck(rng)
	for i := 0; i < 2000; i++ {
		nextOp()()
	}
}
