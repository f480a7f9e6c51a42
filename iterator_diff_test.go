// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/stretchr/testify/require"
)

func dumpIterator(t *testing.T, d *DB, snap *Snapshot) []string {
	t.Helper()
	it, err := d.NewIterator(snap)
	require.NoError(t, err)
	defer func() { require.NoError(t, it.Close()) }()

	var lines []string
	for ok := it.First(); ok; ok = it.Next() {
		lines = append(lines, fmt.Sprintf("%s=%s", it.Key(), it.Value()))
	}
	return lines
}

// scanDiff renders a-vs-b as a unified diff for a failure message, the way
// a mismatched scan is reported when debugging a fuzz run.
func scanDiff(t *testing.T, fromFile, toFile string, a, b []string) string {
	t.Helper()
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.Join(a, "\n") + "\n"),
		B:        difflib.SplitLines(strings.Join(b, "\n") + "\n"),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  1,
	})
	require.NoError(t, err)
	return diff
}

// TestIteratorSnapshotDiff checks that a snapshot pinned before a batch of
// mutations keeps seeing the old forward scan after the batch commits
// (spec.md §4.7's snapshot isolation), reporting a unified diff between the
// two scans if it doesn't.
func TestIteratorSnapshotDiff(t *testing.T) {
	d := openTestDB(t, nil)

	apply(t, d, map[string]string{"a": "1", "b": "2", "c": "3"}, nil)
	before := d.NewSnapshot()
	defer func() { require.NoError(t, before.Close()) }()
	beforeLines := dumpIterator(t, d, before)

	apply(t, d, map[string]string{"b": "20", "d": "4"}, nil)

	pinnedLines := dumpIterator(t, d, before)
	if !reflect.DeepEqual(beforeLines, pinnedLines) {
		t.Fatalf("snapshot scan changed after a later batch:\n%s",
			scanDiff(t, "before", "after-pinned", beforeLines, pinnedLines))
	}

	liveLines := dumpIterator(t, d, nil)
	want := []string{"a=1", "b=20", "c=3", "d=4"}
	if !reflect.DeepEqual(want, liveLines) {
		t.Fatalf("unexpected live scan:\n%s", scanDiff(t, "want", "got", want, liveLines))
	}
}
