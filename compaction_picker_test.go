// Copyright 2013 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/vfs"
)

func pickerIkey(key string, seq uint64) base.InternalKey {
	return base.MakeInternalKey([]byte(key), seq, base.InternalKeyKindSet)
}

func pickerFile(num, size uint64, smallest, largest string) *manifest.FileMetadata {
	return manifest.NewFileMetadata(num, size, pickerIkey(smallest, num), pickerIkey(largest, num))
}

// TestPickCompaction exercises pickCompaction's size-score selection and
// trivial-move decision against hand-built Versions, covering the level>0
// and grandparent-overlap conditions spec.md §4.6 attaches to a trivial
// move alongside the single-file/no-overlap check.
func TestPickCompaction(t *testing.T) {
	cur := &manifest.Version{}
	vs := manifest.New("db", vfs.NewMem(), base.DefaultComparer)

	datadriven.RunTest(t, "testdata/pick_compaction", func(t *testing.T, d *datadriven.TestData) string {
		switch d.Cmd {
		case "define":
			cur = &manifest.Version{}
			for _, line := range strings.Split(d.Input, "\n") {
				if line == "" {
					continue
				}
				fields := strings.Fields(line)
				if len(fields) < 2 {
					t.Fatalf("malformed line %q", line)
				}
				level, err := strconv.Atoi(strings.TrimSuffix(fields[0], ":"))
				require.NoError(t, err)
				rng := strings.SplitN(fields[1], "-", 2)
				if len(rng) != 2 {
					t.Fatalf("malformed key range %q", fields[1])
				}
				size := uint64(1024)
				for _, f := range fields[2:] {
					kv := strings.SplitN(f, "=", 2)
					if kv[0] == "size" {
						v, err := strconv.ParseUint(kv[1], 10, 64)
						require.NoError(t, err)
						size = v
					}
				}
				num := uint64(len(cur.Files[level]) + 1)
				cur.Files[level] = append(cur.Files[level], pickerFile(num, size, rng[0], rng[1]))
			}
			return ""

		case "score":
			cur.UpdateCompactionScore()
			return fmt.Sprintf("level=%d score=%.2f\n", cur.CompactionLevel, cur.CompactionScore)

		case "pick":
			c := pickCompaction(cur, vs, base.DefaultComparer)
			if c == nil {
				return "no compaction\n"
			}
			return fmt.Sprintf(
				"start=%d output=%d trivial-move=%v inputs[0]=%d inputs[1]=%d inputs[2]=%d\n",
				c.startLevel, c.outputLevel, c.trivialMove,
				len(c.inputs[0]), len(c.inputs[1]), len(c.inputs[2]))

		default:
			return fmt.Sprintf("unknown command: %s", d.Cmd)
		}
	})
}
