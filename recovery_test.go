// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/stretchr/testify/require"

	"github.com/riftdb/riftdb/internal/vfs"
)

// TestRecovery drives Open/Apply/Close/Get against a shared in-memory
// filesystem through a small per-line DSL, exercising spec.md §4.9's
// write-ahead-log replay across repeated close/reopen cycles.
func TestRecovery(t *testing.T) {
	fs := vfs.NewMem()
	dbs := make(map[string]*DB)
	defer func() {
		for _, d := range dbs {
			require.NoError(t, d.Close())
		}
	}()

	datadriven.RunTest(t, "testdata/recovery", func(t *testing.T, td *datadriven.TestData) string {
		switch td.Cmd {
		case "open":
			var name string
			var writeBufferSize int
			td.ScanArgs(t, "name", &name)
			td.ScanArgs(t, "write-buffer-size", &writeBufferSize)
			d, err := Open(name, &Options{FS: fs, WriteBufferSize: writeBufferSize})
			if err != nil {
				return err.Error() + "\n"
			}
			dbs[name] = d
			return "ok\n"

		case "apply":
			var name string
			td.ScanArgs(t, "name", &name)
			d := dbs[name]
			var b Batch
			for _, line := range strings.Split(td.Input, "\n") {
				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}
				switch fields[0] {
				case "set":
					b.Set([]byte(fields[1]), []byte(fields[2]))
				case "del":
					b.Delete([]byte(fields[1]))
				default:
					t.Fatalf("unknown op %q", fields[0])
				}
			}
			if err := d.Apply(&b, true); err != nil {
				return err.Error() + "\n"
			}
			return "ok\n"

		case "get":
			var name, key string
			td.ScanArgs(t, "name", &name)
			td.ScanArgs(t, "key", &key)
			value, err := dbs[name].Get([]byte(key), nil)
			if err != nil {
				return err.Error() + "\n"
			}
			return string(value) + "\n"

		case "close":
			var name string
			td.ScanArgs(t, "name", &name)
			if err := dbs[name].Close(); err != nil {
				return err.Error() + "\n"
			}
			delete(dbs, name)
			return "ok\n"

		default:
			return fmt.Sprintf("unknown command: %s\n", td.Cmd)
		}
	})
}
