// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package vfs

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Lock takes an exclusive, advisory flock(2) on name. The database's LOCK
// file (spec.md §6, §4.9 step 1) uses this to fail Open fast when another
// process already holds the directory open, rather than silently
// corrupting a live database.
func (osFS) Lock(name string) (io.Closer, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "riftdb: could not lock %q, held by another process", name)
	}
	return &unixLock{f: f}, nil
}

type unixLock struct{ f *os.File }

func (l *unixLock) Close() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
