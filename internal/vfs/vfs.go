// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vfs is the environment abstraction spec.md §1 calls out as an
// external collaborator: file, directory and lock primitives, kept
// pluggable so tests can substitute an in-memory filesystem without
// touching disk.
package vfs

import (
	"io"
	"os"
	"sort"
)

// File is a readable, writable sequence of bytes.
type File interface {
	io.Closer
	io.Reader
	io.ReaderAt
	io.Writer
	Stat() (os.FileInfo, error)
	Sync() error
}

// FS is a namespace of files, addressed by filepath-style names.
type FS interface {
	Create(name string) (File, error)
	Open(name string) (File, error)
	OpenForAppend(name string) (File, error)
	Remove(name string) error
	Rename(oldname, newname string) error
	MkdirAll(dir string, perm os.FileMode) error

	// Lock takes an exclusive advisory lock on name, creating it if
	// necessary. It returns a Closer that releases the lock; a nil Closer
	// accompanies a non-nil error.
	Lock(name string) (io.Closer, error)

	// List returns the names in dir, relative to dir, sorted.
	List(dir string) ([]string, error)

	PathJoin(dir, name string) string
}

// Default is a FS backed by the operating system.
var Default FS = osFS{}

type osFS struct{}

func (osFS) Create(name string) (File, error) { return os.Create(name) }
func (osFS) Open(name string) (File, error)    { return os.Open(name) }

func (osFS) OpenForAppend(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_APPEND, 0666)
}

func (osFS) Remove(name string) error            { return os.Remove(name) }
func (osFS) Rename(old, new string) error        { return os.Rename(old, new) }
func (osFS) MkdirAll(dir string, perm os.FileMode) error { return os.MkdirAll(dir, perm) }

func (osFS) List(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (osFS) PathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + string(os.PathSeparator) + name
}
