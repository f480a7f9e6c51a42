// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vfs

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// NewMem returns an in-memory FS, for tests that should never touch disk.
// Unlike the teacher's hierarchical memfs, riftdb only ever opens files
// directly inside a single database directory, so this is a flat
// name→file map rather than a walked directory tree.
func NewMem() FS {
	return &memFS{files: make(map[string]*memFile)}
}

type memFS struct {
	mu    sync.Mutex
	files map[string]*memFile
}

type memFile struct {
	mu      sync.Mutex
	name    string
	data    []byte
	modTime time.Time
}

func (fs *memFS) Create(name string) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f := &memFile{name: name, modTime: time.Now()}
	fs.files[name] = f
	return &memFileHandle{f: f}, nil
}

func (fs *memFS) Open(name string) (File, error) {
	fs.mu.Lock()
	f, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, errors.Newf("riftdb/vfs: no such file: %s", name)
	}
	return &memFileHandle{f: f}, nil
}

func (fs *memFS) OpenForAppend(name string) (File, error) {
	h, err := fs.Open(name)
	if err != nil {
		return nil, err
	}
	hf := h.(*memFileHandle)
	hf.offset = int64(len(hf.f.data))
	return hf, nil
}

func (fs *memFS) Remove(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.files, name)
	return nil
}

func (fs *memFS) Rename(oldname, newname string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	f, ok := fs.files[oldname]
	if !ok {
		return errors.Newf("riftdb/vfs: no such file: %s", oldname)
	}
	delete(fs.files, oldname)
	f.name = newname
	fs.files[newname] = f
	return nil
}

func (fs *memFS) MkdirAll(dir string, perm os.FileMode) error { return nil }

func (fs *memFS) Lock(name string) (io.Closer, error) {
	// Other processes cannot observe this process' memory, so locking is a
	// no-op; only concurrent riftdb.Open calls within the same process
	// against the same memFS would race, which tests do not do.
	return nopCloser{}, nil
}

func (fs *memFS) List(dir string) ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	prefix := fs.PathJoin(dir, "")
	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if rest := name[len(prefix):]; !strings.Contains(rest, "/") {
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (fs *memFS) PathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// memFileHandle is a per-Open cursor into a shared memFile; Read/Write
// advance an independent offset the way an *os.File's would.
type memFileHandle struct {
	f      *memFile
	offset int64
}

func (h *memFileHandle) Close() error { return nil }

func (h *memFileHandle) Read(p []byte) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.offset >= int64(len(h.f.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.f.data[h.offset:])
	h.offset += int64(n)
	return n, nil
}

func (h *memFileHandle) ReadAt(p []byte, off int64) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if off >= int64(len(h.f.data)) {
		return 0, io.EOF
	}
	n := copy(p, h.f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *memFileHandle) Write(p []byte) (int, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	h.f.modTime = time.Now()
	if int(h.offset) < len(h.f.data) {
		h.f.data = h.f.data[:h.offset]
	}
	h.f.data = append(h.f.data, p...)
	h.offset = int64(len(h.f.data))
	return len(p), nil
}

func (h *memFileHandle) Sync() error { return nil }

func (h *memFileHandle) Stat() (os.FileInfo, error) {
	return memFileInfo{h.f}, nil
}

type memFileInfo struct{ f *memFile }

func (i memFileInfo) Name() string       { return i.f.name }
func (i memFileInfo) Size() int64        { return int64(len(i.f.data)) }
func (i memFileInfo) Mode() os.FileMode  { return 0644 }
func (i memFileInfo) ModTime() time.Time { return i.f.modTime }
func (i memFileInfo) IsDir() bool        { return false }
func (i memFileInfo) Sys() interface{}   { return nil }
