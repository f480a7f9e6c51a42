// Copyright 2013 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sstable

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/swiss"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/vfs"
)

// TableFileName returns the on-disk name of the table with the given file
// number: spec.md §6 fixes the table file extension as ".ldb".
func TableFileName(fileNum uint64) string {
	return fmt.Sprintf("%06d.ldb", fileNum)
}

// Cache is a bounded, LRU cache of open Readers, grounded on the teacher's
// tableCache: a fixed-size doubly-linked list of nodes plus an index map
// (here a swiss.Map rather than a built-in map), with table opens
// performed asynchronously so that one slow open never blocks a concurrent
// lookup of a different table.
type Cache struct {
	dirname string
	fs      vfs.FS
	ucmp    base.Comparer
	size    int

	mu    sync.Mutex
	nodes swiss.Map[uint64, *cacheNode]
	dummy cacheNode
}

// NewCache returns a Cache that opens tables out of dirname via fs, holding
// at most size Readers open at once.
func NewCache(dirname string, fs vfs.FS, ucmp base.Comparer, size int) *Cache {
	c := &Cache{
		dirname: dirname,
		fs:      fs,
		ucmp:    ucmp,
		size:    size,
	}
	c.nodes.Init(16)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
	return c
}

type readerOrError struct {
	reader *Reader
	err    error
}

type cacheNode struct {
	fileNum uint64
	result  chan readerOrError

	next, prev *cacheNode
	refCount   int
}

func (n *cacheNode) load(c *Cache) {
	name := c.fs.PathJoin(c.dirname, TableFileName(n.fileNum))
	f, err := c.fs.Open(name)
	if err != nil {
		n.result <- readerOrError{err: err}
		return
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		n.result <- readerOrError{err: err}
		return
	}
	r, err := NewReader(f, fi.Size(), c.ucmp)
	n.result <- readerOrError{reader: r, err: err}
}

func (n *cacheNode) release() {
	x := <-n.result
	if x.err == nil {
		x.reader.Close()
	}
}

// findNode returns the node for fileNum, creating and asynchronously
// loading it if this is the first reference. The caller must eventually
// balance this with a releaseRef.
func (c *Cache) findNode(fileNum uint64) *cacheNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes.Get(fileNum)
	if !ok {
		n = &cacheNode{
			fileNum: fileNum,
			result:  make(chan readerOrError, 1),
		}
		c.nodes.Put(fileNum, n)
		if c.nodes.Len() > c.size {
			c.releaseNodeLocked(c.dummy.prev)
		}
		go n.load(c)
	} else {
		n.next.prev = n.prev
		n.prev.next = n.next
	}
	n.next = c.dummy.next
	n.prev = &c.dummy
	n.next.prev = n
	n.prev.next = n
	n.refCount++
	return n
}

// releaseNodeLocked evicts n from the index and unlinks it; c.mu must be
// held.
func (c *Cache) releaseNodeLocked(n *cacheNode) {
	c.nodes.Delete(n.fileNum)
	n.next.prev = n.prev
	n.prev.next = n.next
	n.refCount--
	if n.refCount == 0 {
		go n.release()
	}
}

func (c *Cache) releaseRef(n *cacheNode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n.refCount--
	if n.refCount == 0 {
		go n.release()
	}
}

// Find opens fileNum and returns an iterator positioned via SeekGE(ikey),
// satisfying manifest.TableFinder.
func (c *Cache) Find(fileNum uint64, ikey base.InternalKey) (base.InternalIterator, error) {
	n := c.findNode(fileNum)
	x := <-n.result
	n.result <- x
	if x.err != nil {
		c.releaseRef(n)
		return nil, x.err
	}
	it, err := x.reader.Find(ikey)
	if err != nil {
		c.releaseRef(n)
		return nil, err
	}
	return &cacheIter{InternalIterator: it, cache: c, node: n}, nil
}

// NewIterator opens fileNum and returns a full sequential iterator over it,
// for flush verification and compaction input scans.
func (c *Cache) NewIterator(fileNum uint64) (base.InternalIterator, error) {
	n := c.findNode(fileNum)
	x := <-n.result
	n.result <- x
	if x.err != nil {
		c.releaseRef(n)
		return nil, x.err
	}
	it, err := x.reader.NewIter()
	if err != nil {
		c.releaseRef(n)
		return nil, err
	}
	return &cacheIter{InternalIterator: it, cache: c, node: n}, nil
}

// Evict drops fileNum from the cache, called once a file has been deleted
// by a compaction so a later re-use of its file number never reads a stale
// Reader.
func (c *Cache) Evict(fileNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.nodes.Get(fileNum); ok {
		c.releaseNodeLocked(n)
	}
}

// Close releases every cached Reader.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for n := c.dummy.next; n != &c.dummy; n = n.next {
		n.refCount--
		if n.refCount == 0 {
			go n.release()
		}
	}
	c.nodes.Close()
	c.nodes.Init(16)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
	return nil
}

// cacheIter wraps a Reader's iterator so that closing it releases the
// cache's reference on the underlying node instead of closing the Reader
// directly, letting the Reader stay warm in the cache for the next lookup.
type cacheIter struct {
	base.InternalIterator
	cache    *Cache
	node     *cacheNode
	closed   bool
	closeErr error
}

func (it *cacheIter) Close() error {
	if it.closed {
		return it.closeErr
	}
	it.closed = true
	it.closeErr = it.InternalIterator.Close()
	it.cache.releaseRef(it.node)
	return it.closeErr
}
