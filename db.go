// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/rate"
	"github.com/riftdb/riftdb/internal/record"
	"github.com/riftdb/riftdb/internal/sstable"
	"github.com/riftdb/riftdb/internal/vfs"
)

// l0SlowdownTrigger/l0StopTrigger are the level-0 file-count thresholds
// MakeRoomForWrite reacts to (spec.md §4.4).
const (
	l0SlowdownTrigger = 8
	l0StopTrigger     = 12

	// maxMemCompactLevel bounds how high PickLevelForMemTableOutput may
	// push a freshly flushed file (spec.md §4.5 step 4).
	maxMemCompactLevel = 2
)

// DB is an open riftdb database: one memtable accepting writes, at most one
// immutable memtable awaiting flush, a Version tracking the on-disk levels,
// and the single write-ahead log backing the active memtable (spec.md §3).
type DB struct {
	dirname string
	opts    *Options
	ucmp    base.Comparer
	icmp    base.InternalKeyComparer
	fs      vfs.FS

	fileLock io.Closer

	tableCache  *sstable.Cache
	compactionLimiter *rate.Limiter

	metrics *Metrics

	mu sync.Mutex

	// writeCond serializes the writer FIFO commit.go drives: a writer
	// waits here until it is the queue front or has been merged into a
	// leader's group, and is woken via Broadcast when either happens.
	writeCond sync.Cond
	writeQueue []*commitRequest

	// bgCond is the background-finished condvar spec.md §5 names: writers
	// stall on it inside MakeRoomForWrite, and the background worker
	// broadcasts it whenever a flush or compaction completes.
	bgCond sync.Cond

	mem *memTable
	imm *memTable

	logFileNum uint64
	logFile    vfs.File
	log        *record.Writer

	versions *manifest.VersionSet

	snapshots snapshotList

	bgError              error
	backgroundCompacting bool
	closed               bool

	nextJobID int
}

// Get returns the value most recently Set for key, as of snapshot (or the
// database's latest sequence if snapshot is nil), implementing spec.md
// §4.8's Get algorithm.
func (d *DB) Get(key []byte, snapshot *Snapshot) ([]byte, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	seqNum := d.versions.LastSequence()
	if snapshot != nil {
		seqNum = snapshot.seqNum
	}
	mem := d.mem
	mem.ref()
	imm := d.imm
	if imm != nil {
		imm.ref()
	}
	cur := d.versions.Current()
	cur.Ref()
	d.mu.Unlock()

	value, err := d.getLocked(key, seqNum, mem, imm, cur)

	d.mu.Lock()
	mem.unref()
	if imm != nil {
		imm.unref()
	}
	d.versions.UnrefVersion(cur)
	d.mu.Unlock()

	return value, err
}

// getLocked runs the unlocked probe of Get: mem, then imm, then cur's
// levels, returning on the first conclusive hit.
func (d *DB) getLocked(key []byte, seqNum uint64, mem, imm *memTable, cur *manifest.Version) ([]byte, error) {
	if value, conclusive, err := mem.get(key, seqNum); conclusive {
		return value, err
	}
	if imm != nil {
		if value, conclusive, err := imm.get(key, seqNum); conclusive {
			return value, err
		}
	}

	lookup := base.MakeInternalKey(key, seqNum, base.InternalKeyKindMax)
	value, hitLevel, sawL0Miss, err := cur.Get(lookup, d.ucmp, d.tableCache)
	if sawL0Miss != nil && hitLevel >= 1 {
		if sawL0Miss.RecordSeekMiss() {
			d.mu.Lock()
			d.maybeScheduleCompaction()
			d.mu.Unlock()
		}
	}
	if err == manifest.ErrNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

// NewIterator returns a forward/reverse iterator over the database's
// contents as of snapshot (or the latest sequence if nil), per spec.md
// §4.8's NewIterator contract: a merging iterator over mem, imm, and every
// level's files, translated to user keys with duplicates and deletions
// collapsed.
func (d *DB) NewIterator(snapshot *Snapshot) (*Iterator, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	seqNum := d.versions.LastSequence()
	if snapshot != nil {
		seqNum = snapshot.seqNum
	}
	mem := d.mem
	mem.ref()
	imm := d.imm
	if imm != nil {
		imm.ref()
	}
	cur := d.versions.Current()
	cur.Ref()
	d.mu.Unlock()

	iters := []base.InternalIterator{mem.newIter()}
	if imm != nil {
		iters = append(iters, imm.newIter())
	}
	for _, f := range cur.Files[0] {
		it, err := d.tableCache.NewIterator(f.FileNum)
		if err != nil {
			d.releasePins(mem, imm, cur)
			return nil, err
		}
		iters = append(iters, it)
	}
	for level := 1; level < manifest.NumLevels; level++ {
		if len(cur.Files[level]) == 0 {
			continue
		}
		it, err := newLevelIterator(d.tableCache, d.ucmp, cur.Files[level])
		if err != nil {
			d.releasePins(mem, imm, cur)
			return nil, err
		}
		iters = append(iters, it)
	}

	merged := newMergingIterator(d.ucmp, iters...)
	return &Iterator{
		db:     d,
		merged: merged,
		ucmp:   d.ucmp,
		seqNum: seqNum,
		mem:    mem,
		imm:    imm,
		ver:    cur,
	}, nil
}

func (d *DB) releasePins(mem, imm *memTable, cur *manifest.Version) {
	d.mu.Lock()
	mem.unref()
	if imm != nil {
		imm.unref()
	}
	d.versions.UnrefVersion(cur)
	d.mu.Unlock()
}

// NewSnapshot pins the database's current sequence number so later reads
// through it never observe writes committed afterward.
func (d *DB) NewSnapshot() *Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &Snapshot{db: d, seqNum: d.versions.LastSequence()}
	d.snapshots.pushBack(s)
	return s
}

// Close shuts the background compaction/flush worker down, then tears the
// WAL, the manifest, the table cache, and the directory lock down
// concurrently, returning the first error any of them produced (spec.md
// §4.10). The wait for backgroundCompacting must happen before any of that
// teardown starts: the worker still reads d.log/d.mem/d.versions while it
// runs.
func (d *DB) Close() error {
	d.mu.Lock()
	d.closed = true
	for d.backgroundCompacting {
		d.bgCond.Wait()
	}
	log, logFile, versions := d.log, d.logFile, d.versions
	d.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		if log == nil {
			return nil
		}
		return log.Close()
	})
	g.Go(func() error {
		if logFile == nil {
			return nil
		}
		return logFile.Close()
	})
	g.Go(func() error {
		return versions.Close()
	})
	g.Go(func() error {
		return d.tableCache.Close()
	})
	g.Go(func() error {
		return d.fileLock.Close()
	})
	return errors.Wrap(g.Wait(), "riftdb: close")
}

func (d *DB) nextJob() int {
	d.nextJobID++
	return d.nextJobID
}
