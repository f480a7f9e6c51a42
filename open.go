// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"io"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/arenaskl"
	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/rate"
	"github.com/riftdb/riftdb/internal/record"
	"github.com/riftdb/riftdb/internal/sstable"
	"github.com/riftdb/riftdb/internal/vfs"
)

// unlimitedRate stands in for Options.CompactionBytesPerSec == 0: a token
// bucket this large never meaningfully blocks a compaction.
const unlimitedRate = 1 << 60

// Open opens (creating if necessary) the database at dirname, replaying
// its write-ahead logs and installing the result as a fresh Version before
// returning, per spec.md §4.9.
func Open(dirname string, opts *Options) (*DB, error) {
	opts = opts.EnsureDefaults()
	fs := opts.FS
	ucmp := opts.Comparer

	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, errors.Wrapf(err, "riftdb: could not create %q", dirname)
	}

	lock, err := fs.Lock(dbFilename(fs, dirname, fileTypeLock, 0))
	if err != nil {
		return nil, errors.Wrapf(err, "riftdb: could not lock %q", dirname)
	}

	d, err := openLocked(dirname, opts, fs, ucmp, lock)
	if err != nil {
		lock.Close()
		return nil, err
	}
	return d, nil
}

func openLocked(dirname string, opts *Options, fs vfs.FS, ucmp base.Comparer, lock io.Closer) (*DB, error) {
	exists, err := dirHasCurrent(fs, dirname)
	if err != nil {
		return nil, err
	}
	if exists && opts.ErrorIfDBExists {
		return nil, errors.Newf("riftdb: database %q already exists", dirname)
	}

	var versions *manifest.VersionSet
	if exists {
		versions, err = manifest.Load(dirname, fs, ucmp)
	} else {
		versions = manifest.New(dirname, fs, ucmp)
		err = versions.Create(ucmp.Name())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "riftdb: could not open manifest for %q", dirname)
	}

	d := &DB{
		dirname: dirname,
		opts:    opts,
		ucmp:    ucmp,
		icmp:    base.InternalKeyComparer{UserComparer: ucmp},
		fs:      fs,

		fileLock: lock,

		tableCache:        sstable.NewCache(dirname, fs, ucmp, opts.MaxOpenFiles),
		compactionLimiter: newCompactionLimiter(opts.CompactionBytesPerSec),

		metrics: opts.Metrics(),

		mem: newMemTable(ucmp, opts.WriteBufferSize),

		versions: versions,
	}
	d.writeCond = sync.Cond{L: &d.mu}
	d.bgCond = sync.Cond{L: &d.mu}
	d.snapshots.init()

	oldLogNumber := versions.LogNumber()
	if err := d.replayLogs(); err != nil {
		return nil, err
	}
	// Replayed records go to a level-0 table before the edit below moves
	// LogNumber past the logs they came from.
	if !d.mem.empty() {
		if err := d.flushMemTableDuringRecovery(); err != nil {
			return nil, err
		}
	}
	if err := d.rotateWAL(); err != nil {
		return nil, err
	}
	// Persist the post-recovery WAL's file number now, rather than waiting
	// for the first in-process flush to do it (spec.md §4.9 step 5): until
	// this lands, VersionSet.LogNumber still names whatever WAL generation
	// was current before this Open, so deleteObsoleteFiles never considers
	// the logs just replayed here eligible for deletion.
	edit := &manifest.VersionEdit{
		HasLogNumber:     true,
		LogNumber:        d.logFileNum,
		HasPrevLogNumber: true,
		PrevLogNumber:    oldLogNumber,
	}
	if err := d.versions.LogAndApply(edit); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.maybeScheduleCompaction()
	d.mu.Unlock()

	return d, nil
}

// dirHasCurrent reports whether dirname already holds a CURRENT file,
// distinguishing "open existing database" from "create a new one"
// (spec.md §4.9 step 1).
func dirHasCurrent(fs vfs.FS, dirname string) (bool, error) {
	names, err := fs.List(dirname)
	if err != nil {
		return false, errors.Wrapf(err, "riftdb: could not list %q", dirname)
	}
	for _, name := range names {
		if name == "CURRENT" {
			return true, nil
		}
	}
	return false, nil
}

// replayLogs finds every log file at or after the manifest's recorded
// log_number (plus the previous generation's log, in case a crash landed
// between writing it and superseding it in the manifest), and replays
// their batches into d.mem in file, then sequence, order (spec.md §4.9
// step 4).
func (d *DB) replayLogs() error {
	names, err := d.fs.List(d.dirname)
	if err != nil {
		return err
	}

	var logNums []uint64
	for _, name := range names {
		ft, num, ok := parseDBFilename(name)
		if !ok || ft != fileTypeLog {
			continue
		}
		if num >= d.versions.LogNumber() || num == d.versions.PrevLogNumber() {
			logNums = append(logNums, num)
		}
	}
	sort.Slice(logNums, func(i, j int) bool { return logNums[i] < logNums[j] })

	var maxSeq uint64
	for _, num := range logNums {
		seq, err := d.replayLogFile(num)
		if err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if maxSeq > 0 {
		d.versions.SetLastSequence(maxSeq)
	}
	return nil
}

// replayLogFile applies every well-formed batch in the numbered log file to
// d.mem, returning the highest sequence number observed. A corrupt tail
// (the normal result of a crash mid-write) is tolerated unless
// Options.ParanoidChecks is set, per spec.md §4.9's recovery contract. If a
// batch would overflow the memtable, the memtable is flushed to a new
// level-0 file first and replay continues into a fresh one (spec.md §4.9
// step 4).
func (d *DB) replayLogFile(num uint64) (maxSeq uint64, err error) {
	f, err := d.fs.Open(dbFilename(d.fs, d.dirname, fileTypeLog, num))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := record.NewReader(f)
	for {
		payload, rerr := r.Next()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if d.opts.ParanoidChecks {
				return maxSeq, errors.Mark(errors.Wrapf(rerr, "riftdb: corrupt WAL %06d", num), ErrCorruption)
			}
			break
		}
		batch, berr := newBatchFromWireForm(append([]byte(nil), payload...))
		if berr != nil {
			if d.opts.ParanoidChecks {
				return maxSeq, errors.Mark(errors.Wrapf(berr, "riftdb: corrupt WAL %06d", num), ErrCorruption)
			}
			break
		}
		if !d.mem.empty() && !d.mem.hasRoom() {
			if err := d.flushMemTableDuringRecovery(); err != nil {
				return maxSeq, err
			}
		}
		if err := d.mem.apply(batch, batch.seqNum()); err != nil {
			if !errors.Is(err, arenaskl.ErrArenaFull) || d.mem.empty() {
				return maxSeq, err
			}
			if err := d.flushMemTableDuringRecovery(); err != nil {
				return maxSeq, err
			}
			if err := d.mem.apply(batch, batch.seqNum()); err != nil {
				return maxSeq, err
			}
		}
		if last := batch.seqNum() + uint64(batch.Count()) - 1; last > maxSeq {
			maxSeq = last
		}
	}
	return maxSeq, nil
}

// flushMemTableDuringRecovery writes d.mem to a new level-0 file and
// installs a fresh, empty memtable in its place. No locking is required:
// replayLogs runs before Open returns, with no possibility of concurrent
// access to d (mirroring the teacher's own writeLevel0Table comment about
// deleteObsoleteFiles during replay).
func (d *DB) flushMemTableDuringRecovery() error {
	mem := d.mem
	fileNum := d.versions.NextFileNum()
	d.versions.AddPendingOutput(fileNum)

	smallest, largest, size, err := d.writeTableFile(fileNum, mem)
	if err != nil {
		d.versions.RemovePendingOutput(fileNum)
		d.fs.Remove(dbFilename(d.fs, d.dirname, fileTypeTable, fileNum))
		return err
	}

	meta := manifest.NewFileMetadata(fileNum, size, smallest, largest)
	edit := &manifest.VersionEdit{}
	edit.AddFile(0, meta)
	if err := d.versions.LogAndApply(edit); err != nil {
		d.versions.RemovePendingOutput(fileNum)
		return err
	}

	d.versions.RemovePendingOutput(fileNum)
	d.mem = newMemTable(d.ucmp, d.opts.WriteBufferSize)
	return nil
}

func newCompactionLimiter(bytesPerSec float64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(unlimitedRate, unlimitedRate)
	}
	return rate.NewLimiter(bytesPerSec, bytesPerSec)
}
