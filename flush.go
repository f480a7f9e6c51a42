// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/record"
	"github.com/riftdb/riftdb/internal/sstable"
)

// makeRoomForWriteLocked implements spec.md §4.4's MakeRoomForWrite: it
// ensures the active memtable can accept the write about to happen,
// stalling or freezing/rotating as the level-0 backlog demands. d.mu is
// held on entry and on every return.
func (d *DB) makeRoomForWriteLocked(force bool) error {
	allowDelay := true
	for {
		switch {
		case d.bgError != nil:
			return d.bgError

		case !force && d.mem.hasRoom():
			return nil

		case allowDelay && len(d.versions.Current().Files[0]) >= l0SlowdownTrigger:
			// Soft backpressure: give the background worker a chance to
			// catch up before resorting to a hard stall. Applied at most
			// once per call, per spec.md §4.4.
			allowDelay = false
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.mu.Lock()

		case !force && d.mem.hasRoom():
			return nil

		case d.imm != nil:
			if d.metrics != nil {
				d.metrics.recordWriteStall()
			}
			d.bgCond.Wait()

		case len(d.versions.Current().Files[0]) >= l0StopTrigger:
			if d.metrics != nil {
				d.metrics.recordWriteStall()
			}
			d.bgCond.Wait()

		default:
			if err := d.rotateWAL(); err != nil {
				return err
			}
			d.imm = d.mem
			d.mem = newMemTable(d.ucmp, d.opts.WriteBufferSize)
			force = false
			d.maybeScheduleCompaction()
		}
	}
}

// rotateWAL closes the active WAL (if any) and opens a fresh one under a
// newly allocated file number, the "close current WAL, open new WAL" step
// of spec.md §4.4 and §4.9.
func (d *DB) rotateWAL() error {
	if d.log != nil {
		if err := d.log.Close(); err != nil {
			return errors.Wrap(err, "riftdb: could not close WAL")
		}
	}
	if d.logFile != nil {
		if err := d.logFile.Close(); err != nil {
			return errors.Wrap(err, "riftdb: could not close WAL file")
		}
	}
	num := d.versions.NextFileNum()
	path := dbFilename(d.fs, d.dirname, fileTypeLog, num)
	f, err := d.fs.Create(path)
	if err != nil {
		return errors.Wrap(err, "riftdb: could not create WAL")
	}
	d.logFile = f
	d.log = record.NewWriter(f)
	d.logFileNum = num
	d.opts.EventListener.WALCreated(WALCreateInfo{JobID: d.nextJob(), Path: path, FileNum: num})
	return nil
}

// maybeScheduleCompaction starts the background worker if it is idle and
// there is flush or compaction work for it to do. d.mu must be held.
func (d *DB) maybeScheduleCompaction() {
	if d.closed || d.backgroundCompacting {
		return
	}
	if d.imm == nil && pickCompaction(d.versions.Current(), d.versions, d.ucmp) == nil {
		return
	}
	d.backgroundCompacting = true
	go d.backgroundWork()
}

// backgroundWork is the single background worker spec.md §5 describes: it
// drains pending flush and compaction work, one task at a time, until
// there is none left or a background error stops it.
func (d *DB) backgroundWork() {
	d.mu.Lock()
	for !d.closed {
		if d.imm != nil {
			if err := d.compactMemTableLocked(); err != nil {
				d.bgError = firstNonNilError(d.bgError, err)
				d.opts.EventListener.BackgroundError(BackgroundErrorInfo{Err: err})
				break
			}
			continue
		}
		c := pickCompaction(d.versions.Current(), d.versions, d.ucmp)
		if c == nil {
			break
		}
		if err := d.runCompaction(c); err != nil {
			d.bgError = firstNonNilError(d.bgError, err)
			d.opts.EventListener.BackgroundError(BackgroundErrorInfo{Err: err})
			break
		}
	}
	d.backgroundCompacting = false
	d.bgCond.Broadcast()
	d.mu.Unlock()
}

// compactMemTableLocked flushes d.imm to a new level-0-or-higher table file
// per spec.md §4.5. d.mu is held on entry and on return; it is released
// for the duration of the actual table write.
func (d *DB) compactMemTableLocked() error {
	start := time.Now()
	jobID := d.nextJob()
	d.opts.EventListener.FlushBegin(FlushInfo{JobID: jobID})

	imm := d.imm
	base := d.versions.Current()
	base.Ref()
	fileNum := d.versions.NextFileNum()
	d.versions.AddPendingOutput(fileNum)

	d.mu.Unlock()
	smallest, largest, size, err := d.writeTableFile(fileNum, imm)
	if err == nil {
		err = d.verifyTableFile(fileNum)
	}
	d.mu.Lock()

	info := FlushInfo{JobID: jobID, Duration: time.Since(start)}
	if err != nil {
		d.versions.RemovePendingOutput(fileNum)
		d.versions.UnrefVersion(base)
		d.fs.Remove(dbFilename(d.fs, d.dirname, fileTypeTable, fileNum))
		info.Err = err
		d.opts.EventListener.FlushEnd(info)
		return err
	}

	level := d.pickLevelForMemTableOutput(base, smallest, largest)
	meta := manifest.NewFileMetadata(fileNum, size, smallest, largest)

	edit := &manifest.VersionEdit{HasLogNumber: true, LogNumber: d.logFileNum}
	edit.AddFile(level, meta)
	if err := d.versions.LogAndApply(edit); err != nil {
		d.versions.RemovePendingOutput(fileNum)
		d.versions.UnrefVersion(base)
		info.Err = err
		d.opts.EventListener.FlushEnd(info)
		return err
	}

	d.versions.RemovePendingOutput(fileNum)
	d.versions.UnrefVersion(base)
	d.imm = nil
	close(imm.flushedCh)
	if d.metrics != nil {
		d.metrics.recordFlush(info.Duration)
		d.metrics.updateLevels(d.versions.Current())
	}

	info.Output = TableInfo{FileNum: fileNum, Size: size, Smallest: smallest.UserKey, Largest: largest.UserKey}
	d.opts.EventListener.FlushEnd(info)

	d.deleteObsoleteFiles()
	d.bgCond.Broadcast()
	return nil
}

// writeTableFile iterates imm in internal-key order, writing its records to
// a fresh table file via the TableBuilder contract (spec.md §4.5 step 2).
func (d *DB) writeTableFile(fileNum uint64, imm *memTable) (smallest, largest base.InternalKey, size uint64, err error) {
	path := dbFilename(d.fs, d.dirname, fileTypeTable, fileNum)
	f, err := d.fs.Create(path)
	if err != nil {
		return base.InternalKey{}, base.InternalKey{}, 0, errors.Wrap(err, "riftdb: could not create table file")
	}

	w := sstable.NewWriter(f, d.opts.Compression, d.opts.BlockSize)
	it := imm.newIter()
	defer it.Close()
	for valid := it.First(); valid; valid = it.Next() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			f.Close()
			return base.InternalKey{}, base.InternalKey{}, 0, err
		}
	}
	smallest, largest, size, err = w.Finish()
	if err != nil {
		f.Close()
		return base.InternalKey{}, base.InternalKey{}, 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return base.InternalKey{}, base.InternalKey{}, 0, err
	}
	return smallest, largest, size, f.Close()
}

// verifyTableFile opens fileNum through the table cache and positions an
// iterator at its first entry, the integrity check spec.md §4.5 step 3 calls for.
func (d *DB) verifyTableFile(fileNum uint64) error {
	it, err := d.tableCache.NewIterator(fileNum)
	if err != nil {
		return err
	}
	defer it.Close()
	it.First()
	return nil
}

// pickLevelForMemTableOutput implements spec.md §4.5 step 4: a file with no
// level-0 overlap is pushed as high as it can go without overlapping the
// next level or overlapping more than max_grandparent_overlap_bytes of the
// level two steps down.
func (d *DB) pickLevelForMemTableOutput(base *manifest.Version, smallest, largest base.InternalKey) int {
	level := 0
	if len(base.Overlaps(0, d.ucmp, smallest.UserKey, largest.UserKey)) > 0 {
		return level
	}
	for level < maxMemCompactLevel {
		if len(base.Overlaps(level+1, d.ucmp, smallest.UserKey, largest.UserKey)) > 0 {
			break
		}
		if level+2 < manifest.NumLevels {
			overlap := base.Overlaps(level+2, d.ucmp, smallest.UserKey, largest.UserKey)
			if manifest.TotalSize(overlap) > maxGrandparentOverlapBytes {
				break
			}
		}
		level++
	}
	return level
}

// deleteObsoleteFiles removes table files no live Version references and
// no pending output claims, plus superseded log and manifest files
// (spec.md §3's File lifecycle, §4.5 step 6 "RemoveObsoleteFiles").
func (d *DB) deleteObsoleteFiles() {
	names, err := d.fs.List(d.dirname)
	if err != nil {
		return
	}

	type victim struct {
		name    string
		fileNum uint64
		isTable bool
	}
	var victims []victim
	liveTables := make(map[uint64]string)

	for _, name := range names {
		ft, num, ok := parseDBFilename(name)
		if !ok {
			continue
		}
		switch ft {
		case fileTypeTable:
			liveTables[num] = name
		case fileTypeLog:
			if num != d.logFileNum && num < d.versions.LogNumber() {
				victims = append(victims, victim{name, num, false})
			}
		case fileTypeManifest:
			if num != d.versions.ManifestFileNum() {
				victims = append(victims, victim{name, num, false})
			}
		}
	}

	for _, num := range d.versions.ObsoleteFiles(liveTables) {
		victims = append(victims, victim{liveTables[num], num, true})
	}

	for _, v := range victims {
		d.fs.Remove(d.fs.PathJoin(d.dirname, v.name))
		if v.isTable {
			d.tableCache.Evict(v.fileNum)
		}
	}
}
