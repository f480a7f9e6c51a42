// Copyright 2013 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"time"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
	"github.com/riftdb/riftdb/internal/sstable"
)

// runCompaction executes c per spec.md §4.7: merge c.inputs[0] and
// c.inputs[1] in internal-key order, dropping superseded records and
// exhausted tombstones, splitting the output across files bounded by
// targetFileSize and grandparent overlap, then installs the result as a
// VersionEdit. The caller (backgroundWork) holds d.mu on entry and gets it
// back held on return; runCompaction releases it while it works.
func (d *DB) runCompaction(c *compaction) error {
	d.mu.Unlock()
	defer d.mu.Lock()

	start := time.Now()
	jobID := d.nextJobIDUnlocked()
	info := CompactionInfo{JobID: jobID, InputLevel: c.startLevel, OutputLevel: c.outputLevel, TrivialMove: c.trivialMove}
	d.opts.EventListener.CompactionBegin(info)

	if c.trivialMove {
		err := d.installCompaction(c, nil)
		info.Duration = time.Since(start)
		info.Err = err
		d.opts.EventListener.CompactionEnd(info)
		return err
	}

	outputs, err := d.mergeCompactionInputs(c)
	info.Duration = time.Since(start)
	if err != nil {
		info.Err = err
		d.opts.EventListener.CompactionEnd(info)
		return err
	}
	for _, o := range outputs {
		info.Output = append(info.Output, TableInfo{
			FileNum: o.FileNum, Size: o.Size,
			Smallest: o.Smallest.UserKey, Largest: o.Largest.UserKey,
		})
	}
	if err := d.installCompaction(c, outputs); err != nil {
		info.Err = err
		d.opts.EventListener.CompactionEnd(info)
		return err
	}
	d.opts.EventListener.CompactionEnd(info)
	return nil
}

// mergeCompactionInputs does the actual read-merge-write work of a
// compaction, unlocked, rate-limiting its output writes via
// d.compactionLimiter (spec.md SPEC_FULL's compaction-bandwidth throttle).
func (d *DB) mergeCompactionInputs(c *compaction) ([]*manifest.FileMetadata, error) {
	iters, err := d.compactionInputIters(c)
	if err != nil {
		return nil, err
	}
	merged := newMergingIterator(d.ucmp, iters...)
	defer merged.Close()

	smallestSnapshot := d.oldestSnapshot()

	var outputs []*manifest.FileMetadata
	var w *sstable.Writer
	var f interface {
		Sync() error
		Close() error
	}
	var curFileNum uint64
	var curLargest base.InternalKey
	var haveSmallest bool
	// grandparentIdx only ever advances, so grandparentOverlap never
	// rescans a grandparent file it has already stepped past. overlapBytes
	// is the overlap accrued since the current output file began; it
	// resets in finishOutput so a grandparent already counted against a
	// finished output doesn't also force every later output in this same
	// compaction to roll over immediately.
	var grandparentIdx int
	var overlapBytes uint64

	finishOutput := func() error {
		if w == nil {
			return nil
		}
		smallest, largest, size, err := w.Finish()
		if err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		outputs = append(outputs, manifest.NewFileMetadata(curFileNum, size, smallest, largest))
		w = nil
		f = nil
		haveSmallest = false
		overlapBytes = 0
		return nil
	}

	openOutput := func() error {
		d.mu.Lock()
		curFileNum = d.versions.NextFileNum()
		d.versions.AddPendingOutput(curFileNum)
		d.mu.Unlock()
		path := dbFilename(d.fs, d.dirname, fileTypeTable, curFileNum)
		file, err := d.fs.Create(path)
		if err != nil {
			return err
		}
		f = file
		w = sstable.NewWriter(file, d.opts.Compression, d.opts.BlockSize)
		return nil
	}

	grandparentOverlap := func(largest base.InternalKey) uint64 {
		for grandparentIdx < len(c.inputs[2]) &&
			base.InternalCompare(d.ucmp, c.inputs[2][grandparentIdx].Largest, largest) <= 0 {
			overlapBytes += c.inputs[2][grandparentIdx].Size
			grandparentIdx++
		}
		return overlapBytes
	}

	var currentUserKey []byte
	var haveCurrentUserKey bool
	var lastSequenceForKey uint64 = base.InternalKeySeqNumMax

	for valid := merged.First(); valid; valid = merged.Next() {
		ikey := merged.Key()

		if !haveCurrentUserKey || d.ucmp.Compare(ikey.UserKey, currentUserKey) != 0 {
			currentUserKey = append(currentUserKey[:0], ikey.UserKey...)
			haveCurrentUserKey = true
			lastSequenceForKey = base.InternalKeySeqNumMax
		}

		drop := false
		if lastSequenceForKey <= smallestSnapshot {
			drop = true
		} else if ikey.Kind() == base.InternalKeyKindDelete &&
			ikey.SeqNum() <= smallestSnapshot &&
			c.isBaseLevelForUkey(d.ucmp, ikey.UserKey) {
			drop = true
		}
		lastSequenceForKey = ikey.SeqNum()

		if drop {
			continue
		}

		if w == nil {
			if err := openOutput(); err != nil {
				return nil, err
			}
		}
		if !haveSmallest {
			haveSmallest = true
		}
		curLargest = ikey.Clone()

		d.compactionLimiter.Wait(float64(ikey.Size() + len(merged.Value())))
		if err := w.Add(ikey, merged.Value()); err != nil {
			return nil, err
		}

		if w.FileSize() >= targetFileSize || grandparentOverlap(curLargest) >= maxGrandparentOverlapBytes {
			if err := finishOutput(); err != nil {
				return nil, err
			}
		}
	}
	if err := finishOutput(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// compactionInputIters builds the source iterators mergeCompactionInputs
// reads from: individual per-file iterators for level 0 (files there may
// overlap in key range), concatenating level iterators otherwise.
func (d *DB) compactionInputIters(c *compaction) ([]base.InternalIterator, error) {
	var iters []base.InternalIterator
	add := func(level int, files []*manifest.FileMetadata) error {
		if len(files) == 0 {
			return nil
		}
		if level == 0 {
			for _, fm := range files {
				it, err := d.tableCache.NewIterator(fm.FileNum)
				if err != nil {
					return err
				}
				iters = append(iters, it)
			}
			return nil
		}
		it, err := newLevelIterator(d.tableCache, d.ucmp, files)
		if err != nil {
			return err
		}
		iters = append(iters, it)
		return nil
	}
	if err := add(c.startLevel, c.inputs[0]); err != nil {
		return nil, err
	}
	if err := add(c.outputLevel, c.inputs[1]); err != nil {
		return nil, err
	}
	return iters, nil
}

// oldestSnapshot returns the lowest sequence number any open Snapshot
// pins, or the database's current sequence if there are none, the
// smallest_snapshot bound spec.md §4.7's drop policy is defined against.
func (d *DB) oldestSnapshot() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshots.oldest(d.versions.LastSequence())
}

// installCompaction builds and applies the VersionEdit that removes
// c.inputs[0]/c.inputs[1] and adds outputs (or, for a trivial move,
// reassigns the single input file to outputLevel without rewriting it),
// then advances the level's compact pointer and schedules obsolete-file
// cleanup.
func (d *DB) installCompaction(c *compaction, outputs []*manifest.FileMetadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	edit := &manifest.VersionEdit{}
	for _, f := range c.inputs[0] {
		edit.DeleteFile(c.startLevel, f.FileNum)
	}
	for _, f := range c.inputs[1] {
		edit.DeleteFile(c.outputLevel, f.FileNum)
	}
	if c.trivialMove {
		edit.AddFile(c.outputLevel, c.inputs[0][0])
	} else {
		for _, o := range outputs {
			edit.AddFile(c.outputLevel, o)
			d.versions.RemovePendingOutput(o.FileNum)
		}
	}
	edit.AddCompactPointer(c.startLevel, c.largest)

	if err := d.versions.LogAndApply(edit); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.recordCompaction()
		d.metrics.updateLevels(d.versions.Current())
		d.metrics.addCompactionIO(c.outputLevel, compactionBytesRead(c), compactionBytesWritten(c, outputs))
	}
	d.deleteObsoleteFiles()
	d.bgCond.Broadcast()
	return nil
}

func compactionBytesRead(c *compaction) uint64 {
	return manifest.TotalSize(c.inputs[0]) + manifest.TotalSize(c.inputs[1])
}

func compactionBytesWritten(c *compaction, outputs []*manifest.FileMetadata) uint64 {
	if c.trivialMove {
		return c.inputs[0][0].Size
	}
	return manifest.TotalSize(outputs)
}

func (d *DB) nextJobIDUnlocked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextJob()
}
