// Copyright 2013 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/manifest"
)

const (
	targetFileSize = 2 * 1024 * 1024

	// expandedCompactionByteSizeLimit caps how far grow will widen the
	// startLevel input set while holding the outputLevel set fixed.
	expandedCompactionByteSizeLimit = 25 * targetFileSize

	// maxGrandparentOverlapBytes caps how much of the level two steps down
	// a single compaction output file may overlap, bounding the cost of a
	// future compaction of that grandparent level (spec.md §4.5/§4.7's
	// "grandparent overlap" rollover trigger: 10x target file size).
	maxGrandparentOverlapBytes = 10 * targetFileSize
)

// compaction describes one level(N) + level(N+1) merge, plus the
// level(N+2) files ("grandparents") it must avoid overlapping too much of.
type compaction struct {
	startLevel  int
	outputLevel int

	// version is the Version this compaction was picked against, kept
	// around so isBaseLevelForUkey can consult levels the compaction
	// itself does not read from.
	version *manifest.Version

	// inputs[0] is the startLevel file set, inputs[1] is the overlapping
	// outputLevel file set, inputs[2] is the overlapping grandparent file
	// set consulted only to bound output file size.
	inputs [3][]*manifest.FileMetadata

	smallest, largest base.InternalKey

	// trivialMove is true when the compaction can be satisfied by
	// reassigning the single startLevel file to outputLevel without
	// rewriting any bytes (spec.md §4.7's trivial-move optimization).
	trivialMove bool
}

// pickCompaction chooses the next compaction for cur, preferring the
// size-based score computed by Version.UpdateCompactionScore and falling
// back to any file whose seek budget has been exhausted (spec.md §4.6/§3).
// It returns nil when no compaction is warranted.
func pickCompaction(cur *manifest.Version, vs *manifest.VersionSet, ucmp base.Comparer) *compaction {
	var c *compaction

	if cur.CompactionScore >= 1 {
		level := cur.CompactionLevel
		files := cur.Files[level]
		if len(files) == 0 {
			return nil
		}
		cp := vs.CompactPointer(level)
		var picked *manifest.FileMetadata
		for _, f := range files {
			if !cp.Valid() || base.InternalCompare(ucmp, f.Largest, cp) > 0 {
				picked = f
				break
			}
		}
		if picked == nil {
			picked = files[0]
		}
		c = &compaction{startLevel: level, outputLevel: level + 1}
		c.inputs[0] = []*manifest.FileMetadata{picked}
	} else {
		for level := 0; level < manifest.NumLevels-1; level++ {
			for _, f := range cur.Files[level] {
				if f.NeedsSeekCompaction() {
					c = &compaction{startLevel: level, outputLevel: level + 1}
					c.inputs[0] = []*manifest.FileMetadata{f}
					break
				}
			}
			if c != nil {
				break
			}
		}
	}
	if c == nil {
		return nil
	}
	c.version = cur

	if c.startLevel == 0 {
		smallest, largest := ikeyRange(ucmp, c.inputs[0], nil)
		c.inputs[0] = cur.Overlaps(0, ucmp, smallest.UserKey, largest.UserKey)
	}
	c.setupOtherInputs(cur, ucmp)

	// spec.md §4.6's trivial-move optimization applies only above level 0
	// (an L0 file with no overlap still needs to be ordered against the
	// rest of L0 by a real merge) and only when promoting it would not
	// dump more than maxGrandparentOverlapBytes onto the grandparent
	// level, which would make a future compaction of that level expensive.
	if c.startLevel > 0 && len(c.inputs[0]) == 1 && len(c.inputs[1]) == 0 &&
		manifest.TotalSize(c.inputs[2]) <= maxGrandparentOverlapBytes {
		c.trivialMove = true
	}
	return c
}

// setupOtherInputs fills inputs[1]/inputs[2] and widens inputs[0]/inputs[1]
// together where doing so is free (grow).
func (c *compaction) setupOtherInputs(cur *manifest.Version, ucmp base.Comparer) {
	smallest0, largest0 := ikeyRange(ucmp, c.inputs[0], nil)
	c.inputs[1] = cur.Overlaps(c.outputLevel, ucmp, smallest0.UserKey, largest0.UserKey)
	smallest01, largest01 := ikeyRange(ucmp, c.inputs[0], c.inputs[1])

	if c.grow(cur, ucmp, smallest01, largest01) {
		smallest01, largest01 = ikeyRange(ucmp, c.inputs[0], c.inputs[1])
	}

	if c.outputLevel+1 < manifest.NumLevels {
		c.inputs[2] = cur.Overlaps(c.outputLevel+1, ucmp, smallest01.UserKey, largest01.UserKey)
	}
	c.smallest, c.largest = smallest01, largest01
}

// grow widens inputs[0] (and recomputes inputs[1]) without changing the
// number of outputLevel files the compaction touches, so long as the
// combined size stays under expandedCompactionByteSizeLimit.
func (c *compaction) grow(cur *manifest.Version, ucmp base.Comparer, sm, la base.InternalKey) bool {
	if len(c.inputs[1]) == 0 {
		return false
	}
	grow0 := cur.Overlaps(c.startLevel, ucmp, sm.UserKey, la.UserKey)
	if len(grow0) <= len(c.inputs[0]) {
		return false
	}
	if manifest.TotalSize(grow0)+manifest.TotalSize(c.inputs[1]) >= expandedCompactionByteSizeLimit {
		return false
	}
	sm1, la1 := ikeyRange(ucmp, grow0, nil)
	grow1 := cur.Overlaps(c.outputLevel, ucmp, sm1.UserKey, la1.UserKey)
	if len(grow1) != len(c.inputs[1]) {
		return false
	}
	c.inputs[0] = grow0
	c.inputs[1] = grow1
	return true
}

// isBaseLevelForUkey reports whether no level beyond outputLevel can
// hold ukey, the condition under which a DELETE tombstone for ukey is safe
// to drop entirely rather than carried forward (spec.md §4.7 "Tombstone
// handling").
func (c *compaction) isBaseLevelForUkey(ucmp base.Comparer, ukey []byte) bool {
	for level := c.outputLevel + 1; level < manifest.NumLevels; level++ {
		for _, f := range c.inputsVersionFiles(level) {
			if ucmp.Compare(ukey, f.Largest.UserKey) <= 0 {
				if ucmp.Compare(ukey, f.Smallest.UserKey) >= 0 {
					return false
				}
				break
			}
		}
	}
	return true
}

// inputsVersionFiles returns level's files in the Version the compaction
// was picked from (c.version, which pickCompaction sets), or nil when no
// Version is set.
func (c *compaction) inputsVersionFiles(level int) []*manifest.FileMetadata {
	if c.version == nil {
		return nil
	}
	return c.version.Files[level]
}

// ikeyRange returns the smallest and largest internal key across the
// union of a and b, both of which must individually be sorted (level 0
// inputs are sorted into range by the caller via Overlaps already scanning
// all candidates, so the union here is a simple min/max fold rather than a
// merge).
func ikeyRange(ucmp base.Comparer, a, b []*manifest.FileMetadata) (smallest, largest base.InternalKey) {
	first := true
	consider := func(f *manifest.FileMetadata) {
		if first {
			smallest, largest = f.Smallest, f.Largest
			first = false
			return
		}
		if base.InternalCompare(ucmp, f.Smallest, smallest) < 0 {
			smallest = f.Smallest
		}
		if base.InternalCompare(ucmp, f.Largest, largest) > 0 {
			largest = f.Largest
		}
	}
	for _, f := range a {
		consider(f)
	}
	for _, f := range b {
		consider(f)
	}
	return smallest, largest
}
