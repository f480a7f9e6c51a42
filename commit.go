// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"time"

	"github.com/cockroachdb/errors"
)

// leaderGroupSmallCap/leaderGroupBigCap are the batch-group size caps spec.md §4.4 step 4
// sets: a small leader batch may absorb followers up to 128KB combined; a
// leader already past that absorbs up to 1MB.
const (
	leaderGroupSmallCap = 128 << 10
	leaderGroupBigCap   = 1 << 20
)

// commitRequest is one writer's place in the FIFO described by spec.md
// §4.4: every Apply call enqueues one, waits until it is either the queue
// front (and becomes leader) or has been merged into a leader's group (and
// simply waits for the result).
type commitRequest struct {
	batch  *Batch
	sync   bool
	merged bool
	err    error
	done   chan struct{}
}

// Apply commits batch atomically: it is durably written to the WAL (and,
// if sync is true, fsynced) before being applied to the active memtable.
// Concurrent Apply calls are coalesced into batch groups per spec.md §4.4.
func (d *DB) Apply(batch *Batch, sync bool) error {
	if batch.Empty() {
		return nil
	}
	if batch.Count() == invalidBatchCount {
		return ErrInvalidBatch
	}

	req := &commitRequest{batch: batch, sync: sync, done: make(chan struct{}, 1)}

	d.mu.Lock()
	d.writeQueue = append(d.writeQueue, req)
	for len(d.writeQueue) > 0 && d.writeQueue[0] != req && !req.merged {
		d.writeCond.Wait()
	}
	if req.merged {
		d.mu.Unlock()
		<-req.done
		return req.err
	}
	// req is now the queue's front: it leads this round's batch group.
	err := d.runAsLeader(req)
	d.mu.Unlock()
	return err
}

// runAsLeader performs spec.md §4.4 steps 3-7. d.mu is held on entry and
// must still be held on return, but is released across the WAL append,
// optional fsync, and memtable inserts: spec.md §4.4 step 6 and §5 both
// call for writers to do that I/O with no mutex held, so Get, NewIterator,
// and the background flush/compaction worker are not blocked behind it.
func (d *DB) runAsLeader(leader *commitRequest) error {
	if err := d.makeRoomForWriteLocked(false); err != nil {
		leader.err = err
		d.popWriteQueue(1)
		return err
	}

	group := d.buildBatchGroup(leader)

	firstSeq := d.versions.LastSequence() + 1
	seqNum := firstSeq
	wantSync := false
	for _, r := range group {
		r.batch.setSeqNum(seqNum)
		seqNum += uint64(r.batch.Count())
		wantSync = wantSync || r.sync
	}

	// mem/log/logFile are pinned before unlocking: the FIFO above ensures
	// no other leader runs concurrently, and the background worker never
	// reassigns these fields, so they are stable for the duration of the
	// unlocked I/O below.
	mem := d.mem
	log := d.log
	logFile := d.logFile

	var start time.Time
	if d.metrics != nil {
		start = time.Now()
	}

	// Release the d.mu lock while doing I/O.
	// Note the unusual order: Unlock and then Lock.
	d.mu.Unlock()
	var err error
	for _, r := range group {
		if _, werr := log.WriteRecord(r.batch.data); werr != nil {
			err = errors.Wrap(werr, "riftdb: could not write WAL record")
			break
		}
	}
	if err == nil && wantSync {
		if serr := logFile.Sync(); serr != nil {
			err = errors.Wrap(serr, "riftdb: could not sync WAL")
		}
	}
	if err == nil {
		seq := firstSeq
		for _, r := range group {
			if aerr := mem.apply(r.batch, seq); aerr != nil {
				err = aerr
				break
			}
			seq += uint64(r.batch.Count())
		}
	}
	d.mu.Lock()

	if d.metrics != nil {
		d.metrics.recordCommit(time.Since(start))
	}
	if err == nil {
		d.versions.SetLastSequence(seqNum - 1)
	} else {
		d.bgError = firstNonNilError(d.bgError, err)
	}

	leader.err = err
	for _, r := range group[1:] {
		r.err = err
		r.done <- struct{}{}
	}
	d.popWriteQueue(len(group))
	return err
}

// buildBatchGroup scans the writer queue behind leader, absorbing
// followers whose sync flag is no stronger than the leader's (a follower
// that demands sync cannot ride a leader that won't fsync) until the
// combined batch size would exceed the cap spec.md §4.4 step 4 sets.
func (d *DB) buildBatchGroup(leader *commitRequest) []*commitRequest {
	group := []*commitRequest{leader}
	size := len(leader.batch.data)
	limit := leaderGroupSmallCap
	if size > leaderGroupSmallCap {
		limit = leaderGroupBigCap
	}
	for i := 1; i < len(d.writeQueue); i++ {
		f := d.writeQueue[i]
		if f.sync && !leader.sync {
			break
		}
		if size+len(f.batch.data) > limit {
			break
		}
		size += len(f.batch.data)
		f.merged = true
		group = append(group, f)
	}
	return group
}

// popWriteQueue removes n entries (the just-serviced group) from the front
// of the FIFO and wakes whichever writer is now at the front.
func (d *DB) popWriteQueue(n int) {
	d.writeQueue = d.writeQueue[n:]
	d.writeCond.Broadcast()
}

func firstNonNilError(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
