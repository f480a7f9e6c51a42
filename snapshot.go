// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

// Snapshot pins a sequence number so reads through it never observe writes
// committed afterward (spec.md §3's Snapshot lifecycle). The zero value is
// not usable; obtain one from DB.NewSnapshot.
type Snapshot struct {
	db     *DB
	seqNum uint64
	prev, next *Snapshot
}

// SeqNum returns the sequence number this snapshot pins.
func (s *Snapshot) SeqNum() uint64 { return s.seqNum }

// Close releases the snapshot, allowing compaction to drop tombstones and
// superseded versions it was holding back.
func (s *Snapshot) Close() error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.snapshots.remove(s)
	return nil
}

// snapshotList is an intrusive doubly-linked list of live snapshots kept in
// insertion order, which for monotonically assigned sequence numbers is
// also ascending-sequence order (spec.md §3). dummy is the sentinel head;
// the list is circular.
type snapshotList struct {
	dummy Snapshot
}

func (l *snapshotList) init() {
	l.dummy.next = &l.dummy
	l.dummy.prev = &l.dummy
}

func (l *snapshotList) empty() bool { return l.dummy.next == &l.dummy }

func (l *snapshotList) pushBack(s *Snapshot) {
	s.prev = l.dummy.prev
	s.next = &l.dummy
	s.prev.next = s
	s.next.prev = s
}

func (l *snapshotList) remove(s *Snapshot) {
	if s.next == nil {
		return // already removed
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next, s.prev = nil, nil
}

// oldest returns the smallest sequence number pinned by any live snapshot,
// or seqNumMax when there are none — the "smallest_snapshot" spec.md §4.7
// compares every compaction record's sequence against.
func (l *snapshotList) oldest(seqNumMax uint64) uint64 {
	if l.empty() {
		return seqNumMax
	}
	return l.dummy.next.seqNum
}
