// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"encoding/binary"

	"github.com/riftdb/riftdb/internal/base"
)

// batchHeaderLen is the fixed prefix before a batch's records: an 8-byte
// sequence number for the batch's first element, followed by a 4-byte
// count.
const batchHeaderLen = 12

// invalidBatchCount marks a Batch whose wire form failed to decode.
const invalidBatchCount = 1<<32 - 1

// Batch is a sequence of Set and/or Delete operations applied atomically
// by DB.Apply (spec.md §4.1/§4.4). Its zero value is an empty, ready to use
// batch.
//
// Batch's wire format is also the WAL record payload written for it: an
// 8-byte sequence number, a 4-byte count, then that many records of
//
//	1 byte kind || varint-string key [|| varint-string value if kind == Set]
type Batch struct {
	data []byte
}

func (b *Batch) init() {
	if len(b.data) == 0 {
		b.data = make([]byte, batchHeaderLen)
	}
}

// Set appends a Set(key, value) operation to the batch.
func (b *Batch) Set(key, value []byte) {
	b.init()
	b.data = append(b.data, byte(base.InternalKeyKindSet))
	b.appendStr(key)
	b.appendStr(value)
	b.setCount(b.count() + 1)
}

// Delete appends a Delete(key) operation to the batch.
func (b *Batch) Delete(key []byte) {
	b.init()
	b.data = append(b.data, byte(base.InternalKeyKindDelete))
	b.appendStr(key)
	b.setCount(b.count() + 1)
}

// Empty reports whether the batch has no operations.
func (b *Batch) Empty() bool { return len(b.data) == 0 }

// Count returns the number of operations in the batch.
func (b *Batch) Count() int {
	if len(b.data) == 0 {
		return 0
	}
	return int(b.count())
}

func (b *Batch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	b.data = append(b.data, buf[:n]...)
	b.data = append(b.data, s...)
}

func (b *Batch) seqNum() uint64 {
	return binary.LittleEndian.Uint64(b.data[:8])
}

func (b *Batch) setSeqNum(seqNum uint64) {
	binary.LittleEndian.PutUint64(b.data[:8], seqNum)
}

func (b *Batch) count() uint32 {
	return binary.LittleEndian.Uint32(b.data[8:12])
}

func (b *Batch) setCount(n uint32) {
	binary.LittleEndian.PutUint32(b.data[8:12], n)
}

func (b *Batch) iter() batchIter {
	if len(b.data) < batchHeaderLen {
		return nil
	}
	return b.data[batchHeaderLen:]
}

// batchIter walks the records of a batch's wire form.
type batchIter []byte

// next returns the next operation in the batch. ok is false once the
// iterator is exhausted or the remaining bytes are malformed.
func (t *batchIter) next() (kind base.InternalKeyKind, key, value []byte, ok bool) {
	p := *t
	if len(p) == 0 {
		return 0, nil, nil, false
	}
	k, err := base.ParseKind(p[0])
	if err != nil {
		return 0, nil, nil, false
	}
	kind, *t = k, p[1:]
	key, ok = t.nextStr()
	if !ok {
		return 0, nil, nil, false
	}
	if kind != base.InternalKeyKindDelete {
		value, ok = t.nextStr()
		if !ok {
			return 0, nil, nil, false
		}
	}
	return kind, key, value, true
}

func (t *batchIter) nextStr() (s []byte, ok bool) {
	p := *t
	u, numBytes := binary.Uvarint(p)
	if numBytes <= 0 {
		return nil, false
	}
	p = p[numBytes:]
	if u > uint64(len(p)) {
		return nil, false
	}
	s, *t = p[:u], p[u:]
	return s, true
}

// newBatchFromWireForm wraps a decoded WAL record payload for replay,
// validating the header and record stream so a corrupt tail is reported
// rather than panicking mid-iteration.
func newBatchFromWireForm(data []byte) (*Batch, error) {
	if len(data) < batchHeaderLen {
		return nil, ErrCorruption
	}
	b := &Batch{data: data}
	if b.count() == invalidBatchCount {
		return nil, ErrInvalidBatch
	}
	n := uint32(0)
	for iter := b.iter(); ; n++ {
		_, _, _, ok := iter.next()
		if !ok {
			break
		}
	}
	if n != b.count() {
		return nil, ErrCorruption
	}
	return b, nil
}
