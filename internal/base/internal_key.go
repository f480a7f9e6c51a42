// Copyright 2012 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// InternalKeyKind enumerates the kind of a record stored behind an
// InternalKey: either a live value, or a tombstone marking a user key as
// deleted.
type InternalKeyKind uint8

const (
	// InternalKeyKindDelete marks a user key as deleted as of some sequence
	// number. It is spec.md's DELETION.
	InternalKeyKindDelete InternalKeyKind = 0
	// InternalKeyKindSet stores a live value for a user key as of some
	// sequence number. It is spec.md's VALUE.
	InternalKeyKindSet InternalKeyKind = 1

	// InternalKeyKindMax is used to construct the lookup key for a point
	// read: it is the largest kind value, so that the lookup key sorts no
	// later than any real record sharing its user key and sequence number
	// (it compares equal to a Set record, since Max == Set).
	InternalKeyKindMax InternalKeyKind = InternalKeyKindSet
)

// InternalKeySeqNumMax is the largest representable sequence number. Its
// trailer sorts before every real sequence number for a given user key, so
// a lookup key built from it with MakeInternalKey sees every version of
// that key.
const InternalKeySeqNumMax = uint64(1)<<56 - 1

// trailerLen is the fixed-size suffix appended to every user key: a 56-bit
// sequence number and an 8-bit kind, packed into 8 bytes.
const trailerLen = 8

func makeTrailer(seqNum uint64, kind InternalKeyKind) uint64 {
	return (seqNum << 8) | uint64(kind)
}

// InternalKey is the tuple (user key, sequence number, kind) used to order
// records so that, for a given user key, the newest version sorts first.
type InternalKey struct {
	UserKey []byte
	Trailer uint64
}

// MakeInternalKey constructs an InternalKey from its parts.
func MakeInternalKey(userKey []byte, seqNum uint64, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: makeTrailer(seqNum, kind)}
}

// SeqNum returns the key's sequence number.
func (k InternalKey) SeqNum() uint64 { return k.Trailer >> 8 }

// Kind returns the key's kind.
func (k InternalKey) Kind() InternalKeyKind { return InternalKeyKind(k.Trailer & 0xff) }

// Size returns the encoded length of the internal key.
func (k InternalKey) Size() int { return len(k.UserKey) + trailerLen }

// Encode writes the wire form of k (user key bytes followed by the
// little-endian trailer) into buf, which must be at least k.Size() bytes.
func (k InternalKey) Encode(buf []byte) {
	n := copy(buf, k.UserKey)
	binary.LittleEndian.PutUint64(buf[n:], k.Trailer)
}

// DecodeInternalKey decodes the wire form produced by Encode. The returned
// key aliases buf.
func DecodeInternalKey(buf []byte) InternalKey {
	n := len(buf) - trailerLen
	if n < 0 {
		return InternalKey{}
	}
	return InternalKey{
		UserKey: buf[:n],
		Trailer: binary.LittleEndian.Uint64(buf[n:]),
	}
}

// Valid reports whether k differs from the zero InternalKey: it has a
// non-zero trailer or a non-nil user key.
func (k InternalKey) Valid() bool { return k.Trailer != 0 || k.UserKey != nil }

// Clone returns a deep copy of k.
func (k InternalKey) Clone() InternalKey {
	if len(k.UserKey) == 0 {
		return k
	}
	u := make([]byte, len(k.UserKey))
	copy(u, k.UserKey)
	return InternalKey{UserKey: u, Trailer: k.Trailer}
}

// InternalCompare orders InternalKeys: ascending by user key per ucmp, then
// descending by sequence number, then descending by kind. A larger sequence
// number therefore produces a *smaller* internal key, so the newest version
// of a user key always sorts first.
func InternalCompare(ucmp Comparer, a, b InternalKey) int {
	if c := ucmp.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	// Trailers are compared in reverse: a higher trailer (higher seqnum,
	// then higher kind) sorts first.
	switch {
	case a.Trailer > b.Trailer:
		return -1
	case a.Trailer < b.Trailer:
		return 1
	default:
		return 0
	}
}

// InternalKeyComparer adapts a user Comparer into a Comparer over the
// encoded wire form of InternalKeys, for components (the skip list, the
// sstable block index) that only know how to compare flat []byte keys.
type InternalKeyComparer struct {
	UserComparer Comparer
}

// Compare implements Comparer, decoding both sides as InternalKeys.
func (c InternalKeyComparer) Compare(a, b []byte) int {
	return InternalCompare(c.UserComparer, DecodeInternalKey(a), DecodeInternalKey(b))
}

// Name implements Comparer.
func (c InternalKeyComparer) Name() string { return "riftdb.InternalKeyComparator" }

// ParseKind validates a raw kind byte read off the wire.
func ParseKind(b byte) (InternalKeyKind, error) {
	k := InternalKeyKind(b)
	if k > InternalKeyKindMax {
		return 0, errors.Newf("riftdb: invalid internal key kind %d", b)
	}
	return k, nil
}
