// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package record

import "hash/crc32"

// castagnoliTable is the polynomial leveldb and its descendants have always
// used for WAL and manifest framing. There is no third-party package in the
// stack that implements this particular "mask the raw CRC" leveldb
// convention, so this one file is grounded directly on hash/crc32 rather
// than on an example repo.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// maskDelta is leveldb's constant for disguising the all-zero CRC of an
// all-zero block as an invalid checksum, so a preallocated-but-unwritten
// tail of a log file is never mistaken for a valid empty chunk.
const maskDelta = 0xa282ead8

// mask transforms a raw CRC-32C into the value stored on the wire.
func mask(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + maskDelta
}

// unmask reverses mask.
func unmask(c uint32) uint32 {
	c -= maskDelta
	return (c >> 17) | (c << 15)
}

// checksum computes the masked checksum of b, the form stored on the wire.
func checksum(b []byte) uint32 {
	return mask(crc32.Checksum(b, castagnoliTable))
}
