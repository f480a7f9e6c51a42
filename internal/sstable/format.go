package sstable

import (
	"encoding/binary"

	"github.com/riftdb/riftdb/internal/base"
)

// blockTrailerLen is the per-block trailer: a 1-byte compression kind
// followed by an 8-byte xxhash64 checksum of the compressed payload.
const blockTrailerLen = 1 + 8

// footerLen is the fixed-size trailer of the file: the index block's
// offset and length, each a fixed 8 bytes so Open never needs to guess
// how many bytes to read before it knows where the index is.
const footerLen = 8 + 8

// appendEntry serializes one (internal key, value) pair into a growing
// block buffer as varint(klen)||key||varint(vlen)||value, the flat,
// restart-point-free record layout spec.md §4.6 calls for.
func appendEntry(buf []byte, key base.InternalKey, value []byte) []byte {
	keyLen := key.Size()
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(keyLen))
	buf = append(buf, tmp[:n]...)
	keyStart := len(buf)
	buf = append(buf, make([]byte, keyLen)...)
	key.Encode(buf[keyStart:])
	n = binary.PutUvarint(tmp[:], uint64(len(value)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, value...)
	return buf
}

// blockReader sequentially decodes entries out of a decompressed block.
type blockReader struct {
	data []byte
	pos  int

	key   base.InternalKey
	value []byte
	ok    bool
}

func newBlockReader(data []byte) *blockReader { return &blockReader{data: data} }

// next decodes the next entry, returning false at the end of the block.
func (b *blockReader) next() bool {
	if b.pos >= len(b.data) {
		b.ok = false
		return false
	}
	keyLen, n := binary.Uvarint(b.data[b.pos:])
	b.pos += n
	keyBuf := b.data[b.pos : b.pos+int(keyLen)]
	b.pos += int(keyLen)
	valLen, n := binary.Uvarint(b.data[b.pos:])
	b.pos += n
	b.value = b.data[b.pos : b.pos+int(valLen)]
	b.pos += int(valLen)
	b.key = base.DecodeInternalKey(keyBuf)
	b.ok = true
	return true
}

func (b *blockReader) reset() { b.pos = 0 }
