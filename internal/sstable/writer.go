package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/base"
)

type indexEntry struct {
	firstKey base.InternalKey
	offset   uint64
	length   uint64
}

// Writer implements the TableBuilder contract of spec.md §6:
// Add/Finish/FileSize, backing a sequence of compressed, checksummed data
// blocks followed by an index block and fixed footer.
type Writer struct {
	w           io.Writer
	compression Compression
	blockSize   int

	offset uint64
	index  []indexEntry

	pending     []byte
	pendingFirst base.InternalKey
	havePending bool

	smallest, largest base.InternalKey
	haveSmallest      bool

	err error
}

// NewWriter returns a Writer that appends table data to w, targeting
// blocks of approximately blockSize bytes before compression.
func NewWriter(w io.Writer, compression Compression, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = 4096
	}
	return &Writer{w: w, compression: compression, blockSize: blockSize}
}

// Add appends one record. Keys must be supplied in increasing internal-key
// order; the caller (the flush/compaction path) is responsible for that,
// the same contract spec.md §6 places on TableBuilder.Add.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if !w.havePending {
		w.pendingFirst = key.Clone()
		w.havePending = true
	}
	if !w.haveSmallest {
		w.smallest = key.Clone()
		w.haveSmallest = true
	}
	w.largest = key.Clone()

	w.pending = appendEntry(w.pending, key, value)
	if len(w.pending) >= w.blockSize {
		w.flushBlock()
	}
	return w.err
}

func (w *Writer) flushBlock() {
	if w.err != nil || len(w.pending) == 0 {
		return
	}
	kind, payload := compressBlock(w.compression, w.pending)
	sum := xxhash.Sum64(payload)

	var trailer [blockTrailerLen]byte
	trailer[0] = byte(kind)
	binary.LittleEndian.PutUint64(trailer[1:], sum)

	n1, err := w.w.Write(trailer[:])
	if err != nil {
		w.err = err
		return
	}
	n2, err := w.w.Write(payload)
	if err != nil {
		w.err = err
		return
	}

	w.index = append(w.index, indexEntry{
		firstKey: w.pendingFirst,
		offset:   w.offset,
		length:   uint64(n1 + n2),
	})
	w.offset += uint64(n1 + n2)
	w.pending = w.pending[:0]
	w.havePending = false
}

// FileSize returns the number of bytes written so far, including any
// buffered-but-unflushed block — the running size Finish will produce,
// used by compaction to decide when to roll a new output file.
func (w *Writer) FileSize() uint64 {
	return w.offset + uint64(len(w.pending))
}

// Finish flushes the final data block and writes the index block and
// footer, returning the total file size.
func (w *Writer) Finish() (smallest, largest base.InternalKey, size uint64, err error) {
	w.flushBlock()
	if w.err != nil {
		return base.InternalKey{}, base.InternalKey{}, 0, w.err
	}
	if !w.haveSmallest {
		return base.InternalKey{}, base.InternalKey{}, 0, errors.New("riftdb/sstable: Finish called with no entries")
	}

	indexOffset := w.offset
	var idxBuf []byte
	for _, e := range w.index {
		idxBuf = appendEntry(idxBuf, e.firstKey, encodeOffsetLength(e.offset, e.length))
	}
	kind, payload := compressBlock(w.compression, idxBuf)
	sum := xxhash.Sum64(payload)
	var trailer [blockTrailerLen]byte
	trailer[0] = byte(kind)
	binary.LittleEndian.PutUint64(trailer[1:], sum)
	n1, err := w.w.Write(trailer[:])
	if err != nil {
		return base.InternalKey{}, base.InternalKey{}, 0, err
	}
	n2, err := w.w.Write(payload)
	if err != nil {
		return base.InternalKey{}, base.InternalKey{}, 0, err
	}
	indexLen := uint64(n1 + n2)
	w.offset += indexLen

	var footer [footerLen]byte
	binary.LittleEndian.PutUint64(footer[0:8], indexOffset)
	binary.LittleEndian.PutUint64(footer[8:16], indexLen)
	if _, err := w.w.Write(footer[:]); err != nil {
		return base.InternalKey{}, base.InternalKey{}, 0, err
	}
	w.offset += footerLen

	return w.smallest, w.largest, w.offset, nil
}

func encodeOffsetLength(offset, length uint64) []byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], offset)
	binary.LittleEndian.PutUint64(buf[8:16], length)
	return buf[:]
}

func decodeOffsetLength(b []byte) (offset, length uint64) {
	return binary.LittleEndian.Uint64(b[0:8]), binary.LittleEndian.Uint64(b[8:16])
}
