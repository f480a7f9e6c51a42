// Copyright 2011 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package record reads and writes the WAL and MANIFEST framing described in
// spec.md §4.3 and §4.5: a stream is divided into 32KiB blocks, each holding
// tightly packed chunks that never straddle a block boundary, where a
// logical record maps to one or more chunks (full, first, middle, last).
//
// Only the legacy chunk format is implemented — riftdb does not recycle log
// files, so the recyclable and WAL-sync header extensions the teacher
// carries for that purpose have no consumer here.
package record

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

const (
	blockSize        = 32 * 1024
	legacyHeaderSize = 7
)

type chunkType byte

const (
	chunkInvalid chunkType = 0
	chunkFull    chunkType = 1
	chunkFirst   chunkType = 2
	chunkMiddle  chunkType = 3
	chunkLast    chunkType = 4
)

// ErrInvalidChunk is returned when a chunk header fails validation: bad
// type, a length that would straddle a block, or a checksum mismatch. WAL
// replay treats it the same as a truncated tail, per spec.md §4.3.
var ErrInvalidChunk = errors.New("riftdb/record: invalid chunk")

// Writer writes a sequence of records to an underlying io.Writer, framed as
// 32KiB blocks of chunks. Writer is not safe for concurrent use.
type Writer struct {
	w io.Writer

	buf [blockSize]byte
	// i:j is the unwritten pending chunk, header included.
	i, j    int
	written int
	first   bool
	pending bool
	err     error
}

// NewWriter returns a Writer that appends records to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) fillHeader(last bool) {
	if w.i+legacyHeaderSize > w.j || w.j > blockSize {
		panic("riftdb/record: bad writer state")
	}
	switch {
	case last && w.first:
		w.buf[w.i+6] = byte(chunkFull)
	case last:
		w.buf[w.i+6] = byte(chunkLast)
	case w.first:
		w.buf[w.i+6] = byte(chunkFirst)
	default:
		w.buf[w.i+6] = byte(chunkMiddle)
	}
	binary.LittleEndian.PutUint32(w.buf[w.i+0:w.i+4], checksum(w.buf[w.i+6:w.j]))
	binary.LittleEndian.PutUint16(w.buf[w.i+4:w.i+6], uint16(w.j-w.i-legacyHeaderSize))
}

func (w *Writer) writeBlock() {
	_, w.err = w.w.Write(w.buf[w.written:])
	w.i = 0
	w.j = legacyHeaderSize
	w.written = 0
}

func (w *Writer) writePending() {
	if w.err != nil {
		return
	}
	if w.pending {
		w.fillHeader(true)
		w.pending = false
	}
	_, w.err = w.w.Write(w.buf[w.written:w.j])
	w.written = w.j
}

// next starts a new chunk of the current record, rolling over to a fresh
// block first if there is no room left for a header.
func (w *Writer) next() error {
	if w.pending {
		w.fillHeader(false)
	}
	w.i = w.j
	w.j = w.j + legacyHeaderSize
	if w.j > blockSize {
		clear(w.buf[w.i:])
		w.writeBlock()
		if w.err != nil {
			return w.err
		}
	}
	w.first = true
	w.pending = true
	return nil
}

// WriteRecord writes p as a single logical record, split across as many
// chunks as needed, and returns the offset just past its end within the
// current 32KiB block (not an offset within the whole stream).
func (w *Writer) WriteRecord(p []byte) (int64, error) {
	if w.err != nil {
		return -1, w.err
	}
	if err := w.next(); err != nil {
		return -1, err
	}
	for len(p) > 0 {
		// writeBlock, called below when a chunk fills the block exactly,
		// leaves w.i/w.j already pointing past a freshly reserved header
		// for the chunk's continuation.
		if w.j == blockSize {
			w.fillHeader(false)
			w.writeBlock()
			if w.err != nil {
				return -1, w.err
			}
			w.first = false
		}
		n := copy(w.buf[w.j:], p)
		w.j += n
		p = p[n:]
	}
	w.writePending()
	if w.err != nil {
		return -1, w.err
	}
	return int64(w.j), nil
}

// Close flushes any pending chunk and the final block to the underlying
// writer.
func (w *Writer) Close() error {
	w.writePending()
	return w.err
}

// Reader reads a sequence of records previously written by a Writer.
// Reader is not safe for concurrent use.
type Reader struct {
	r    io.Reader
	buf  [blockSize]byte
	n    int // valid bytes in buf
	pos  int // read position in buf
	last bool
	err  error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// nextChunk advances to the next chunk in the stream, loading new blocks as
// needed, and returns the chunk's payload along with whether it is the
// final chunk of its record. At end of stream it returns io.EOF.
func (r *Reader) nextChunk(wantFirst bool) ([]byte, bool, error) {
	for {
		if r.pos+legacyHeaderSize > r.n {
			n, err := io.ReadFull(r.r, r.buf[:])
			if n == 0 {
				if err == io.EOF {
					return nil, false, io.EOF
				}
				if err == io.ErrUnexpectedEOF {
					return nil, false, io.EOF
				}
				return nil, false, err
			}
			r.n, r.pos = n, 0
			if err == io.ErrUnexpectedEOF {
				err = nil
			}
			if err != nil && err != io.EOF {
				return nil, false, err
			}
			continue
		}

		sum := binary.LittleEndian.Uint32(r.buf[r.pos+0 : r.pos+4])
		length := binary.LittleEndian.Uint16(r.buf[r.pos+4 : r.pos+6])
		typ := chunkType(r.buf[r.pos+6])

		if sum == 0 && length == 0 && typ == chunkInvalid {
			// Zeroed tail left by block padding; nothing more in this block.
			r.pos = r.n
			continue
		}
		if typ < chunkFull || typ > chunkLast {
			return nil, false, ErrInvalidChunk
		}

		begin := r.pos + legacyHeaderSize
		end := begin + int(length)
		if end > r.n {
			return nil, false, ErrInvalidChunk
		}
		if checksum(r.buf[r.pos+6:end]) != sum {
			return nil, false, ErrInvalidChunk
		}
		r.pos = end

		if wantFirst && typ != chunkFull && typ != chunkFirst {
			continue
		}
		last := typ == chunkFull || typ == chunkLast
		return r.buf[begin:end], last, nil
	}
}

// Next returns the next complete record. It returns io.EOF when the stream
// is exhausted, and ErrInvalidChunk on a corrupt chunk, including a chunk
// cut short by the end of the stream (a truncated tail).
func (r *Reader) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	payload, last, err := r.nextChunk(true)
	if err != nil {
		r.err = err
		return nil, err
	}
	if last {
		return payload, nil
	}
	record := append([]byte(nil), payload...)
	for {
		payload, last, err = r.nextChunk(false)
		if err != nil {
			r.err = err
			return nil, err
		}
		record = append(record, payload...)
		if last {
			return record, nil
		}
	}
}
