package sstable

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/base"
)

// ReaderAtCloser is the minimal file handle a Reader needs: random access
// plus the ability to report its own size.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Reader reads a table written by Writer: it parses the footer and index
// block once at Open time, then serves Find/NewIter by reading and
// decompressing individual data blocks on demand.
type Reader struct {
	file ReaderAtCloser
	size int64
	icmp base.InternalKeyComparer

	index []indexEntry
}

// NewReader opens a table for reading. size is the total length of the
// file in bytes, as recorded by the filesystem.
func NewReader(file ReaderAtCloser, size int64, ucmp base.Comparer) (*Reader, error) {
	r := &Reader{file: file, size: size, icmp: base.InternalKeyComparer{UserComparer: ucmp}}
	if size < footerLen {
		return nil, errors.Newf("riftdb/sstable: file too small to hold a footer (%d bytes)", size)
	}
	var footer [footerLen]byte
	if _, err := file.ReadAt(footer[:], size-footerLen); err != nil {
		return nil, errors.Wrap(err, "riftdb/sstable: reading footer")
	}
	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	indexLen := binary.LittleEndian.Uint64(footer[8:16])

	idxBuf, err := r.readBlock(int64(indexOffset), int64(indexLen))
	if err != nil {
		return nil, errors.Wrap(err, "riftdb/sstable: reading index block")
	}
	br := newBlockReader(idxBuf)
	for br.next() {
		offset, length := decodeOffsetLength(br.value)
		r.index = append(r.index, indexEntry{
			firstKey: br.key.Clone(),
			offset:   offset,
			length:   length,
		})
	}
	return r, nil
}

// readBlock reads, checksums, and decompresses one block (data or index) at
// the given file offset/length.
func (r *Reader) readBlock(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	kind := Compression(buf[0])
	sum := binary.LittleEndian.Uint64(buf[1:blockTrailerLen])
	payload := buf[blockTrailerLen:]
	if xxhash.Sum64(payload) != sum {
		return nil, errors.Newf("riftdb/sstable: checksum mismatch at offset %d", offset)
	}
	return decompressBlock(kind, payload, 4*len(payload))
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// Find returns an iterator over the one or two blocks that can hold the
// first entry at or after ikey, positioned via SeekGE(ikey) — the
// TableFinder contract
// spec.md §6 requires Version.Get to drive its point reads through.
func (r *Reader) Find(ikey base.InternalKey) (base.InternalIterator, error) {
	if len(r.index) == 0 {
		return &tableIterator{}, nil
	}
	target := make([]byte, ikey.Size())
	ikey.Encode(target)

	// Locate the last block whose first key is <= target (block 0 when
	// every block starts after target). Blocks are written in increasing
	// key order with no overlap, so the answer is in that block or, when
	// all of its entries are < target, is the first entry of the next one.
	n := sortSearchIdx(len(r.index), func(i int) bool {
		firstKey := make([]byte, r.index[i].firstKey.Size())
		r.index[i].firstKey.Encode(firstKey)
		return r.icmp.Compare(firstKey, target) > 0
	})
	if n == 0 {
		n = 1
	}
	it := &tableIterator{r: r}
	for i := n - 1; i <= n && i < len(r.index); i++ {
		data, err := r.readBlock(int64(r.index[i].offset), int64(r.index[i].length))
		if err != nil {
			return nil, err
		}
		it.blocks = append(it.blocks, data)
	}
	it.br = newBlockReader(it.blocks[0])
	if !it.SeekGE(target) {
		return &tableIterator{}, nil
	}
	return it, nil
}

// NewIter returns an iterator over the entire table, in internal-key
// order, used by flush-verification and compaction input scans.
func (r *Reader) NewIter() (base.InternalIterator, error) {
	it := &tableIterator{r: r}
	for _, e := range r.index {
		data, err := r.readBlock(int64(e.offset), int64(e.length))
		if err != nil {
			return nil, err
		}
		it.blocks = append(it.blocks, data)
	}
	if len(it.blocks) > 0 {
		it.blockIdx = 0
		it.br = newBlockReader(it.blocks[0])
	}
	return it, nil
}

func sortSearchIdx(n int, f func(int) bool) int {
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		if !f(mid) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// tableIterator walks a sequence of decompressed blocks in order. It is a
// simple forward/backward scanner; it does not attempt to be more clever
// than linear search within a block, matching spec.md §4.6's decision to
// skip per-block indexing below the table-wide index.
type tableIterator struct {
	r        *Reader
	blocks   [][]byte
	blockIdx int
	br       *blockReader
}

func (it *tableIterator) Valid() bool { return it.br != nil && it.br.ok }

func (it *tableIterator) Key() base.InternalKey { return it.br.key }

func (it *tableIterator) Value() []byte { return it.br.value }

func (it *tableIterator) Close() error { return nil }

func (it *tableIterator) First() bool {
	if len(it.blocks) == 0 {
		return false
	}
	it.blockIdx = 0
	it.br = newBlockReader(it.blocks[0])
	return it.Next()
}

func (it *tableIterator) Last() bool {
	if !it.First() {
		return false
	}
	for it.Next() {
	}
	// Next() having returned false leaves br positioned past the end; redo
	// a linear walk tracking the last valid entry.
	it.blockIdx = len(it.blocks) - 1
	it.br = newBlockReader(it.blocks[it.blockIdx])
	var lastKey base.InternalKey
	var lastVal []byte
	found := false
	for it.br.next() {
		lastKey, lastVal = it.br.key, it.br.value
		found = true
	}
	if !found {
		return false
	}
	it.br.key, it.br.value, it.br.ok = lastKey, lastVal, true
	return true
}

func (it *tableIterator) Next() bool {
	if it.br == nil {
		return false
	}
	if it.br.next() {
		return true
	}
	for it.blockIdx+1 < len(it.blocks) {
		it.blockIdx++
		it.br = newBlockReader(it.blocks[it.blockIdx])
		if it.br.next() {
			return true
		}
	}
	it.br.ok = false
	return false
}

func (it *tableIterator) Prev() bool {
	// Tables are scanned forward far more often than backward (only the
	// DB-facing reverse iterator needs this); re-walk from First tracking
	// the last entry strictly before the current key.
	cur := it.br.key
	if !it.First() {
		return false
	}
	var lastKey base.InternalKey
	var lastVal []byte
	found := false
	for it.Valid() {
		if it.r != nil && base.InternalCompare(it.r.icmp.UserComparer, it.Key(), cur) >= 0 {
			break
		}
		lastKey, lastVal = it.Key(), it.Value()
		found = true
		it.Next()
	}
	if !found {
		return false
	}
	it.br.key, it.br.value, it.br.ok = lastKey, lastVal, true
	return true
}

func (it *tableIterator) SeekGE(target []byte) bool {
	if !it.First() {
		return false
	}
	tkey := base.DecodeInternalKey(target)
	ucmp := base.DefaultComparer
	if it.r != nil {
		ucmp = it.r.icmp.UserComparer
	}
	for it.Valid() {
		if base.InternalCompare(ucmp, it.Key(), tkey) >= 0 {
			return true
		}
		if !it.Next() {
			return false
		}
	}
	return false
}

func (it *tableIterator) SeekLT(target []byte) bool {
	if !it.First() {
		return false
	}
	tkey := base.DecodeInternalKey(target)
	ucmp := base.DefaultComparer
	if it.r != nil {
		ucmp = it.r.icmp.UserComparer
	}
	var lastKey base.InternalKey
	var lastVal []byte
	found := false
	for it.Valid() {
		if base.InternalCompare(ucmp, it.Key(), tkey) >= 0 {
			break
		}
		lastKey, lastVal = it.Key(), it.Value()
		found = true
		if !it.Next() {
			break
		}
	}
	if !found {
		return false
	}
	it.br.key, it.br.value, it.br.ok = lastKey, lastVal, true
	return true
}
