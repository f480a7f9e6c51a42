// Package sstable implements the minimal on-disk table format spec.md §6
// delegates to an external collaborator: a sequence of compressed,
// checksummed blocks of sorted internal-key/value pairs, plus a trailing
// index block and fixed footer. No bloom filter, no per-block restart
// points — spec.md explicitly keeps bloom construction and block-format
// detail out of the core's scope; this package exists only so the core
// has something real to read and write through the table contract of
// §6 (TableBuilder.Add/Finish/FileSize, TableCache.NewIterator/Get).
package sstable

import (
	"github.com/DataDog/zstd"
	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
)

// Compression selects the block codec, the classic LevelDB compression
// knob (spec.md §9 "Compression is a supplemented feature").
type Compression byte

const (
	NoCompression Compression = 0
	SnappyCompression Compression = 1
	ZstdCompression   Compression = 2
)

// compressBlock returns the block's on-disk payload and the compression
// kind actually used to produce it — which falls back to NoCompression if
// the configured codec failed, so the kind byte written alongside the
// block always matches what decompressBlock needs.
func compressBlock(c Compression, raw []byte) (Compression, []byte) {
	switch c {
	case SnappyCompression:
		return SnappyCompression, snappy.Encode(nil, raw)
	case ZstdCompression:
		out, err := zstd.Compress(nil, raw)
		if err != nil {
			return NoCompression, raw
		}
		return ZstdCompression, out
	default:
		return NoCompression, raw
	}
}

func decompressBlock(c Compression, compressed []byte, rawSize int) ([]byte, error) {
	switch c {
	case SnappyCompression:
		dst := make([]byte, 0, rawSize)
		return snappy.Decode(dst, compressed)
	case ZstdCompression:
		return zstd.Decompress(make([]byte, 0, rawSize), compressed)
	case NoCompression:
		return compressed, nil
	default:
		return nil, errors.Newf("riftdb/sstable: unknown compression kind %d", c)
	}
}
