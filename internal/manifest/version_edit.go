// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/riftdb/riftdb/internal/base"
)

// ErrCorruptManifest is returned when a VersionEdit fails to decode.
var ErrCorruptManifest = errors.New("riftdb: corrupt manifest")

// Tags for the VersionEdit wire format (spec.md §6). Tag 8 is reserved —
// the teacher's lineage once used it for a field riftdb never carried.
const (
	tagComparator     = 1
	tagLogNumber      = 2
	tagNextFileNumber = 3
	tagLastSequence   = 4
	tagCompactPointer = 5
	tagDeletedFile    = 6
	tagNewFile        = 7
	tagPrevLogNumber  = 9
)

type compactPointerEntry struct {
	level int
	key   base.InternalKey
}

type deletedFileEntry struct {
	level   int
	fileNum uint64
}

type newFileEntry struct {
	level int
	meta  *FileMetadata
}

// VersionEdit is the delta applied to produce a new Version (spec.md §3).
type VersionEdit struct {
	ComparatorName string
	HasLogNumber   bool
	LogNumber      uint64
	HasPrevLogNumber bool
	PrevLogNumber  uint64
	HasNextFileNumber bool
	NextFileNumber uint64
	HasLastSequence bool
	LastSequence   uint64

	CompactPointers []compactPointerEntry
	DeletedFiles    map[deletedFileEntry]bool
	NewFiles        []newFileEntry
}

// AddCompactPointer records the per-level "next compaction start" the
// picker advances after each compaction (spec.md §4.7 "Installation").
func (e *VersionEdit) AddCompactPointer(level int, key base.InternalKey) {
	e.CompactPointers = append(e.CompactPointers, compactPointerEntry{level, key})
}

// DeleteFile marks a file for removal from level at install time.
func (e *VersionEdit) DeleteFile(level int, fileNum uint64) {
	if e.DeletedFiles == nil {
		e.DeletedFiles = make(map[deletedFileEntry]bool)
	}
	e.DeletedFiles[deletedFileEntry{level, fileNum}] = true
}

// AddFile records a new file's arrival at level.
func (e *VersionEdit) AddFile(level int, meta *FileMetadata) {
	e.NewFiles = append(e.NewFiles, newFileEntry{level, meta})
}

type byteReader interface {
	io.ByteReader
	io.Reader
}

// Decode parses a single VersionEdit record's payload.
func (e *VersionEdit) Decode(r io.Reader) error {
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	d := editDecoder{br}
	for {
		tag, err := binary.ReadUvarint(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch tag {
		case tagComparator:
			s, err := d.readBytes()
			if err != nil {
				return err
			}
			e.ComparatorName = string(s)

		case tagLogNumber:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			e.HasLogNumber, e.LogNumber = true, n

		case tagPrevLogNumber:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			e.HasPrevLogNumber, e.PrevLogNumber = true, n

		case tagNextFileNumber:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			e.HasNextFileNumber, e.NextFileNumber = true, n

		case tagLastSequence:
			n, err := d.readUvarint()
			if err != nil {
				return err
			}
			e.HasLastSequence, e.LastSequence = true, n

		case tagCompactPointer:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			key, err := d.readBytes()
			if err != nil {
				return err
			}
			e.CompactPointers = append(e.CompactPointers, compactPointerEntry{level, base.DecodeInternalKey(key)})

		case tagDeletedFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readUvarint()
			if err != nil {
				return err
			}
			e.DeleteFile(level, fileNum)

		case tagNewFile:
			level, err := d.readLevel()
			if err != nil {
				return err
			}
			fileNum, err := d.readUvarint()
			if err != nil {
				return err
			}
			size, err := d.readUvarint()
			if err != nil {
				return err
			}
			smallest, err := d.readBytes()
			if err != nil {
				return err
			}
			largest, err := d.readBytes()
			if err != nil {
				return err
			}
			e.NewFiles = append(e.NewFiles, newFileEntry{
				level: level,
				meta: &FileMetadata{
					FileNum:  fileNum,
					Size:     size,
					Smallest: base.DecodeInternalKey(smallest),
					Largest:  base.DecodeInternalKey(largest),
				},
			})

		default:
			return ErrCorruptManifest
		}
	}
}

// Encode serializes e.
func (e *VersionEdit) Encode(w io.Writer) error {
	enc := editEncoder{new(bytes.Buffer)}
	if e.ComparatorName != "" {
		enc.writeUvarint(tagComparator)
		enc.writeString(e.ComparatorName)
	}
	if e.HasLogNumber {
		enc.writeUvarint(tagLogNumber)
		enc.writeUvarint(e.LogNumber)
	}
	if e.HasPrevLogNumber {
		enc.writeUvarint(tagPrevLogNumber)
		enc.writeUvarint(e.PrevLogNumber)
	}
	if e.HasNextFileNumber {
		enc.writeUvarint(tagNextFileNumber)
		enc.writeUvarint(e.NextFileNumber)
	}
	if e.HasLastSequence {
		enc.writeUvarint(tagLastSequence)
		enc.writeUvarint(e.LastSequence)
	}
	for _, c := range e.CompactPointers {
		enc.writeUvarint(tagCompactPointer)
		enc.writeUvarint(uint64(c.level))
		enc.writeIkey(c.key)
	}
	for d := range e.DeletedFiles {
		enc.writeUvarint(tagDeletedFile)
		enc.writeUvarint(uint64(d.level))
		enc.writeUvarint(d.fileNum)
	}
	for _, n := range e.NewFiles {
		enc.writeUvarint(tagNewFile)
		enc.writeUvarint(uint64(n.level))
		enc.writeUvarint(n.meta.FileNum)
		enc.writeUvarint(n.meta.Size)
		enc.writeIkey(n.meta.Smallest)
		enc.writeIkey(n.meta.Largest)
	}
	_, err := w.Write(enc.Bytes())
	return err
}

type editDecoder struct{ byteReader }

func (d editDecoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(d, s); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrCorruptManifest
		}
		return nil, err
	}
	return s, nil
}

func (d editDecoder) readLevel() (int, error) {
	u, err := d.readUvarint()
	if err != nil {
		return 0, err
	}
	if u >= NumLevels {
		return 0, ErrCorruptManifest
	}
	return int(u), nil
}

func (d editDecoder) readUvarint() (uint64, error) {
	u, err := binary.ReadUvarint(d)
	if err != nil {
		if err == io.EOF {
			return 0, ErrCorruptManifest
		}
		return 0, err
	}
	return u, nil
}

type editEncoder struct{ *bytes.Buffer }

func (e editEncoder) writeBytes(p []byte) {
	e.writeUvarint(uint64(len(p)))
	e.Write(p)
}

func (e editEncoder) writeIkey(k base.InternalKey) {
	buf := make([]byte, k.Size())
	k.Encode(buf)
	e.writeBytes(buf)
}

func (e editEncoder) writeString(s string) {
	e.writeUvarint(uint64(len(s)))
	e.WriteString(s)
}

func (e editEncoder) writeUvarint(u uint64) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], u)
	e.Write(buf[:n])
}
