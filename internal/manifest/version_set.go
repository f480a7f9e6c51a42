// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manifest

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/swiss"

	"github.com/riftdb/riftdb/internal/base"
	"github.com/riftdb/riftdb/internal/record"
	"github.com/riftdb/riftdb/internal/vfs"
)

// fileTypeCurrent and manifestPrefix are re-declared here rather than
// imported from the root package to avoid a dependency cycle; the root
// package's filenames.go uses the same numbering convention.
const (
	fileTypeCurrent  = "CURRENT"
	manifestPrefix   = "MANIFEST-"
)

func manifestFileName(num uint64) string { return fmt.Sprintf("%s%06d", manifestPrefix, num) }

// VersionSet owns the circular list of live Versions, the manifest file,
// and the file-number/sequence-number counters, per spec.md §3/§4.9. All
// mutating methods are called with the database's global mutex held by
// convention — VersionSet does not take its own lock.
type VersionSet struct {
	dirname string
	fs      vfs.FS
	ucmp    base.Comparer
	icmp    base.InternalKeyComparer

	dummyVersion Version // sentinel head of the circular version list
	current      *Version

	manifestFileNum uint64
	manifestFile    vfs.File
	manifestWriter  *record.Writer

	nextFileNum  uint64
	logNumber    uint64
	prevLogNumber uint64
	lastSequence uint64

	compactPointers [NumLevels]base.InternalKey

	// pendingOutputs is the set of file numbers allocated for in-flight
	// flush/compaction outputs; invariant 4 forbids deleting any of them
	// even though they belong to no live Version yet.
	pendingOutputs *swiss.Map[uint64, struct{}]
}

// New constructs an empty VersionSet. Callers must call Create or Load
// before using it.
func New(dirname string, fs vfs.FS, ucmp base.Comparer) *VersionSet {
	s := &VersionSet{
		dirname:        dirname,
		fs:             fs,
		ucmp:           ucmp,
		icmp:           base.InternalKeyComparer{UserComparer: ucmp},
		pendingOutputs: swiss.New[uint64, struct{}](16),
	}
	s.dummyVersion.next = &s.dummyVersion
	s.dummyVersion.prev = &s.dummyVersion
	s.current = &Version{}
	s.appendVersion(s.current)
	return s
}

// Comparer returns the user comparator this version set was opened with.
func (s *VersionSet) Comparer() base.Comparer { return s.ucmp }

// Current returns the currently installed Version. The caller should Ref
// it before releasing the database mutex.
func (s *VersionSet) Current() *Version { return s.current }

// LastSequence returns the most recently assigned sequence number.
func (s *VersionSet) LastSequence() uint64 { return s.lastSequence }

// SetLastSequence advances the sequence counter; callers must never move
// it backwards (invariant 3).
func (s *VersionSet) SetLastSequence(seq uint64) {
	if seq > s.lastSequence {
		s.lastSequence = seq
	}
}

// LogNumber/PrevLogNumber report the WAL numbers retained across restart
// per invariant 5.
func (s *VersionSet) LogNumber() uint64     { return s.logNumber }
func (s *VersionSet) PrevLogNumber() uint64 { return s.prevLogNumber }

// ManifestFileNum reports the file number of the currently open manifest,
// so deleteObsoleteFiles never removes it out from under an append in
// progress.
func (s *VersionSet) ManifestFileNum() uint64 { return s.manifestFileNum }

// MarkFileNumUsed reserves fileNum, advancing the counter past it if
// necessary. Recovery calls this for every file number observed on disk
// or in the manifest so a freshly allocated number can never collide.
func (s *VersionSet) MarkFileNumUsed(fileNum uint64) {
	if fileNum >= s.nextFileNum {
		s.nextFileNum = fileNum + 1
	}
}

// NextFileNum allocates and returns a fresh file number.
func (s *VersionSet) NextFileNum() uint64 {
	n := s.nextFileNum
	s.nextFileNum++
	return n
}

// AddPendingOutput records fileNum as an in-flight compaction/flush output
// (invariant 4: never deleted while pending).
func (s *VersionSet) AddPendingOutput(fileNum uint64) { s.pendingOutputs.Put(fileNum, struct{}{}) }

// RemovePendingOutput clears fileNum once its output is installed or its
// compaction failed and the output was unlinked.
func (s *VersionSet) RemovePendingOutput(fileNum uint64) { s.pendingOutputs.Delete(fileNum) }

// IsPendingOutput reports whether fileNum is a live in-flight output.
func (s *VersionSet) IsPendingOutput(fileNum uint64) bool {
	_, ok := s.pendingOutputs.Get(fileNum)
	return ok
}

// CompactPointer returns the per-level "next compaction start" spec.md
// §4.6 advances after every compaction of that level.
func (s *VersionSet) CompactPointer(level int) base.InternalKey { return s.compactPointers[level] }

func (s *VersionSet) appendVersion(v *Version) {
	v.prev = s.dummyVersion.prev
	v.next = &s.dummyVersion
	v.prev.next = v
	v.next.prev = v
}

// Create initializes a brand-new database's manifest (spec.md §4.9 step
// 2): manifest #1 with comparator name, log_number=0, next_file=2,
// last_sequence=0, and a CURRENT file pointing at it.
func (s *VersionSet) Create(comparatorName string) error {
	s.manifestFileNum = 1
	s.nextFileNum = 2
	edit := &VersionEdit{
		ComparatorName:    comparatorName,
		HasLogNumber:      true,
		LogNumber:         0,
		HasNextFileNumber: true,
		NextFileNumber:    s.nextFileNum,
		HasLastSequence:   true,
		LastSequence:      0,
	}
	if err := s.createManifest(); err != nil {
		return err
	}
	if err := s.writeManifestRecord(edit); err != nil {
		return err
	}
	return s.setCurrentFile()
}

func (s *VersionSet) createManifest() error {
	name := s.fs.PathJoin(s.dirname, manifestFileName(s.manifestFileNum))
	f, err := s.fs.Create(name)
	if err != nil {
		return errors.Wrapf(err, "riftdb: could not create manifest %q", name)
	}
	s.manifestFile = f
	s.manifestWriter = record.NewWriter(f)
	return nil
}

func (s *VersionSet) writeManifestRecord(edit *VersionEdit) error {
	var buf fmtBuffer
	if err := edit.Encode(&buf); err != nil {
		return err
	}
	if _, err := s.manifestWriter.WriteRecord(buf.Bytes()); err != nil {
		return err
	}
	return s.manifestFile.Sync()
}

func (s *VersionSet) setCurrentFile() error {
	name := s.fs.PathJoin(s.dirname, fileTypeCurrent)
	tmp := name + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, manifestFileName(s.manifestFileNum)+"\n"); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp, name)
}

// Load replays CURRENT's manifest into a fresh Version, completing what
// the teacher's stub only parsed (spec.md §4.9 step 3).
func Load(dirname string, fs vfs.FS, ucmp base.Comparer) (*VersionSet, error) {
	s := New(dirname, fs, ucmp)

	currentName := fs.PathJoin(dirname, fileTypeCurrent)
	current, err := fs.Open(currentName)
	if err != nil {
		return nil, errors.Wrapf(err, "riftdb: could not open CURRENT for %q", dirname)
	}
	defer current.Close()
	stat, err := current.Stat()
	if err != nil {
		return nil, err
	}
	n := stat.Size()
	if n == 0 || n > 4096 {
		return nil, errors.Newf("riftdb: CURRENT file for %q is malformed", dirname)
	}
	b := make([]byte, n)
	if _, err := current.ReadAt(b, 0); err != nil {
		return nil, err
	}
	if b[n-1] != '\n' {
		return nil, errors.Newf("riftdb: CURRENT file for %q is malformed", dirname)
	}
	manifestName := string(b[:n-1])

	manifestFile, err := fs.Open(fs.PathJoin(dirname, manifestName))
	if err != nil {
		return nil, errors.Wrapf(err, "riftdb: could not open manifest %q", manifestName)
	}
	defer manifestFile.Close()

	v := &Version{}
	rr := record.NewReader(manifestFile)
	for {
		payload, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var edit VersionEdit
		if err := edit.Decode(&byteSliceReader{payload}); err != nil {
			return nil, err
		}
		if edit.ComparatorName != "" && edit.ComparatorName != ucmp.Name() {
			return nil, errors.Newf("riftdb: comparer name from manifest %q != configured comparer %q",
				edit.ComparatorName, ucmp.Name())
		}
		s.applyLocked(v, &edit)
	}
	v.UpdateCompactionScore()
	if err := v.CheckOrdering(ucmp); err != nil {
		return nil, err
	}

	s.current = v
	s.appendVersion(v)
	if mfn, ok := parseManifestFileNum(manifestName); ok {
		s.manifestFileNum = mfn
		s.MarkFileNumUsed(mfn)
	}
	return s, nil
}

func parseManifestFileNum(name string) (uint64, bool) {
	if len(name) <= len(manifestPrefix) {
		return 0, false
	}
	var n uint64
	for _, c := range name[len(manifestPrefix):] {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

// applyLocked folds edit's deltas into v in place: removing DeletedFiles,
// adding NewFiles, and updating the counters/pointers tracked on s.
func (s *VersionSet) applyLocked(v *Version, edit *VersionEdit) {
	if edit.HasLogNumber {
		s.logNumber = edit.LogNumber
	}
	if edit.HasPrevLogNumber {
		s.prevLogNumber = edit.PrevLogNumber
	}
	if edit.HasNextFileNumber {
		s.MarkFileNumUsed(edit.NextFileNumber - 1)
	}
	if edit.HasLastSequence {
		s.SetLastSequence(edit.LastSequence)
	}
	for _, cp := range edit.CompactPointers {
		s.compactPointers[cp.level] = cp.key
	}
	for d := range edit.DeletedFiles {
		files := v.Files[d.level]
		for i, f := range files {
			if f.FileNum == d.fileNum {
				v.Files[d.level] = append(files[:i], files[i+1:]...)
				break
			}
		}
	}
	for _, nf := range edit.NewFiles {
		nf.meta.InitSeeks()
		v.Files[nf.level] = append(v.Files[nf.level], nf.meta)
		s.MarkFileNumUsed(nf.meta.FileNum)
	}
	for level := range v.Files {
		if level == 0 {
			SortByFileNum(v.Files[0])
		} else {
			SortBySmallest(v.Files[level], s.ucmp)
		}
	}
}

// LogAndApply is the one entry point flush, compaction and recovery all
// use to durably install a new Version (spec.md §4.5 step 5, §4.7
// "Installation"): clone the current Version, fold in edit, append edit
// to the manifest, and swap it in as current.
func (s *VersionSet) LogAndApply(edit *VersionEdit) error {
	nv := s.current.Clone()
	s.applyLocked(nv, edit)
	nv.UpdateCompactionScore()
	if err := nv.CheckOrdering(s.ucmp); err != nil {
		return errors.Wrap(err, "riftdb: refusing to install Version")
	}

	edit.HasNextFileNumber = true
	edit.NextFileNumber = s.nextFileNum
	edit.HasLastSequence = true
	edit.LastSequence = s.lastSequence

	if s.manifestWriter == nil {
		// No manifest is open for appending yet (first LogAndApply after
		// Load; Create opens one itself). Roll to a fresh manifest file number and
		// make the first record in it a full snapshot of nv, so the new
		// manifest is self-contained rather than depending on a
		// predecessor file it would otherwise silently truncate.
		s.manifestFileNum = s.NextFileNum()
		if err := s.createManifest(); err != nil {
			return err
		}
		if err := s.writeManifestRecord(s.snapshotEdit(nv)); err != nil {
			return err
		}
		if err := s.setCurrentFile(); err != nil {
			return err
		}
	} else if err := s.writeManifestRecord(edit); err != nil {
		return err
	}

	nv.Ref()
	s.appendVersion(nv)
	old := s.current
	s.current = nv
	if old.Unref() {
		s.removeVersion(old)
	}
	return nil
}

// snapshotEdit builds a VersionEdit that fully describes v, used as the
// first record of a freshly rolled manifest file so that file is
// self-contained and does not depend on any predecessor manifest.
func (s *VersionSet) snapshotEdit(v *Version) *VersionEdit {
	e := &VersionEdit{
		ComparatorName:    s.ucmp.Name(),
		HasLogNumber:      true,
		LogNumber:         s.logNumber,
		HasPrevLogNumber:  true,
		PrevLogNumber:     s.prevLogNumber,
		HasNextFileNumber: true,
		NextFileNumber:    s.nextFileNum,
		HasLastSequence:   true,
		LastSequence:      s.lastSequence,
	}
	for level, files := range v.Files {
		for _, f := range files {
			e.AddFile(level, f)
		}
	}
	for level, cp := range s.compactPointers {
		if cp.Valid() {
			e.AddCompactPointer(level, cp)
		}
	}
	return e
}

func (s *VersionSet) removeVersion(v *Version) {
	v.prev.next = v.next
	v.next.prev = v.prev
}

// UnrefVersion drops a reference a reader took on v (e.g. to pin it across
// a Get or NewIterator call) and unlinks it from the live list once no
// reference remains.
func (s *VersionSet) UnrefVersion(v *Version) {
	if v.Unref() {
		s.removeVersion(v)
	}
}

// Close releases the manifest file.
func (s *VersionSet) Close() error {
	if s.manifestFile == nil {
		return nil
	}
	return s.manifestFile.Close()
}

// ObsoleteFiles returns the set of file numbers that appear in no version
// currently reachable from the live list and are not pending outputs —
// the candidates RemoveObsoleteFiles deletes (spec.md §3 File lifecycle,
// invariant 4).
func (s *VersionSet) ObsoleteFiles(liveOnDisk map[uint64]string) (obsolete []uint64) {
	live := swiss.New[uint64, struct{}](64)
	for v := s.dummyVersion.next; v != &s.dummyVersion; v = v.next {
		for _, files := range v.Files {
			for _, f := range files {
				live.Put(f.FileNum, struct{}{})
			}
		}
	}
	for fileNum := range liveOnDisk {
		if _, ok := live.Get(fileNum); ok {
			continue
		}
		if s.IsPendingOutput(fileNum) {
			continue
		}
		obsolete = append(obsolete, fileNum)
	}
	return obsolete
}

// fmtBuffer is a tiny io.Writer wrapper around a growable byte slice, used
// as Encode's sink.
type fmtBuffer struct{ b []byte }

func (w *fmtBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}
func (w *fmtBuffer) Bytes() []byte { return w.b }

// byteSliceReader must be used through a pointer: Read/ReadByte advance
// r.b, which only sticks across calls when the receiver is addressable.
type byteSliceReader struct{ b []byte }

func (r *byteSliceReader) Read(p []byte) (int, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.b)
	r.b = r.b[n:]
	return n, nil
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if len(r.b) == 0 {
		return 0, io.EOF
	}
	c := r.b[0]
	r.b = r.b[1:]
	return c, nil
}
