// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package riftdb

import (
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/redact"
)

// FlushInfo describes one completed or failed memtable flush (spec.md
// §4.5).
type FlushInfo struct {
	JobID  int
	Output TableInfo
	Err    error
	Duration time.Duration
}

// CompactionInfo describes one completed or failed compaction (spec.md
// §4.7), including a trivial move.
type CompactionInfo struct {
	JobID       int
	InputLevel  int
	OutputLevel int
	Input       []TableInfo
	Output      []TableInfo
	TrivialMove bool
	Err         error
	Duration    time.Duration
}

// TableInfo names one sstable by file number and key range, the piece of a
// FlushInfo/CompactionInfo safe to log without redacting the whole batch.
type TableInfo struct {
	FileNum  uint64
	Size     uint64
	Smallest []byte
	Largest  []byte
}

// WALCreateInfo records the creation of a new WAL segment (spec.md §4.4's
// "open new WAL with a fresh file number").
type WALCreateInfo struct {
	JobID   int
	Path    string
	FileNum uint64
}

// ManifestCreateInfo records the creation of a new MANIFEST file (spec.md
// §4.9/§4.5's manifest roll).
type ManifestCreateInfo struct {
	JobID   int
	Path    string
	FileNum uint64
}

// BackgroundErrorInfo carries an error encountered by the single background
// worker (spec.md §7: "record bg_error; subsequent user writes fail").
type BackgroundErrorInfo struct {
	Err error
}

// EventListener is a set of optional callbacks invoked at the lifecycle
// points spec.md names; a nil field is simply never called. All callbacks
// must return promptly — they run synchronously on the thread performing
// the corresponding operation.
type EventListener struct {
	FlushBegin      func(FlushInfo)
	FlushEnd        func(FlushInfo)
	CompactionBegin func(CompactionInfo)
	CompactionEnd   func(CompactionInfo)
	WALCreated      func(WALCreateInfo)
	ManifestCreated func(ManifestCreateInfo)
	BackgroundError func(BackgroundErrorInfo)
}

// EnsureDefaults fills every nil callback with a no-op, so callers never
// need a nil check before invoking one.
func (l *EventListener) EnsureDefaults() *EventListener {
	if l == nil {
		l = &EventListener{}
	}
	if l.FlushBegin == nil {
		l.FlushBegin = func(FlushInfo) {}
	}
	if l.FlushEnd == nil {
		l.FlushEnd = func(FlushInfo) {}
	}
	if l.CompactionBegin == nil {
		l.CompactionBegin = func(CompactionInfo) {}
	}
	if l.CompactionEnd == nil {
		l.CompactionEnd = func(CompactionInfo) {}
	}
	if l.WALCreated == nil {
		l.WALCreated = func(WALCreateInfo) {}
	}
	if l.ManifestCreated == nil {
		l.ManifestCreated = func(ManifestCreateInfo) {}
	}
	if l.BackgroundError == nil {
		l.BackgroundError = func(BackgroundErrorInfo) {}
	}
	return l
}

// MakeLoggingEventListener returns an EventListener whose callbacks format
// a line per event into w (the LOG file), redacting raw key bytes with
// github.com/cockroachdb/redact so a log dump never leaks user data
// un-annotated.
func MakeLoggingEventListener(w io.Writer) *EventListener {
	logf := func(format string, args ...interface{}) {
		fmt.Fprintf(w, "riftdb: "+format+"\n", args...)
	}
	return &EventListener{
		FlushBegin: func(info FlushInfo) {
			logf("flush %d started", info.JobID)
		},
		FlushEnd: func(info FlushInfo) {
			if info.Err != nil {
				logf("flush %d failed: %s", info.JobID, info.Err)
				return
			}
			logf("flush %d wrote %06d [%s, %s] (%s)",
				info.JobID, info.Output.FileNum,
				redact.Sprintf("%s", info.Output.Smallest), redact.Sprintf("%s", info.Output.Largest),
				info.Duration)
		},
		CompactionBegin: func(info CompactionInfo) {
			logf("compaction %d started: L%d -> L%d (trivial=%v)",
				info.JobID, info.InputLevel, info.OutputLevel, info.TrivialMove)
		},
		CompactionEnd: func(info CompactionInfo) {
			if info.Err != nil {
				logf("compaction %d failed: %s", info.JobID, info.Err)
				return
			}
			logf("compaction %d produced %d files at L%d (%s)",
				info.JobID, len(info.Output), info.OutputLevel, info.Duration)
		},
		WALCreated: func(info WALCreateInfo) {
			logf("created WAL %06d at %s", info.FileNum, info.Path)
		},
		ManifestCreated: func(info ManifestCreateInfo) {
			logf("created MANIFEST %06d at %s", info.FileNum, info.Path)
		},
		BackgroundError: func(info BackgroundErrorInfo) {
			logf("background error: %s", info.Err)
		},
	}
}
