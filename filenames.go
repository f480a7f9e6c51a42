// Copyright 2012 The LevelDB-Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package riftdb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/riftdb/riftdb/internal/sstable"
	"github.com/riftdb/riftdb/internal/vfs"
)

// fileType enumerates the kinds of files spec.md §6 lists for the
// database directory.
type fileType int

const (
	fileTypeLog fileType = iota
	fileTypeLock
	fileTypeTable
	fileTypeManifest
	fileTypeCurrent
	fileTypeInfoLog
)

const infoLogName = "LOG"
const infoLogOldName = "LOG.old"

// dbFilename returns the path of the named file inside dirname.
func dbFilename(fs vfs.FS, dirname string, ft fileType, fileNum uint64) string {
	switch ft {
	case fileTypeLog:
		return fs.PathJoin(dirname, fmt.Sprintf("%06d.log", fileNum))
	case fileTypeLock:
		return fs.PathJoin(dirname, "LOCK")
	case fileTypeTable:
		return fs.PathJoin(dirname, sstable.TableFileName(fileNum))
	case fileTypeManifest:
		return fs.PathJoin(dirname, fmt.Sprintf("MANIFEST-%06d", fileNum))
	case fileTypeCurrent:
		return fs.PathJoin(dirname, "CURRENT")
	case fileTypeInfoLog:
		return fs.PathJoin(dirname, infoLogName)
	}
	panic("riftdb: unknown file type")
}

// parseDBFilename identifies the type and file number of a directory
// entry, for the recovery-time directory scan and for deleteObsoleteFiles.
func parseDBFilename(name string) (ft fileType, fileNum uint64, ok bool) {
	switch {
	case name == "CURRENT":
		return fileTypeCurrent, 0, true
	case name == "LOCK":
		return fileTypeLock, 0, true
	case name == infoLogName || name == infoLogOldName:
		return fileTypeInfoLog, 0, true
	case strings.HasPrefix(name, "MANIFEST-"):
		n, err := strconv.ParseUint(name[len("MANIFEST-"):], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return fileTypeManifest, n, true
	case strings.HasSuffix(name, ".log"):
		n, err := strconv.ParseUint(name[:len(name)-len(".log")], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return fileTypeLog, n, true
	case strings.HasSuffix(name, ".ldb"):
		n, err := strconv.ParseUint(name[:len(name)-len(".ldb")], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		return fileTypeTable, n, true
	}
	return 0, 0, false
}
