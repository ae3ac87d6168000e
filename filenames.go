// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaledb/shale/vfs"
)

type fileType int

const (
	fileTypeLog fileType = iota
	fileTypeLock
	fileTypeTable
	fileTypeManifest
	fileTypeCurrent
	fileTypeTemp
)

// dbFilename returns the filename for the given file type and number within
// the database directory.
func dbFilename(dirname string, fileType fileType, fileNum uint64) string {
	for len(dirname) > 0 && dirname[len(dirname)-1] == '/' {
		dirname = dirname[:len(dirname)-1]
	}
	switch fileType {
	case fileTypeLog:
		return fmt.Sprintf("%s/%06d.log", dirname, fileNum)
	case fileTypeLock:
		return fmt.Sprintf("%s/LOCK", dirname)
	case fileTypeTable:
		return fmt.Sprintf("%s/%06d.sst", dirname, fileNum)
	case fileTypeManifest:
		return fmt.Sprintf("%s/MANIFEST-%06d", dirname, fileNum)
	case fileTypeCurrent:
		return fmt.Sprintf("%s/CURRENT", dirname)
	case fileTypeTemp:
		return fmt.Sprintf("%s/%06d.dbtmp", dirname, fileNum)
	}
	panic("unreachable")
}

// parseDBFilename inverts dbFilename for the base name of a file within the
// database directory.
func parseDBFilename(filename string) (fileType fileType, fileNum uint64, ok bool) {
	if i := strings.LastIndexByte(filename, '/'); i >= 0 {
		filename = filename[i+1:]
	}
	switch {
	case filename == "CURRENT":
		return fileTypeCurrent, 0, true
	case filename == "LOCK":
		return fileTypeLock, 0, true
	case strings.HasPrefix(filename, "MANIFEST-"):
		u, err := strconv.ParseUint(filename[len("MANIFEST-"):], 10, 64)
		if err != nil {
			break
		}
		return fileTypeManifest, u, true
	default:
		i := strings.IndexByte(filename, '.')
		if i < 0 {
			break
		}
		u, err := strconv.ParseUint(filename[:i], 10, 64)
		if err != nil {
			break
		}
		switch filename[i+1:] {
		case "sst":
			return fileTypeTable, u, true
		case "log":
			return fileTypeLog, u, true
		case "dbtmp":
			return fileTypeTemp, u, true
		}
	}
	return 0, 0, false
}

// setCurrentFile durably points CURRENT at the given manifest. The new
// contents are written to a temp file which is then renamed over CURRENT, so
// that a crash cannot leave a partially written CURRENT behind.
func setCurrentFile(dirname string, fs vfs.FS, fileNum uint64) error {
	newFilename := dbFilename(dirname, fileTypeCurrent, fileNum)
	oldFilename := dbFilename(dirname, fileTypeTemp, fileNum)
	fs.Remove(oldFilename)
	f, err := fs.Create(oldFilename)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "MANIFEST-%06d\n", fileNum); err != nil {
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
	return fs.Rename(oldFilename, newFilename)
}
