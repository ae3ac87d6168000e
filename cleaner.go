// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sort"
)

// obsoleteFile describes a file in the database directory that is no longer
// needed and can be removed.
type obsoleteFile struct {
	fileType fileType
	fileNum  uint64
	path     string
	size     uint64
}

// maybeScheduleObsoleteScanLocked schedules a pass of the obsolete file
// cleaner if closing a version has released table files. Requires DB.mu is
// held.
func (d *DB) maybeScheduleObsoleteScanLocked() {
	if d.mu.cleaner.cleaning || d.closed.Load() {
		return
	}
	if len(d.mu.versions.obsoleteTables) == 0 {
		return
	}
	jobID := d.mu.nextJobID
	d.mu.nextJobID++
	go func() {
		d.mu.Lock()
		d.deleteObsoleteFiles(jobID)
		d.mu.Unlock()
	}()
}

// deleteObsoleteFiles scans the database directory and deletes every file
// that is not referenced by the current state: WALs older than the manifest's
// log number, superseded manifests, orphaned temp files, and tables that are
// neither in a live version nor being written by an in-flight job. Deletions
// are paced by the TargetByteDeletionRate option.
//
// Requires DB.mu is held; it is released during I/O. Only one cleaning pass
// runs at a time.
func (d *DB) deleteObsoleteFiles(jobID int) {
	if d.mu.cleaner.cleaning {
		return
	}
	d.mu.cleaner.cleaning = true
	defer func() {
		d.mu.cleaner.cleaning = false
		d.mu.compact.cond.Broadcast()
	}()

	liveFileNums := make(map[uint64]struct{})
	for fileNum := range d.mu.compact.pendingOutputs {
		liveFileNums[fileNum] = struct{}{}
	}
	d.mu.versions.addLiveFileNums(liveFileNums)
	logNumber := d.mu.versions.logNumber
	manifestFileNumber := d.mu.versions.manifestFileNumber
	d.mu.versions.obsoleteTables = nil

	d.mu.Unlock()
	defer d.mu.Lock()

	list, err := d.opts.FS.List(d.dirname)
	if err != nil {
		// The scan will be retried by a later job.
		return
	}

	var obsolete []obsoleteFile
	for _, filename := range list {
		ft, fileNum, ok := parseDBFilename(filename)
		if !ok {
			continue
		}
		keep := true
		switch ft {
		case fileTypeLog:
			keep = fileNum >= logNumber
		case fileTypeManifest:
			keep = fileNum >= manifestFileNumber
		case fileTypeTable:
			_, keep = liveFileNums[fileNum]
		case fileTypeTemp:
			keep = false
		default:
			// CURRENT and LOCK are always kept.
			continue
		}
		if keep {
			continue
		}
		of := obsoleteFile{
			fileType: ft,
			fileNum:  fileNum,
			path:     d.opts.FS.PathJoin(d.dirname, filename),
		}
		if fi, err := d.opts.FS.Stat(of.path); err == nil {
			of.size = uint64(fi.Size())
		}
		obsolete = append(obsolete, of)
	}
	sort.Slice(obsolete, func(i, j int) bool {
		return obsolete[i].fileNum < obsolete[j].fileNum
	})

	for _, of := range obsolete {
		if of.fileType == fileTypeTable {
			d.tableCache.evict(of.fileNum)
			if d.deletionLimiter != nil {
				d.deletionLimiter.Wait(float64(of.size))
			}
		}
		err := d.opts.FS.Remove(of.path)
		switch of.fileType {
		case fileTypeLog:
			d.opts.EventListener.WALDeleted(WALDeleteInfo{
				JobID:   jobID,
				Path:    of.path,
				FileNum: of.fileNum,
				Err:     err,
			})
		case fileTypeTable:
			d.opts.EventListener.TableDeleted(TableDeleteInfo{
				JobID:   jobID,
				Path:    of.path,
				FileNum: of.fileNum,
				Err:     err,
			})
		}
	}
}
