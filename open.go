// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"github.com/shaledb/shale/internal/arenaskl"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/internal/rate"
	"github.com/shaledb/shale/record"
)

// Open opens a DB whose files live in the given directory. The directory and
// a fresh DB are created if no DB exists there yet.
func Open(dirname string, opts *Options) (db *DB, err error) {
	opts = opts.EnsureDefaults()
	d := &DB{
		dirname: dirname,
		opts:    opts,
		cmp:     opts.Comparer,
	}
	d.tableCache.init(dirname, opts.FS, opts, opts.MaxOpenFiles)
	if opts.TargetByteDeletionRate > 0 {
		d.deletionLimiter = rate.NewLimiter(
			float64(opts.TargetByteDeletionRate), float64(opts.TargetByteDeletionRate))
	}
	d.mu.compact.cond.L = &d.mu.Mutex
	d.mu.compact.pendingOutputs = make(map[uint64]struct{})
	d.mu.snapshots.init()
	d.mu.nextJobID = 1

	fs := opts.FS
	if err := fs.MkdirAll(dirname, 0755); err != nil {
		return nil, err
	}

	// Lock the database directory.
	fileLock, err := fs.Lock(dbFilename(dirname, fileTypeLock, 0))
	if err != nil {
		return nil, err
	}
	defer func() {
		if fileLock != nil {
			fileLock.Close()
		}
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	jobID := d.mu.nextJobID
	d.mu.nextJobID++

	if _, err := fs.Stat(dbFilename(dirname, fileTypeCurrent, 0)); oserror.IsNotExist(err) {
		// Create the DB if it did not already exist.
		if err := d.mu.versions.create(dirname, opts, &d.mu.Mutex); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, errors.Wrapf(err, "shale: database %q", dirname)
	} else if opts.ErrorIfExists {
		return nil, errors.Errorf("shale: database %q already exists", dirname)
	} else {
		// Load the version set.
		if err := d.mu.versions.load(dirname, opts, &d.mu.Mutex); err != nil {
			return nil, err
		}
	}

	// Replay any newer log files than the ones named in the manifest.
	var logNums []uint64
	ls, err := fs.List(dirname)
	if err != nil {
		return nil, err
	}
	for _, filename := range ls {
		ft, fileNum, ok := parseDBFilename(filename)
		if ok && ft == fileTypeLog && fileNum >= d.mu.versions.logNumber {
			logNums = append(logNums, fileNum)
		}
	}
	sort.Slice(logNums, func(i, j int) bool { return logNums[i] < logNums[j] })

	var ve versionEdit
	for i, logNum := range logNums {
		d.mu.versions.markFileNumUsed(logNum)
		maxSeqNum, err := d.replayWAL(&ve, logNum, i == len(logNums)-1)
		if err != nil {
			return nil, err
		}
		if d.mu.versions.lastSequence < maxSeqNum {
			d.mu.versions.lastSequence = maxSeqNum
		}
	}

	// Create an empty .log file and a fresh memtable.
	newLogNumber := d.mu.versions.getNextFileNum()
	logFilename := dbFilename(dirname, fileTypeLog, newLogNumber)
	logFile, err := fs.Create(logFilename)
	d.opts.EventListener.WALCreated(WALCreateInfo{
		JobID:   jobID,
		Path:    logFilename,
		FileNum: newLogNumber,
		Err:     err,
	})
	if err != nil {
		return nil, err
	}
	d.logNumber = newLogNumber
	d.logFile = logFile
	d.log = record.NewWriter(logFile)

	d.mu.mem.mutable = newMemTable(opts)
	d.mu.mem.mutable.logNum = newLogNumber
	d.mu.mem.queue = append(d.mu.mem.queue, d.mu.mem.mutable)

	// Write a new manifest record naming the replayed tables and the new log
	// number, making the replayed WALs obsolete.
	ve.logNumber = newLogNumber
	if err := d.mu.versions.logAndApply(jobID, &ve); err != nil {
		return nil, err
	}
	for _, f := range ve.newFiles {
		delete(d.mu.compact.pendingOutputs, f.meta.fileNum)
	}

	d.updateReadStateLocked()
	d.deleteObsoleteFiles(jobID)
	d.maybeScheduleCompaction()

	d.fileLock, fileLock = fileLock, nil
	return d, nil
}

// replayWAL replays the edits in the named WAL into memtables, writing filled
// memtables out as L0 tables recorded in ve. The final, tolerateTail log may
// end in a torn write from a crash; replay stops at the first invalid chunk
// instead of failing. Requires DB.mu is held; it is released during table
// I/O.
func (d *DB) replayWAL(
	ve *versionEdit, logNum uint64, tolerateTail bool,
) (maxSeqNum base.SeqNum, err error) {
	file, err := d.opts.FS.Open(dbFilename(d.dirname, fileTypeLog, logNum))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var mem *memTable
	flushMem := func() error {
		if mem == nil || mem.empty() {
			mem = nil
			return nil
		}
		meta, err := d.writeLevel0Table(mem.newIter())
		if err != nil {
			return err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: 0, meta: meta})
		mem = nil
		return nil
	}

	rr := record.NewReader(file)
	var b Batch
	for {
		r, err := rr.Next()
		if err == nil {
			var data []byte
			data, err = io.ReadAll(r)
			if err == nil {
				if len(data) < batchHeaderLen {
					err = base.CorruptionErrorf("shale: corrupt log file %06d", logNum)
				} else {
					b = Batch{}
					err = b.SetRepr(data)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			if tolerateTail && record.IsInvalidRecord(err) {
				// A torn write at the tail of the newest log is the expected
				// result of a crash mid-write. Everything up to this point
				// was durable and has been applied.
				break
			}
			return 0, errors.Wrapf(err, "shale: corrupt log file %06d", logNum)
		}

		seqNum := b.SeqNum()
		if n := seqNum + base.SeqNum(b.Count()) - 1; maxSeqNum < n {
			maxSeqNum = n
		}

		if mem == nil {
			mem = newMemTable(d.opts)
		}
		for {
			if err := mem.prepare(&b); err != arenaskl.ErrArenaFull {
				if err != nil {
					return 0, err
				}
				break
			}
			if err := flushMem(); err != nil {
				return 0, err
			}
			size := uint32(d.opts.MemTableSize)
			if need := uint32(b.memTableSize) + memTableEmptySize; need > size {
				// The logged batch is larger than the configured memtable.
				size = need
			}
			mem = newMemTableSize(d.opts, size)
		}
		if err := mem.apply(&b, seqNum); err != nil {
			return 0, err
		}
	}

	if err := flushMem(); err != nil {
		return 0, err
	}
	return maxSeqNum, nil
}
