// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/sstable"
	"github.com/shaledb/shale/vfs"
)

// compaction is a table compaction from one level to the next, starting from
// a given version.
type compaction struct {
	cmp     *base.Comparer
	version *version

	// level is the level that is being compacted. Inputs from level and
	// level+1 will be merged to produce a set of level+1 files.
	level int

	// inputs are the tables to be compacted: inputs[0] holds the level
	// tables, inputs[1] the overlapping level+1 tables.
	inputs [2][]fileMetadata

	// grandparents are the tables in level+2 that overlap the key range of
	// this compaction. An output table is cut when it overlaps too much of
	// the grandparent level, bounding the size of future compactions.
	grandparents []fileMetadata

	// smallest and largest are the inclusive bounds of this compaction's
	// input tables.
	smallest, largest base.InternalKey

	maxOutputFileSize uint64
	maxOverlapBytes   uint64

	// Per-output state used by shouldStopBefore.
	grandparentIndex int
	seenKey          bool
	overlappedBytes  uint64
}

func newCompaction(opts *Options, cur *version, level int) *compaction {
	return &compaction{
		cmp:               opts.Comparer,
		version:           cur,
		level:             level,
		maxOutputFileSize: uint64(opts.TargetFileSize),
		maxOverlapBytes:   maxGrandparentOverlapBytes(opts),
	}
}

// isTrivialMove returns true if the compaction can be implemented by moving
// the single input table to the next level, without rewriting it. Moving a
// table that overlaps too much of the grandparent level is avoided since it
// would create a very expensive compaction later.
func (c *compaction) isTrivialMove() bool {
	return len(c.inputs[0]) == 1 &&
		len(c.inputs[1]) == 0 &&
		totalSize(c.grandparents) <= c.maxOverlapBytes
}

// shouldStopBefore returns true if the output to the current table should be
// finished before processing the given key. The output is cut when it would
// overlap too many bytes of the grandparent level, so that compacting the
// output later does not pull in an excessive amount of level+2 data.
func (c *compaction) shouldStopBefore(key base.InternalKey) bool {
	icmp := c.cmp.Compare
	for c.grandparentIndex < len(c.grandparents) {
		g := c.grandparents[c.grandparentIndex]
		if base.InternalCompare(icmp, key, g.largest) <= 0 {
			break
		}
		if c.seenKey {
			c.overlappedBytes += g.size
		}
		c.grandparentIndex++
	}
	c.seenKey = true

	if c.overlappedBytes > c.maxOverlapBytes {
		c.overlappedBytes = 0
		return true
	}
	return false
}

// elideTombstone returns true if it is ok to elide a tombstone for the
// specified key: no table below the output level of the compaction can
// contain an older entry for the key, so the tombstone has nothing left to
// shadow once the compaction's own inputs are merged.
func (c *compaction) elideTombstone(key []byte) bool {
	ucmp := c.cmp.Compare
	for level := c.level + 2; level < numLevels; level++ {
		files := c.version.files[level]
		// Find the first file whose largest key is >= key.
		i := sort.Search(len(files), func(i int) bool {
			return ucmp(files[i].largest.UserKey, key) >= 0
		})
		if i < len(files) && ucmp(files[i].smallest.UserKey, key) <= 0 {
			return false
		}
	}
	return true
}

// newInputIter returns an iterator over all the input tables of the
// compaction, merged in internal key order. L0 tables may overlap each other
// and get one iterator per table; deeper levels are sorted and
// non-overlapping so a levelIter per level suffices.
func (c *compaction) newInputIter(tc *tableCache) (base.InternalIterator, error) {
	icmp := c.cmp.Compare
	iters := make([]base.InternalIterator, 0, len(c.inputs[0])+1)
	if c.level == 0 {
		for _, f := range c.inputs[0] {
			iter, err := tc.newIter(f.fileNum)
			if err != nil {
				for _, it := range iters {
					it.Close()
				}
				return nil, err
			}
			iters = append(iters, iter)
		}
	} else {
		iters = append(iters, newLevelIter(icmp, tc, c.inputs[0]))
	}
	iters = append(iters, newLevelIter(icmp, tc, c.inputs[1]))
	return newMergingIter(icmp, iters...), nil
}

func tableInfos(files []fileMetadata) []TableInfo {
	ti := make([]TableInfo, len(files))
	for i, f := range files {
		ti[i] = TableInfo{
			FileNum:  f.fileNum,
			Size:     f.size,
			Smallest: f.smallest,
			Largest:  f.largest,
		}
	}
	return ti
}

// maybeScheduleFlush schedules the background worker if the queue holds an
// immutable memtable whose writes have all been applied. Requires DB.mu is
// held.
func (d *DB) maybeScheduleFlush() {
	d.maybeScheduleBackgroundWork()
}

// maybeScheduleCompaction schedules the background worker if a compaction is
// needed. Requires DB.mu is held.
func (d *DB) maybeScheduleCompaction() {
	d.maybeScheduleBackgroundWork()
}

// maybeScheduleBackgroundWork starts the background worker goroutine if
// there is a flush or compaction to perform and the worker is not already
// running. A single worker performs all background table writes, flushes
// taking priority over compactions. Requires DB.mu is held.
func (d *DB) maybeScheduleBackgroundWork() {
	if d.mu.compact.active || d.closed.Load() {
		return
	}
	if d.mu.compact.backgroundErr != nil {
		return
	}
	if !d.flushReady() && !d.compactionNeeded() {
		return
	}
	d.mu.compact.active = true
	go d.backgroundWork()
}

// flushReady reports whether the oldest memtable can be flushed. Requires
// DB.mu is held.
func (d *DB) flushReady() bool {
	return len(d.mu.mem.queue) > 1 && d.mu.mem.queue[0].readyForFlush()
}

// compactionNeeded reports whether the current version wants a compaction.
// Requires DB.mu is held.
func (d *DB) compactionNeeded() bool {
	v := d.mu.versions.currentVersion()
	updateCompactionScore(d.opts, v)
	return v.compactionScore >= 1
}

func (d *DB) backgroundWork() {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.flushReady() {
		err = d.flush1()
	} else if c := d.pickCompaction(); c != nil {
		err = d.compact1(c)
	}
	if err != nil {
		d.mu.compact.backgroundErr = err
		d.opts.EventListener.BackgroundError(err)
	}
	d.mu.compact.active = false
	// Writes may be stalled on the memtable count or L0 file count limits,
	// and manual compactions wait for the worker to go idle.
	d.mu.compact.cond.Broadcast()
	d.maybeScheduleBackgroundWork()
}

// flush1 flushes the ready immutable memtables to a single L0 table.
// Requires DB.mu is held; it is released during table I/O.
func (d *DB) flush1() error {
	var n int
	for ; n < len(d.mu.mem.queue)-1; n++ {
		if !d.mu.mem.queue[n].readyForFlush() {
			break
		}
	}
	if n == 0 {
		return nil
	}

	jobID := d.mu.nextJobID
	d.mu.nextJobID++
	d.opts.EventListener.FlushBegin(FlushInfo{JobID: jobID})
	startTime := time.Now()

	// The WAL of the last flushed memtable, and all older WALs, become
	// obsolete once the flush is logged in the manifest.
	ve := &versionEdit{logNumber: d.mu.mem.queue[n].logNum}

	iters := make([]base.InternalIterator, 0, n)
	for _, mem := range d.mu.mem.queue[:n] {
		if !mem.empty() {
			iters = append(iters, mem.newIter())
		}
	}

	var err error
	if len(iters) > 0 {
		var meta fileMetadata
		meta, err = d.writeLevel0Table(newMergingIter(d.cmp.Compare, iters...))
		if err == nil {
			ve.newFiles = []newFileEntry{{level: 0, meta: meta}}
		}
	}

	if err == nil {
		err = d.mu.versions.logAndApply(jobID, ve)
	}
	for _, f := range ve.newFiles {
		delete(d.mu.compact.pendingOutputs, f.meta.fileNum)
	}

	info := FlushInfo{
		JobID:    jobID,
		Duration: time.Since(startTime),
		Done:     true,
		Err:      err,
	}
	if err == nil {
		for _, f := range ve.newFiles {
			info.Output = append(info.Output, TableInfo{
				FileNum:  f.meta.fileNum,
				Size:     f.meta.size,
				Smallest: f.meta.smallest,
				Largest:  f.meta.largest,
			})
		}
	}
	d.opts.EventListener.FlushEnd(info)
	if err != nil {
		// The memtables stay in the queue and remain readable, but the flush
		// will not be retried: the error is sticky and halts background work.
		// Deliver the failure to any Flush waiters.
		for _, mem := range d.mu.mem.queue[:n] {
			if mem.flushErr == nil {
				mem.flushErr = err
				close(mem.flushedCh)
			}
		}
		return err
	}

	d.mu.metrics.flushCount++
	for _, f := range ve.newFiles {
		d.mu.metrics.bytesFlushed += f.meta.size
	}

	flushed := d.mu.mem.queue[:n]
	d.mu.mem.queue = d.mu.mem.queue[n:]
	d.updateReadStateLocked()
	for _, mem := range flushed {
		close(mem.flushedCh)
	}
	d.deleteObsoleteFiles(jobID)
	return nil
}

// writeLevel0Table writes the contents of the iterator to a new L0 table.
// Requires DB.mu is held; it is released during I/O. The iterator is closed
// before returning.
func (d *DB) writeLevel0Table(iter base.InternalIterator) (meta fileMetadata, err error) {
	fileNum := d.mu.versions.getNextFileNum()
	meta.fileNum = fileNum
	filename := dbFilename(d.dirname, fileTypeTable, fileNum)
	d.mu.compact.pendingOutputs[fileNum] = struct{}{}

	// A failed flush must not leave a partial table behind: the file is
	// removed from disk, and from the pending set so that the cleaner does
	// not consider it live. This runs after the mutex is reacquired.
	defer func() {
		if err != nil {
			d.tableCache.evict(fileNum)
			d.opts.FS.Remove(filename)
			delete(d.mu.compact.pendingOutputs, fileNum)
		}
	}()

	d.mu.Unlock()
	defer d.mu.Lock()

	var file vfs.File
	file, err = d.opts.FS.Create(filename)
	if err != nil {
		iter.Close()
		return fileMetadata{}, err
	}
	w := sstable.NewWriter(file, d.opts.makeWriterOptions())

	var largest base.InternalKey
	for iter.First(); iter.Valid(); iter.Next() {
		ikey := iter.Key()
		if meta.smallest.UserKey == nil {
			meta.smallest = ikey.Clone()
		}
		largest = ikey
		if err = w.Add(ikey, iter.Value()); err != nil {
			break
		}
	}
	// The table entries are still reachable through the iterator; clone the
	// largest key before the iterator is closed.
	meta.largest = largest.Clone()
	if err == nil {
		err = iter.Error()
	}
	if err1 := iter.Close(); err == nil {
		err = err1
	}
	if err1 := w.Close(); err == nil {
		err = err1
	}
	if err != nil {
		return fileMetadata{}, err
	}

	fi, err := d.opts.FS.Stat(filename)
	if err != nil {
		return fileMetadata{}, err
	}
	meta.size = uint64(fi.Size())

	// Verify that the table is readable before publishing it.
	if err := d.verifyTable(meta.fileNum); err != nil {
		return fileMetadata{}, err
	}
	return meta, nil
}

// verifyTable reopens a freshly written table through the table cache and
// positions an iterator in it, ensuring the footer, index and first block
// parse before the table is added to a version.
func (d *DB) verifyTable(fileNum uint64) error {
	iter, err := d.tableCache.newIter(fileNum)
	if err != nil {
		return err
	}
	iter.First()
	if err := iter.Error(); err != nil {
		iter.Close()
		return err
	}
	return iter.Close()
}

// compact1 runs one compaction and installs the result in the manifest.
// Requires DB.mu is held; it is released during table I/O.
func (d *DB) compact1(c *compaction) error {
	jobID := d.mu.nextJobID
	d.mu.nextJobID++

	info := CompactionInfo{JobID: jobID}
	info.Input.Level = c.level
	info.Input.Tables[0] = tableInfos(c.inputs[0])
	info.Input.Tables[1] = tableInfos(c.inputs[1])
	info.Output.Level = c.level + 1
	d.opts.EventListener.CompactionBegin(info)
	startTime := time.Now()

	var ve *versionEdit
	var err error
	if c.isTrivialMove() {
		meta := c.inputs[0][0]
		ve = &versionEdit{
			deletedFiles: map[deletedFileEntry]bool{
				{level: c.level, fileNum: meta.fileNum}: true,
			},
			newFiles: []newFileEntry{{level: c.level + 1, meta: meta}},
		}
	} else {
		ve, err = d.runCompaction(c)
	}
	if err == nil {
		err = d.mu.versions.logAndApply(jobID, ve)
	}
	if ve != nil {
		for _, f := range ve.newFiles {
			delete(d.mu.compact.pendingOutputs, f.meta.fileNum)
		}
	}

	info.Duration = time.Since(startTime)
	info.Done = true
	info.Err = err
	if err == nil {
		for _, f := range ve.newFiles {
			info.Output.Tables = append(info.Output.Tables, TableInfo{
				FileNum:  f.meta.fileNum,
				Size:     f.meta.size,
				Smallest: f.meta.smallest,
				Largest:  f.meta.largest,
			})
		}
	}
	d.opts.EventListener.CompactionEnd(info)
	if err != nil {
		return err
	}

	d.mu.metrics.compactCount++
	if !c.isTrivialMove() {
		for _, f := range ve.newFiles {
			d.mu.metrics.bytesCompacted += f.meta.size
		}
	}

	d.updateReadStateLocked()
	d.deleteObsoleteFiles(jobID)
	return nil
}

// runCompaction runs a compaction that merges the input tables into a set of
// output tables in level+1, dropping shadowed entries and elidable
// tombstones. It returns the version edit describing the result; the edit is
// neither logged nor applied. Requires DB.mu is held; it is released during
// I/O.
func (d *DB) runCompaction(c *compaction) (ve *versionEdit, retErr error) {
	// Entries below this boundary that are shadowed by a newer entry for the
	// same user key are not visible to any snapshot and can be dropped.
	smallestSnapshot := d.mu.versions.lastSequence + 1
	if s := d.mu.snapshots.earliest(); s < smallestSnapshot {
		smallestSnapshot = s
	}

	iter, err := c.newInputIter(&d.tableCache)
	if err != nil {
		return nil, err
	}

	ve = &versionEdit{
		deletedFiles: map[deletedFileEntry]bool{},
		// The compaction pointer records how far through the level's keyspace
		// compaction has progressed, so the next compaction of this level
		// picks up where this one left off.
		compactPointers: []compactPointerEntry{{level: c.level, key: c.largest}},
	}
	for i := range c.inputs {
		for _, f := range c.inputs[i] {
			ve.deletedFiles[deletedFileEntry{
				level:   c.level + i,
				fileNum: f.fileNum,
			}] = true
		}
	}

	var tw *sstable.Writer
	var meta fileMetadata
	var largestBuf []byte
	var largestTrailer base.InternalKeyTrailer
	var createdOutputs []uint64

	newOutput := func() error {
		d.mu.Lock()
		fileNum := d.mu.versions.getNextFileNum()
		d.mu.compact.pendingOutputs[fileNum] = struct{}{}
		d.mu.Unlock()
		createdOutputs = append(createdOutputs, fileNum)

		filename := dbFilename(d.dirname, fileTypeTable, fileNum)
		file, err := d.opts.FS.Create(filename)
		if err != nil {
			return err
		}
		tw = sstable.NewWriter(file, d.opts.makeWriterOptions())
		meta = fileMetadata{fileNum: fileNum}
		return nil
	}

	finishOutput := func() error {
		if err := tw.Close(); err != nil {
			tw = nil
			return err
		}
		tw = nil
		meta.largest = base.InternalKey{
			UserKey: append([]byte(nil), largestBuf...),
			Trailer: largestTrailer,
		}
		fi, err := d.opts.FS.Stat(dbFilename(d.dirname, fileTypeTable, meta.fileNum))
		if err != nil {
			return err
		}
		meta.size = uint64(fi.Size())
		if err := d.verifyTable(meta.fileNum); err != nil {
			return err
		}
		ve.newFiles = append(ve.newFiles, newFileEntry{level: c.level + 1, meta: meta})
		return nil
	}

	// A failed compaction must not leave partial outputs behind: every file
	// created so far is removed from disk and from the pending set. This runs
	// after the mutex is reacquired and the writer and iterator are closed.
	defer func() {
		if retErr != nil {
			for _, fileNum := range createdOutputs {
				d.tableCache.evict(fileNum)
				d.opts.FS.Remove(dbFilename(d.dirname, fileTypeTable, fileNum))
				delete(d.mu.compact.pendingOutputs, fileNum)
			}
		}
	}()

	d.mu.Unlock()
	defer d.mu.Lock()
	defer func() {
		if iter != nil {
			if err := iter.Close(); err != nil && retErr == nil {
				retErr = err
			}
		}
		if tw != nil {
			tw.Close()
		}
	}()

	var currentUserKey []byte
	var hasCurrentUserKey bool
	lastSeqNumForKey := base.SeqNumMax

	for iter.First(); iter.Valid(); iter.Next() {
		ikey := iter.Key()

		if tw != nil && c.shouldStopBefore(ikey) {
			if err := finishOutput(); err != nil {
				return nil, err
			}
		}

		if !hasCurrentUserKey || c.cmp.Compare(ikey.UserKey, currentUserKey) != 0 {
			// First occurrence of this user key: it is the newest entry for
			// the key among the compaction inputs.
			currentUserKey = append(currentUserKey[:0], ikey.UserKey...)
			hasCurrentUserKey = true
			lastSeqNumForKey = base.SeqNumMax
		}

		drop := false
		if lastSeqNumForKey < smallestSnapshot {
			// The entry is shadowed by a newer entry for the same user key
			// that is itself visible to every open snapshot.
			drop = true
		} else if ikey.Kind() == base.InternalKeyKindDelete &&
			ikey.SeqNum() < smallestSnapshot &&
			c.elideTombstone(ikey.UserKey) {
			// The tombstone is visible at every snapshot, and there is no
			// older entry for the key below the output level: once the inputs
			// are merged the tombstone has nothing left to delete.
			drop = true
		}
		lastSeqNumForKey = ikey.SeqNum()
		if drop {
			continue
		}

		if tw == nil {
			if err := newOutput(); err != nil {
				return nil, err
			}
			meta.smallest = ikey.Clone()
		}
		largestBuf = append(largestBuf[:0], ikey.UserKey...)
		largestTrailer = ikey.Trailer
		if err := tw.Add(ikey, iter.Value()); err != nil {
			return nil, err
		}
		if tw.EstimatedSize() >= c.maxOutputFileSize {
			if err := finishOutput(); err != nil {
				return nil, err
			}
		}
	}

	if err := iter.Error(); err != nil {
		return nil, err
	}
	if err := iter.Close(); err != nil {
		iter = nil
		return nil, err
	}
	iter = nil

	if tw != nil {
		if err := finishOutput(); err != nil {
			return nil, err
		}
	}
	if len(ve.newFiles) == 0 && len(ve.deletedFiles) == 0 {
		return nil, errors.AssertionFailedf("shale: empty compaction")
	}
	return ve, nil
}
