// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync"
	"time"

	"github.com/shaledb/shale/internal/arenaskl"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/record"
)

const (
	// maxCommitGroupSize caps the total size of a group of batches
	// committed by a single leader.
	maxCommitGroupSize = 1 << 20
	// smallBatchSizeLimit limits how much a group headed by a small batch
	// can grow, so that a small synchronous write is not penalized by
	// syncing a large group.
	smallBatchSizeLimit = 128 << 10
)

// commitWriter represents a single Apply call waiting in the commit queue.
type commitWriter struct {
	batch *Batch
	sync  bool
	done  bool
	err   error
	cv    sync.Cond
}

// commitQueue is a FIFO of pending writers, protected by DB.mu. The writer
// at the head of the queue is the leader: it builds a group from the
// writers behind it, writes the group to the WAL, applies it to the
// memtable and publishes the results.
type commitQueue struct {
	writers []*commitWriter
	// tmp is the scratch batch that group contents are merged into. It is
	// only used by the leader, which is single-threaded by the queue.
	tmp Batch
}

// Apply the operations contained in the batch to the DB. The batch will be
// applied atomically: either all of its operations become visible, or none
// do.
//
// It is safe to modify the contents of the arguments after Apply returns.
func (d *DB) Apply(batch *Batch, opts *WriteOptions) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if batch.Empty() {
		return nil
	}

	w := &commitWriter{batch: batch, sync: opts.GetSync()}
	w.cv.L = &d.mu.Mutex

	d.mu.Lock()
	d.mu.commit.writers = append(d.mu.commit.writers, w)
	for !w.done && d.mu.commit.writers[0] != w {
		w.cv.Wait()
	}
	if w.done {
		d.mu.Unlock()
		return w.err
	}

	// This writer is now the group leader.
	err := d.mu.compact.backgroundErr
	if err == nil {
		err = d.makeRoomForWrite(false)
	}

	lastWriter := w
	var group *Batch
	if err == nil {
		group, lastWriter, err = d.buildCommitGroup()
	}
	if err == nil {
		seqNum := d.mu.versions.lastSequence + 1
		group.setSeqNum(seqNum)

		// Reserve room in the memtable, rotating to a fresh memtable if the
		// current one cannot hold the group.
		mem := d.mu.mem.mutable
		for {
			err = mem.prepare(group)
			if err != arenaskl.ErrArenaFull {
				break
			}
			if err = d.makeRoomForWrite(true); err != nil {
				break
			}
			mem = d.mu.mem.mutable
		}

		if err == nil {
			// The queue head does not change until this writer publishes, so
			// the WAL and memtable can be written without holding DB.mu.
			d.mu.Unlock()
			err = d.commitWrite(group, w.sync)
			if err == nil {
				err = mem.apply(group, seqNum)
			} else {
				mem.writerRefs.Add(-1)
			}
			d.mu.Lock()

			if err == nil {
				d.mu.versions.lastSequence += base.SeqNum(group.Count())
				// An immutable memtable may have been waiting on this write
				// before it could flush.
				d.maybeScheduleFlush()
			} else {
				// A failed WAL or memtable write leaves the DB in an
				// undefined state. Make the error sticky.
				d.mu.compact.backgroundErr = err
				d.opts.EventListener.BackgroundError(err)
			}
		}
	}

	// Publish the result to every member of the group and pop them from the
	// queue.
	for {
		ready := d.mu.commit.writers[0]
		d.mu.commit.writers = d.mu.commit.writers[1:]
		if ready != w {
			ready.err = err
			ready.done = true
			ready.cv.Signal()
		}
		if ready == lastWriter {
			break
		}
	}
	// Notify the new head of the queue, if any.
	if len(d.mu.commit.writers) > 0 {
		d.mu.commit.writers[0].cv.Signal()
	}
	d.mu.Unlock()
	return err
}

// buildCommitGroup merges the batches of the waiting writers behind the
// leader into a single group batch. A merge failure means one of the batch
// reprs is malformed; the error fails the whole group, which includes the
// writer whose batch could not be merged. Requires DB.mu is held and that
// the leader is at the head of the queue.
func (d *DB) buildCommitGroup() (group *Batch, lastWriter *commitWriter, err error) {
	q := d.mu.commit.writers
	leader := q[0]
	group = leader.batch
	lastWriter = leader

	maxSize := uint64(maxCommitGroupSize)
	if size := uint64(len(leader.batch.Repr())); size <= smallBatchSizeLimit {
		maxSize = size + smallBatchSizeLimit
	}

	size := uint64(len(leader.batch.Repr()))
	for _, w := range q[1:] {
		if w.sync && !leader.sync {
			// Do not include a sync write into a group headed by a non-sync
			// write.
			break
		}
		size += uint64(len(w.batch.Repr()))
		if size > maxSize {
			break
		}
		if group == leader.batch {
			// Switch to the scratch batch instead of disturbing the
			// caller's batch.
			d.mu.commit.tmp.Reset()
			if err := d.mu.commit.tmp.Apply(leader.batch); err != nil {
				return nil, w, err
			}
			group = &d.mu.commit.tmp
		}
		if err := group.Apply(w.batch); err != nil {
			return nil, w, err
		}
		lastWriter = w
	}
	return group, lastWriter, nil
}

// commitWrite writes the group batch to the WAL, syncing it if requested.
// It runs without DB.mu held; the commit queue guarantees a single writer.
func (d *DB) commitWrite(group *Batch, sync bool) error {
	repr := group.Repr()
	if _, err := d.log.WriteRecord(repr); err != nil {
		return err
	}
	if err := d.log.Flush(); err != nil {
		return err
	}
	if sync {
		start := time.Now()
		err := d.logFile.Sync()
		if h := d.opts.WALFsyncLatency; h != nil {
			h.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// makeRoomForWrite ensures that there is room in the current memtable for a
// write, stalling while the system is overloaded and rotating the memtable
// and WAL when the memtable is full. If force is true a rotation is
// performed even if the current memtable has room. Requires DB.mu is held;
// it may be released and reacquired.
func (d *DB) makeRoomForWrite(force bool) error {
	allowDelay := !force
	var stalled bool
	for {
		if d.closed.Load() {
			return ErrClosed
		}
		if err := d.mu.compact.backgroundErr; err != nil {
			return err
		}
		if allowDelay && len(d.mu.versions.currentVersion().files[0]) >=
			d.opts.L0SlowdownWritesThreshold {
			// We are getting close to hitting a hard limit on the number of
			// L0 tables. Rather than delaying a single write by several
			// seconds when we hit the hard limit, start delaying each
			// individual write by 1ms to reduce latency variance.
			d.mu.Unlock()
			time.Sleep(time.Millisecond)
			d.mu.Lock()
			allowDelay = false
			continue
		}
		if !force {
			break
		}
		if len(d.mu.mem.queue) > d.opts.MemTableStopWritesThreshold {
			// There are too many unflushed memtables.
			if !stalled {
				stalled = true
				d.mu.metrics.writeStalls++
				d.opts.EventListener.WriteStallBegin(WriteStallBeginInfo{
					Reason: "memtable count limit reached",
				})
			}
			d.mu.compact.cond.Wait()
			continue
		}
		if len(d.mu.versions.currentVersion().files[0]) >= d.opts.L0StopWritesThreshold {
			// There are too many level-0 files.
			if !stalled {
				stalled = true
				d.mu.metrics.writeStalls++
				d.opts.EventListener.WriteStallBegin(WriteStallBeginInfo{
					Reason: "L0 file count limit reached",
				})
			}
			d.mu.compact.cond.Wait()
			continue
		}

		if stalled {
			stalled = false
			d.opts.EventListener.WriteStallEnd()
		}

		// Attempt to switch to a new memtable and trigger a flush of the
		// old one.
		if err := d.rotateMemTableLocked(); err != nil {
			return err
		}
		force = false
		break
	}
	if stalled {
		d.opts.EventListener.WriteStallEnd()
	}
	return nil
}

// rotateMemTableLocked switches to a fresh WAL and memtable, queueing the
// previous memtable for flushing. Requires DB.mu is held.
func (d *DB) rotateMemTableLocked() error {
	jobID := d.mu.nextJobID
	d.mu.nextJobID++

	newLogNumber := d.mu.versions.getNextFileNum()
	filename := dbFilename(d.dirname, fileTypeLog, newLogNumber)

	d.mu.Unlock()
	newLogFile, err := d.opts.FS.Create(filename)
	d.mu.Lock()

	d.opts.EventListener.WALCreated(WALCreateInfo{
		JobID:   jobID,
		Path:    filename,
		FileNum: newLogNumber,
		Err:     err,
	})
	if err != nil {
		d.mu.compact.backgroundErr = err
		return err
	}

	if err := d.log.Close(); err != nil {
		newLogFile.Close()
		d.mu.compact.backgroundErr = err
		return err
	}
	if err := d.logFile.Close(); err != nil {
		newLogFile.Close()
		d.mu.compact.backgroundErr = err
		return err
	}

	d.logNumber = newLogNumber
	d.logFile = newLogFile
	d.log = record.NewWriter(newLogFile)

	d.mu.mem.mutable = newMemTable(d.opts)
	d.mu.mem.mutable.logNum = newLogNumber
	d.mu.mem.queue = append(d.mu.mem.queue, d.mu.mem.mutable)

	d.updateReadStateLocked()
	d.maybeScheduleFlush()
	return nil
}
