// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package shale provides an ordered key/value store, implemented as a
// log-structured merge tree. Keys and values are arbitrary byte slices,
// iterated in key order. Writes go to a write-ahead log and an in-memory
// table; background jobs flush filled memtables to sorted table files and
// compact the tables into larger, non-overlapping runs.
package shale

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/internal/rate"
	"github.com/shaledb/shale/record"
	"github.com/shaledb/shale/sstable"
	"github.com/shaledb/shale/vfs"
)

// Reader is a readable key/value store.
//
// It is safe to call Get and NewIter from concurrent goroutines.
type Reader interface {
	// Get gets the value for the given key. It returns ErrNotFound if the DB
	// does not contain the key.
	//
	// The caller should not modify the contents of the returned slice, but
	// it is safe to modify the contents of the argument after Get returns.
	Get(key []byte) (value []byte, err error)

	// NewIter returns an iterator that is unpositioned (Iterator.Valid() will
	// return false). The iterator can be positioned via a call to SeekGE,
	// SeekLT, First or Last.
	NewIter(o *IterOptions) *Iterator

	// Close closes the Reader. It may or may not close any underlying io.Reader
	// or io.Writer, depending on how the DB was created.
	Close() error
}

// Writer is a writable key/value store.
//
// Goroutine safety is dependent on the specific implementation.
type Writer interface {
	// Apply the operations contained in the batch to the DB.
	//
	// It is safe to modify the contents of the arguments after Apply returns.
	Apply(batch *Batch, o *WriteOptions) error

	// Delete deletes the value for the given key. Deletes are blind all will
	// succeed even if the given key does not exist.
	//
	// It is safe to modify the contents of the arguments after Delete returns.
	Delete(key []byte, o *WriteOptions) error

	// Set sets the value for the given key. It overwrites any previous value
	// for that key; a DB is not a multi-map.
	//
	// It is safe to modify the contents of the arguments after Set returns.
	Set(key, value []byte, o *WriteOptions) error
}

// DB provides a concurrent, persistent ordered key/value store.
//
// A DB's basic operations (Get, Set, Delete) should be self-explanatory. Get
// and Delete will return ErrNotFound if the requested key is not in the
// store. Callers are free to ignore this error.
//
// A DB also allows for iterating over the key/value pairs in key order. If d
// is a DB, the code below prints all key/value pairs whose keys are 'greater
// than or equal to' k:
//
//	iter := d.NewIter(readOptions)
//	for iter.SeekGE(k); iter.Valid(); iter.Next() {
//		fmt.Printf("key=%q value=%q\n", iter.Key(), iter.Value())
//	}
//	return iter.Close()
//
// The DB implementation always forms an internal consistency point on a
// batch boundary, so the writes of a batch become visible atomically.
type DB struct {
	dirname string
	opts    *Options
	cmp     *base.Comparer

	tableCache tableCache

	// The WAL state below is modified only by the commit leader and during
	// Open and Close, never concurrently.
	logNumber uint64
	logFile   vfs.File
	log       *record.Writer

	fileLock io.Closer

	// deletionLimiter paces obsolete file deletion. Nil when the
	// TargetByteDeletionRate option is zero.
	deletionLimiter *rate.Limiter

	closed atomic.Bool

	readState struct {
		sync.RWMutex
		val *readState
	}

	mu struct {
		sync.Mutex

		versions versionSet

		nextJobID int

		mem struct {
			// mutable is the current memtable being written to. It is always
			// the last element of queue.
			mutable *memTable
			// queue is the full list of memtables, from oldest to newest.
			// Every element but the last has been marked immutable and is
			// waiting to be flushed.
			queue []*memTable
		}

		commit commitQueue

		compact struct {
			// cond is signalled when a flush or compaction completes, waking
			// stalled writers and manual compactions.
			cond sync.Cond
			// active is true while the background worker goroutine is
			// running. A single worker performs all flushes and compactions.
			active bool
			// backgroundErr is a sticky error from a failed WAL write, flush
			// or compaction. Once set, all subsequent writes fail with it.
			backgroundErr error
			// pendingOutputs are table files being written by an in-progress
			// flush or compaction, protected from the obsolete file cleaner
			// until they are added to a version.
			pendingOutputs map[uint64]struct{}
		}

		cleaner struct {
			cleaning bool
		}

		snapshots snapshotList

		metrics struct {
			flushCount     int64
			compactCount   int64
			bytesFlushed   uint64
			bytesCompacted uint64
			writeStalls    int64
		}
	}
}

var _ Reader = (*DB)(nil)
var _ Writer = (*DB)(nil)

// Get gets the value for the given key. It returns ErrNotFound if the DB does
// not contain the key.
//
// The caller should not modify the contents of the returned slice, but it is
// safe to modify the contents of the argument after Get returns.
func (d *DB) Get(key []byte) ([]byte, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.mu.Lock()
	seqNum := d.mu.versions.lastSequence + 1
	d.mu.Unlock()
	return d.getInternal(key, seqNum)
}

// getInternal looks up key as of the visibility boundary seqNum: entries with
// smaller sequence numbers are visible. Memtables are consulted newest first,
// then the current version's tables.
func (d *DB) getInternal(key []byte, seqNum base.SeqNum) ([]byte, error) {
	rs := d.loadReadState()
	defer rs.unref()

	// The lookup key sorts at or before every visible entry for key, and
	// after every invisible one: entries with higher sequence numbers sort
	// earlier in the internal ordering.
	lookup := base.MakeInternalKey(key, seqNum-1, base.InternalKeyKindMax)

	for i := len(rs.memtables) - 1; i >= 0; i-- {
		ikey, value, ok := rs.memtables[i].get(lookup)
		if !ok {
			continue
		}
		if ikey.Kind() == base.InternalKeyKindDelete {
			return nil, ErrNotFound
		}
		return value, nil
	}

	ikey, value, err := rs.current.get(lookup, &d.tableCache, d.cmp.Compare)
	if err != nil {
		return nil, err
	}
	if ikey.Kind() == base.InternalKeyKindDelete {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set sets the value for the given key. It overwrites any previous value for
// that key; a DB is not a multi-map.
//
// It is safe to modify the contents of the arguments after Set returns.
func (d *DB) Set(key, value []byte, opts *WriteOptions) error {
	var b Batch
	b.Set(key, value)
	return d.Apply(&b, opts)
}

// Delete deletes the value for the given key. Deletes are blind all will
// succeed even if the given key does not exist.
//
// It is safe to modify the contents of the arguments after Delete returns.
func (d *DB) Delete(key []byte, opts *WriteOptions) error {
	var b Batch
	b.Delete(key)
	return d.Apply(&b, opts)
}

// NewBatch returns a new empty write batch. Any reads on the batch will
// return an error. If the batch is committed it will be applied to the DB.
func (d *DB) NewBatch() *Batch {
	return &Batch{}
}

// Error returns the sticky background error, if any. Once a background
// flush, compaction or WAL write fails, the DB stops accepting writes and
// every subsequent write returns this error. Reads continue to be served
// from the installed state.
func (d *DB) Error() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mu.compact.backgroundErr
}

// NewIter returns an iterator that is unpositioned (Iterator.Valid() will
// return false). The iterator can be positioned via a call to SeekGE, SeekLT,
// First or Last. The iterator provides a point-in-time view of the current
// DB state.
func (d *DB) NewIter(o *IterOptions) *Iterator {
	if d.closed.Load() {
		return &Iterator{err: ErrClosed}
	}
	d.mu.Lock()
	seqNum := d.mu.versions.lastSequence + 1
	d.mu.Unlock()
	return d.newIterInternal(o, seqNum)
}

// newIterInternal constructs an iterator over the current read state, seeing
// entries below the visibility boundary seqNum.
func (d *DB) newIterInternal(o *IterOptions, seqNum base.SeqNum) *Iterator {
	rs := d.loadReadState()

	current := rs.current
	iters := make([]base.InternalIterator, 0,
		len(rs.memtables)+len(current.files[0])+numLevels)
	for i := len(rs.memtables) - 1; i >= 0; i-- {
		iters = append(iters, rs.memtables[i].newIter())
	}
	var err error
	for i := len(current.files[0]) - 1; i >= 0 && err == nil; i-- {
		var iter base.InternalIterator
		iter, err = d.tableCache.newIter(current.files[0][i].fileNum)
		if err == nil {
			iters = append(iters, iter)
		}
	}
	if err != nil {
		for _, iter := range iters {
			iter.Close()
		}
		rs.unref()
		return &Iterator{err: err}
	}
	for level := 1; level < numLevels; level++ {
		if len(current.files[level]) == 0 {
			continue
		}
		iters = append(iters, newLevelIter(d.cmp.Compare, &d.tableCache, current.files[level]))
	}

	it := &Iterator{
		cmp:       d.cmp.Compare,
		iter:      newMergingIter(d.cmp.Compare, iters...),
		seqNum:    seqNum,
		readState: rs,
	}
	if o != nil {
		it.lower = o.GetLowerBound()
		it.upper = o.GetUpperBound()
	}
	return it
}

// NewSnapshot returns a point-in-time view of the current DB state. Iterators
// created with this handle will all observe a stable snapshot of the current
// state. The caller must call Snapshot.Close() when the snapshot is no longer
// needed. Snapshots are not persisted across DB restarts (close -> open).
func (d *DB) NewSnapshot() *Snapshot {
	if d.closed.Load() {
		panic(ErrClosed)
	}
	d.mu.Lock()
	s := &Snapshot{
		db:     d,
		seqNum: d.mu.versions.lastSequence + 1,
	}
	d.mu.snapshots.pushBack(s)
	d.mu.Unlock()
	return s
}

// Flush the memtable to stable storage, blocking until the flush completes.
// A failed flush returns the background error.
func (d *DB) Flush() error {
	mem, err := d.asyncFlush()
	if err != nil || mem == nil {
		return err
	}
	<-mem.flushedCh
	return mem.flushErr
}

// AsyncFlush asynchronously flushes the memtable to stable storage. It
// returns a channel which is closed when the flush completes, in success or
// failure, or nil if there is nothing to flush.
func (d *DB) AsyncFlush() (<-chan struct{}, error) {
	mem, err := d.asyncFlush()
	if err != nil || mem == nil {
		return nil, err
	}
	return mem.flushedCh, nil
}

// asyncFlush queues the mutable memtable for flushing and returns the newest
// memtable the flush will cover, or nil if there is nothing to flush.
func (d *DB) asyncFlush() (*memTable, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.mu.compact.backgroundErr; err != nil {
		return nil, err
	}
	if d.mu.mem.mutable.empty() {
		if len(d.mu.mem.queue) == 1 {
			return nil, nil
		}
	} else {
		if err := d.makeRoomForWrite(true); err != nil {
			return nil, err
		}
	}
	mem := d.mu.mem.queue[len(d.mu.mem.queue)-2]
	d.maybeScheduleFlush()
	return mem, nil
}

// Compact the specified range of keys in the database. The memtable is
// flushed first, then every level holding data in the range is compacted into
// the level below it, top down. On return the range's entries reside in as
// few levels as the data size allows, with all shadowed versions and
// elidable tombstones dropped.
func (d *DB) Compact(start, end []byte) error {
	if d.closed.Load() {
		return ErrClosed
	}
	if d.cmp.Compare(start, end) > 0 {
		return ErrInvalidCompactionRange
	}

	d.mu.Lock()
	cur := d.mu.versions.currentVersion()
	maxLevelWithFiles := 0
	for level := 0; level < numLevels; level++ {
		if len(cur.overlaps(level, d.cmp.Compare, start, end)) > 0 {
			maxLevelWithFiles = level + 1
		}
	}
	d.mu.Unlock()

	if err := d.Flush(); err != nil {
		return err
	}
	for level := 0; level < maxLevelWithFiles && level+1 < numLevels; level++ {
		if err := d.compactRange(level, start, end); err != nil {
			return err
		}
	}
	return nil
}

// compactRange compacts the files at the given level overlapping the user
// key range [start, end] into level+1, waiting for background compactions to
// quiesce first.
func (d *DB) compactRange(level int, start, end []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if d.closed.Load() {
			return ErrClosed
		}
		if err := d.mu.compact.backgroundErr; err != nil {
			return err
		}
		if !d.mu.compact.active {
			break
		}
		d.mu.compact.cond.Wait()
	}

	c := d.pickManualCompaction(level, start, end)
	if c == nil {
		return nil
	}
	d.mu.compact.active = true
	err := d.compact1(c)
	d.mu.compact.active = false
	if err != nil {
		d.mu.compact.backgroundErr = err
		d.opts.EventListener.BackgroundError(err)
	}
	d.mu.compact.cond.Broadcast()
	d.maybeScheduleCompaction()
	return err
}

// EstimateDiskUsage returns the estimated filesystem space used in bytes for
// storing the range `[start, end]`. The estimation is computed as follows:
//
//   - For sstables fully contained in the range the whole file size is
//     included.
//   - For sstables partially contained in the range the overlapping data
//     block sizes are estimated from the index.
func (d *DB) EstimateDiskUsage(start, end []byte) (uint64, error) {
	if d.closed.Load() {
		return 0, ErrClosed
	}
	if d.cmp.Compare(start, end) > 0 {
		return 0, ErrInvalidCompactionRange
	}
	rs := d.loadReadState()
	defer rs.unref()

	var total uint64
	for level := 0; level < numLevels; level++ {
		for _, f := range rs.current.files[level] {
			if d.cmp.Compare(start, f.largest.UserKey) > 0 ||
				d.cmp.Compare(end, f.smallest.UserKey) < 0 {
				continue
			}
			if d.cmp.Compare(start, f.smallest.UserKey) <= 0 &&
				d.cmp.Compare(end, f.largest.UserKey) >= 0 {
				total += f.size
				continue
			}
			var size uint64
			err := d.tableCache.withReader(f.fileNum, func(r *sstable.Reader) error {
				lo := r.EstimatedOffset(start)
				hi := r.EstimatedOffset(end)
				if hi > lo {
					size = hi - lo
				}
				return nil
			})
			if err != nil {
				return 0, err
			}
			total += size
		}
	}
	return total, nil
}

// Close closes the DB.
//
// It is not safe to close a DB until all outstanding iterators and snapshots
// are closed. It is valid to call Close multiple times. Other methods should
// not be called after the DB has been closed.
func (d *DB) Close() error {
	d.mu.Lock()
	if d.closed.Load() {
		d.mu.Unlock()
		return ErrClosed
	}
	d.closed.Store(true)
	// Wake any stalled writers so they observe the closed state, and wait
	// for background work to drain.
	d.mu.compact.cond.Broadcast()
	for d.mu.compact.active || d.mu.cleaner.cleaning {
		d.mu.compact.cond.Wait()
	}

	var err error
	if e := d.mu.versions.close(); e != nil && err == nil {
		err = e
	}
	if d.log != nil {
		if e := d.log.Close(); e != nil && err == nil {
			err = e
		}
	}
	if d.logFile != nil {
		if e := d.logFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if d.readState.val != nil {
		d.readState.val.unrefLocked()
		d.readState.val = nil
	}
	d.mu.Unlock()

	if e := d.tableCache.Close(); e != nil && err == nil {
		err = e
	}
	if d.fileLock != nil {
		if e := d.fileLock.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
