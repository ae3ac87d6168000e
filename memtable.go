// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync/atomic"

	"github.com/shaledb/shale/internal/arenaskl"
	"github.com/shaledb/shale/internal/base"
)

// memTableEntrySize returns the size of an entry in the memtable arena,
// including the skiplist node overhead.
func memTableEntrySize(keyBytes, valueBytes int) uint32 {
	return arenaskl.MaxNodeSize(uint32(keyBytes)+8, uint32(valueBytes))
}

// memTableEmptySize is the amount of allocated space in the arena by an
// empty memtable.
var memTableEmptySize = func() uint32 {
	var pointSkl arenaskl.Skiplist
	arena := arenaskl.NewArena(16 << 10)
	pointSkl.Reset(arena, base.DefaultComparer.Compare)
	return arena.Size()
}()

// memTable is a memory-backed implementation of the flushable interface. A
// memtable holds the most recently written entries, ordered by internal key,
// until it fills and is flushed to an L0 table.
//
// A memTable's memory consumption is fixed at its arena size, and it is
// never resized. Writes reserve space in the arena via prepare before
// applying, so that a batch is never applied partially.
type memTable struct {
	cmp        base.Compare
	skl        arenaskl.Skiplist
	reserved   uint32
	writerRefs atomic.Int32
	// logNum is the WAL file number holding this memtable's entries. Zero
	// for memtables reconstructed during replay whose WAL is already
	// obsolete.
	logNum uint64
	// flushedCh is closed when the flush of this memtable completes, in
	// success or failure. flushErr holds the failure, if any; it is written
	// before the channel is closed and must only be read after.
	flushedCh chan struct{}
	flushErr  error
}

func newMemTable(o *Options) *memTable {
	return newMemTableSize(o, uint32(o.MemTableSize))
}

// newMemTableSize returns a memtable with the given arena size. Used during
// WAL replay when a logged batch is larger than the configured memtable size.
func newMemTableSize(o *Options, size uint32) *memTable {
	m := &memTable{
		cmp:       o.Comparer.Compare,
		flushedCh: make(chan struct{}),
	}
	arena := arenaskl.NewArena(size)
	m.skl.Reset(arena, m.cmp)
	m.reserved = arena.Size()
	return m
}

// prepare reserves space in the arena for applying the batch. If the arena
// is too full to hold the batch, arenaskl.ErrArenaFull is returned and the
// caller rotates to a new memtable.
func (m *memTable) prepare(batch *Batch) error {
	avail := m.availBytes()
	if batch.memTableSize > uint64(avail) {
		return arenaskl.ErrArenaFull
	}
	m.reserved += uint32(batch.memTableSize)
	m.writerRefs.Add(1)
	return nil
}

func (m *memTable) availBytes() uint32 {
	a := m.skl.Arena()
	if m.writerRefs.Load() == 0 {
		// All pending writes have been applied. The available bytes are the
		// true bytes remaining in the arena, and the reservation watermark
		// can be reset.
		m.reserved = a.Size()
	}
	return a.Capacity() - m.reserved
}

// apply applies the batch, previously reserved with prepare, to the
// memtable.
func (m *memTable) apply(batch *Batch, seqNum base.SeqNum) error {
	err := batch.memTableApply(m, seqNum)
	m.writerRefs.Add(-1)
	return err
}

// get looks for the newest entry at or after the lookup key in the internal
// ordering, provided its user key matches. It returns the entry's internal
// key so that the caller can distinguish a set from a deletion tombstone.
// The third return value is false if the memtable holds no such entry.
func (m *memTable) get(lookup base.InternalKey) (base.InternalKey, []byte, bool) {
	it := m.skl.NewIter()
	// Entries with higher sequence numbers sort earlier and are skipped by
	// the seek.
	it.SeekGE(lookup)
	if !it.Valid() {
		return base.InternalKey{}, nil, false
	}
	ikey := it.Key()
	if m.cmp(ikey.UserKey, lookup.UserKey) != 0 {
		return base.InternalKey{}, nil, false
	}
	return ikey, it.Value(), true
}

// newIter returns an iterator over the memtable's entries. The iterator
// remains valid over flushes; the arena is kept alive by the iterator's
// reference to the skiplist.
func (m *memTable) newIter() base.InternalIterator {
	return &memTableIter{it: m.skl.NewIter()}
}

func (m *memTable) totalBytes() uint64 {
	return uint64(m.skl.Size())
}

func (m *memTable) empty() bool {
	return m.skl.Size() == memTableEmptySize
}

// readyForFlush returns true when all writes that reserved space in this
// memtable have been applied.
func (m *memTable) readyForFlush() bool {
	return m.writerRefs.Load() == 0
}

// memTableIter adapts an arenaskl.Iterator to the InternalIterator
// interface.
type memTableIter struct {
	it arenaskl.Iterator
}

var _ base.InternalIterator = (*memTableIter)(nil)

func (i *memTableIter) SeekGE(key []byte) {
	i.it.SeekGE(base.MakeSearchKey(key))
}

func (i *memTableIter) SeekLT(key []byte) {
	i.it.SeekLT(base.MakeSearchKey(key))
}

func (i *memTableIter) First() {
	i.it.First()
}

func (i *memTableIter) Last() {
	i.it.Last()
}

func (i *memTableIter) Next() bool {
	i.it.Next()
	return i.it.Valid()
}

func (i *memTableIter) Prev() bool {
	i.it.Prev()
	return i.it.Valid()
}

func (i *memTableIter) Key() base.InternalKey {
	return i.it.Key()
}

func (i *memTableIter) Value() []byte {
	return i.it.Value()
}

func (i *memTableIter) Valid() bool {
	return i.it.Valid()
}

func (i *memTableIter) Error() error {
	return nil
}

func (i *memTableIter) Close() error {
	return nil
}
