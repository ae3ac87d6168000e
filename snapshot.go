// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import "github.com/shaledb/shale/internal/base"

// Snapshot provides a read-only point-in-time view of the DB state. A
// snapshot prevents compactions from dropping entries that were visible
// when it was taken: a deleted or overwritten key remains readable through
// the snapshot until the snapshot is closed.
type Snapshot struct {
	// The DB the snapshot was created from.
	db *DB
	// The sequence number bounding visibility: entries with smaller
	// sequence numbers are visible.
	seqNum base.SeqNum

	// The list the snapshot is linked into.
	list *snapshotList

	prev, next *Snapshot
}

// Get gets the value for the given key, as of the time the snapshot was
// taken. It returns ErrNotFound if the snapshot does not contain the key.
//
// The caller should not modify the contents of the returned slice, but it
// is safe to modify the contents of the argument after Get returns.
func (s *Snapshot) Get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	return s.db.getInternal(key, s.seqNum)
}

// NewIter returns an iterator that reads the state of the DB as of the time
// the snapshot was taken.
func (s *Snapshot) NewIter(o *IterOptions) *Iterator {
	if s.db == nil {
		panic(ErrClosed)
	}
	return s.db.newIterInternal(o, s.seqNum)
}

// Close closes the snapshot, releasing its resources. Close must be called;
// failure to do so will prevent compactions from reclaiming the space
// consumed by entries the snapshot pins.
func (s *Snapshot) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	db := s.db
	db.mu.Lock()
	db.mu.snapshots.remove(s)
	// If this was the earliest snapshot, entries it was pinning may now be
	// elidable by a compaction.
	db.maybeScheduleCompaction()
	db.mu.Unlock()
	s.db = nil
	return nil
}

// snapshotList is a doubly-linked list of open snapshots, ordered by
// increasing sequence number.
type snapshotList struct {
	root Snapshot
}

func (l *snapshotList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *snapshotList) empty() bool {
	return l.root.next == &l.root
}

func (l *snapshotList) count() int {
	n := 0
	for s := l.root.next; s != &l.root; s = s.next {
		n++
	}
	return n
}

// earliest returns the earliest visibility boundary of any open snapshot,
// or SeqNumMax if there are no open snapshots. Entries that are invisible
// at this boundary and shadowed by a newer entry for the same key can be
// elided by compactions.
func (l *snapshotList) earliest() base.SeqNum {
	v := base.SeqNumMax
	if !l.empty() {
		v = l.root.next.seqNum
	}
	return v
}

func (l *snapshotList) pushBack(s *Snapshot) {
	if s.list != nil || s.prev != nil || s.next != nil {
		panic("shale: snapshot list is inconsistent")
	}
	s.prev = l.root.prev
	s.prev.next = s
	s.next = &l.root
	s.next.prev = s
	s.list = l
}

func (l *snapshotList) remove(s *Snapshot) {
	if s == &l.root {
		panic("shale: cannot remove snapshot list root node")
	}
	if s.list != l {
		panic("shale: snapshot list is inconsistent")
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.next = nil
	s.prev = nil
	s.list = nil
}
