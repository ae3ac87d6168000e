// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import "sync/atomic"

// readState encapsulates the state needed for reading: the current version
// and the queue of memtables. A readState is reference counted so that a
// long-lived iterator keeps the version and memtables it was created from
// alive, even after flushes and compactions have replaced them.
type readState struct {
	db      *DB
	refcnt  atomic.Int32
	current *version
	// memtables is ordered oldest to newest, the mutable memtable last.
	memtables []*memTable
}

// ref adds a reference to the readState.
func (s *readState) ref() {
	s.refcnt.Add(1)
}

// unref removes a reference to the readState. If this was the last
// reference, the reference the readState holds on the version is released.
// Requires DB.mu is NOT held.
func (s *readState) unref() {
	if s.refcnt.Add(-1) != 0 {
		return
	}
	db := s.db
	db.mu.Lock()
	s.current.unref()
	db.maybeScheduleObsoleteScanLocked()
	db.mu.Unlock()
}

// unrefLocked removes a reference to the readState. Requires DB.mu is held.
func (s *readState) unrefLocked() {
	if s.refcnt.Add(-1) != 0 {
		return
	}
	s.current.unref()
}

// loadReadState returns the current readState. The returned readState must
// be unreferenced after use.
func (d *DB) loadReadState() *readState {
	d.readState.RLock()
	state := d.readState.val
	state.ref()
	d.readState.RUnlock()
	return state
}

// updateReadStateLocked creates a new readState from the current version
// and memtable queue and atomically installs it. Requires DB.mu is held.
func (d *DB) updateReadStateLocked() {
	s := &readState{
		db:        d,
		current:   d.mu.versions.currentVersion(),
		memtables: append([]*memTable(nil), d.mu.mem.queue...),
	}
	s.current.ref()
	s.refcnt.Store(1)

	d.readState.Lock()
	old := d.readState.val
	d.readState.val = s
	d.readState.Unlock()

	if old != nil {
		old.unrefLocked()
	}
}
