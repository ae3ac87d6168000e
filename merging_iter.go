// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import "github.com/shaledb/shale/internal/base"

// mergingIter provides a merged view of multiple iterators from different
// sources: the mutable memtable, any queued immutable memtables, the L0
// tables (newest to oldest) and the levelIters for the remaining levels.
//
// The invariant that the sources contain no duplicate internal keys (every
// write receives a distinct sequence number) means that ties never need to
// be broken by source age.
type mergingIter struct {
	cmp   base.Compare
	iters []base.InternalIterator
	index int
	// dir is the direction of the last positioning operation: +1 for
	// forward, -1 for reverse. A relative move against the grain re-seeks
	// the non-current child iterators first.
	dir int
	err error
}

var _ base.InternalIterator = (*mergingIter)(nil)

func newMergingIter(cmp base.Compare, iters ...base.InternalIterator) *mergingIter {
	return &mergingIter{
		cmp:   cmp,
		iters: iters,
		index: -1,
	}
}

// findSmallest positions the merged view at the child with the smallest
// current internal key.
func (m *mergingIter) findSmallest() {
	m.index = -1
	var smallest base.InternalKey
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		key := it.Key()
		if m.index < 0 || base.InternalCompare(m.cmp, key, smallest) < 0 {
			m.index = i
			smallest = key
		}
	}
}

// findLargest positions the merged view at the child with the largest
// current internal key.
func (m *mergingIter) findLargest() {
	m.index = -1
	var largest base.InternalKey
	for i, it := range m.iters {
		if !it.Valid() {
			continue
		}
		key := it.Key()
		if m.index < 0 || base.InternalCompare(m.cmp, key, largest) > 0 {
			m.index = i
			largest = key
		}
	}
}

// switchToForward re-seeks every non-current child to the first entry after
// cur, so that a subsequent Next on the current child yields the globally
// next entry.
func (m *mergingIter) switchToForward(cur base.InternalKey) {
	for i, it := range m.iters {
		if i == m.index {
			continue
		}
		it.SeekGE(cur.UserKey)
		for it.Valid() && base.InternalCompare(m.cmp, it.Key(), cur) <= 0 {
			it.Next()
		}
	}
	m.dir = 1
}

// switchToBackward re-seeks every non-current child to the last entry
// before cur.
func (m *mergingIter) switchToBackward(cur base.InternalKey) {
	for i, it := range m.iters {
		if i == m.index {
			continue
		}
		it.SeekGE(cur.UserKey)
		for it.Valid() && base.InternalCompare(m.cmp, it.Key(), cur) < 0 {
			it.Next()
		}
		if it.Valid() {
			it.Prev()
		} else {
			it.Last()
		}
	}
	m.dir = -1
}

func (m *mergingIter) SeekGE(key []byte) {
	for _, it := range m.iters {
		it.SeekGE(key)
	}
	m.findSmallest()
	m.dir = 1
}

func (m *mergingIter) SeekLT(key []byte) {
	for _, it := range m.iters {
		it.SeekLT(key)
	}
	m.findLargest()
	m.dir = -1
}

func (m *mergingIter) First() {
	for _, it := range m.iters {
		it.First()
	}
	m.findSmallest()
	m.dir = 1
}

func (m *mergingIter) Last() {
	for _, it := range m.iters {
		it.Last()
	}
	m.findLargest()
	m.dir = -1
}

func (m *mergingIter) Next() bool {
	if m.index < 0 {
		return false
	}
	if m.dir != 1 {
		m.switchToForward(m.iters[m.index].Key())
	}
	m.iters[m.index].Next()
	m.findSmallest()
	return m.index >= 0
}

func (m *mergingIter) Prev() bool {
	if m.index < 0 {
		return false
	}
	if m.dir != -1 {
		m.switchToBackward(m.iters[m.index].Key())
	}
	m.iters[m.index].Prev()
	m.findLargest()
	return m.index >= 0
}

func (m *mergingIter) Key() base.InternalKey {
	if m.index < 0 {
		return base.InvalidInternalKey
	}
	return m.iters[m.index].Key()
}

func (m *mergingIter) Value() []byte {
	if m.index < 0 {
		return nil
	}
	return m.iters[m.index].Value()
}

func (m *mergingIter) Valid() bool {
	return m.index >= 0 && m.err == nil
}

func (m *mergingIter) Error() error {
	if m.err != nil {
		return m.err
	}
	for _, it := range m.iters {
		if err := it.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (m *mergingIter) Close() error {
	for _, it := range m.iters {
		if err := it.Close(); err != nil && m.err == nil {
			m.err = err
		}
	}
	m.iters = nil
	m.index = -1
	return m.err
}
