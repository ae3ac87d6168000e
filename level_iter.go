// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sort"

	"github.com/shaledb/shale/internal/base"
)

// levelIter provides a merged view of the tables in a level. It is only
// used for levels below L0, where the tables have disjoint user key ranges
// and are sorted by those ranges: at most one table iterator needs to be
// open at a time.
type levelIter struct {
	cmp   base.Compare
	index int
	// The iter for the current file. It is nil under any of the following
	// conditions:
	// - files.len() == 0
	// - index < 0 or index >= len(files)
	// - err != nil
	iter  base.InternalIterator
	files []fileMetadata
	tc    *tableCache
	err   error
}

var _ base.InternalIterator = (*levelIter)(nil)

func newLevelIter(cmp base.Compare, tc *tableCache, files []fileMetadata) *levelIter {
	return &levelIter{
		cmp:   cmp,
		index: -1,
		files: files,
		tc:    tc,
	}
}

func (l *levelIter) loadFile(index int) bool {
	if l.index == index && l.iter != nil {
		return true
	}
	if l.iter != nil {
		l.err = l.iter.Close()
		l.iter = nil
		if l.err != nil {
			return false
		}
	}
	l.index = index
	if index < 0 || index >= len(l.files) {
		return false
	}
	l.iter, l.err = l.tc.newIter(l.files[index].fileNum)
	return l.err == nil
}

func (l *levelIter) SeekGE(key []byte) {
	if l.err != nil {
		return
	}
	// Find the earliest file whose largest key is >= key.
	index := sort.Search(len(l.files), func(i int) bool {
		return l.cmp(l.files[i].largest.UserKey, key) >= 0
	})
	if !l.loadFile(index) {
		return
	}
	l.iter.SeekGE(key)
}

func (l *levelIter) SeekLT(key []byte) {
	if l.err != nil {
		return
	}
	// Find the latest file whose smallest key is < key.
	index := sort.Search(len(l.files), func(i int) bool {
		return l.cmp(l.files[i].smallest.UserKey, key) >= 0
	})
	if !l.loadFile(index - 1) {
		return
	}
	l.iter.SeekLT(key)
}

func (l *levelIter) First() {
	if l.err != nil {
		return
	}
	if !l.loadFile(0) {
		return
	}
	l.iter.First()
}

func (l *levelIter) Last() {
	if l.err != nil {
		return
	}
	if !l.loadFile(len(l.files) - 1) {
		return
	}
	l.iter.Last()
}

func (l *levelIter) Next() bool {
	if l.err != nil {
		return false
	}
	if l.iter != nil && l.iter.Next() {
		return true
	}
	// Current file was exhausted. Move to the next file.
	if !l.loadFile(l.index + 1) {
		return false
	}
	l.iter.First()
	return l.iter.Valid()
}

func (l *levelIter) Prev() bool {
	if l.err != nil {
		return false
	}
	if l.iter != nil && l.iter.Prev() {
		return true
	}
	// Current file was exhausted. Move to the previous file.
	if !l.loadFile(l.index - 1) {
		return false
	}
	l.iter.Last()
	return l.iter.Valid()
}

func (l *levelIter) Key() base.InternalKey {
	if l.iter == nil {
		return base.InvalidInternalKey
	}
	return l.iter.Key()
}

func (l *levelIter) Value() []byte {
	if l.iter == nil {
		return nil
	}
	return l.iter.Value()
}

func (l *levelIter) Valid() bool {
	return l.iter != nil && l.iter.Valid()
}

func (l *levelIter) Error() error {
	if l.err != nil {
		return l.err
	}
	if l.iter != nil {
		return l.iter.Error()
	}
	return nil
}

func (l *levelIter) Close() error {
	if l.iter != nil {
		err := l.iter.Close()
		l.iter = nil
		if l.err == nil {
			l.err = err
		}
	}
	return l.err
}
