// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import "github.com/shaledb/shale/internal/base"

// Iterator iterates over a DB's key/value pairs in key order. The returned
// keys are the user keys of the newest visible version of each key; deletion
// tombstones and superseded versions are hidden.
//
// An iterator provides a point-in-time view: it is not positioned over
// entries written after its creation.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
//
// An iterator is not goroutine-safe, but it is safe to use multiple
// iterators concurrently, with each in a dedicated goroutine.
type Iterator struct {
	cmp       base.Compare
	iter      base.InternalIterator
	seqNum    base.SeqNum
	lower     []byte
	upper     []byte
	readState *readState
	err       error
	keyBuf    []byte
	key       []byte
	value     []byte
	valid     bool
	// dir is the direction of the last positioning operation: +1 for
	// forward iteration, -1 for reverse.
	dir int
}

// findNextEntry scans forward to the next visible, live entry: the newest
// visible version of each user key is inspected, tombstoned keys are
// skipped.
func (i *Iterator) findNextEntry() bool {
	i.valid = false
	for i.iter.Valid() {
		key := i.iter.Key()
		if i.upper != nil && i.cmp(key.UserKey, i.upper) >= 0 {
			break
		}
		if !key.Visible(i.seqNum) {
			i.iter.Next()
			continue
		}
		switch key.Kind() {
		case base.InternalKeyKindDelete:
			// The key is deleted. Skip its remaining versions.
			i.saveKey(key.UserKey)
			i.nextUserKey()
			continue
		case base.InternalKeyKindSet:
			i.saveKey(key.UserKey)
			i.value = i.iter.Value()
			i.valid = true
			return true
		default:
			i.err = base.CorruptionErrorf("shale: invalid internal key kind: %d", key.Kind())
			return false
		}
	}
	i.maybeSetError()
	return false
}

// findPrevEntry scans backward. Within a user key, reverse iteration visits
// versions from oldest to newest, so the saved entry is overwritten until
// the user key changes: at that point the saved state reflects the newest
// visible version.
func (i *Iterator) findPrevEntry() bool {
	i.valid = false
	for i.iter.Valid() {
		key := i.iter.Key()
		if i.valid && i.cmp(key.UserKey, i.key) < 0 {
			return true
		}
		if i.lower != nil && i.cmp(key.UserKey, i.lower) < 0 {
			break
		}
		if key.Visible(i.seqNum) {
			switch key.Kind() {
			case base.InternalKeyKindDelete:
				i.value = nil
				i.valid = false
			case base.InternalKeyKindSet:
				i.saveKey(key.UserKey)
				i.value = i.iter.Value()
				i.valid = true
			default:
				i.err = base.CorruptionErrorf("shale: invalid internal key kind: %d", key.Kind())
				return false
			}
		}
		i.iter.Prev()
	}
	i.maybeSetError()
	return i.valid
}

func (i *Iterator) nextUserKey() {
	for i.iter.Valid() && i.cmp(i.iter.Key().UserKey, i.key) == 0 {
		i.iter.Next()
	}
}

func (i *Iterator) saveKey(key []byte) {
	i.keyBuf = append(i.keyBuf[:0], key...)
	i.key = i.keyBuf
}

func (i *Iterator) maybeSetError() {
	if err := i.iter.Error(); err != nil && i.err == nil {
		i.err = err
	}
}

// SeekGE moves the iterator to the first key/value pair whose key is greater
// than or equal to the given key. Returns true if the iterator is pointing
// at a valid entry and false otherwise.
func (i *Iterator) SeekGE(key []byte) bool {
	if i.err != nil {
		return false
	}
	if i.lower != nil && i.cmp(key, i.lower) < 0 {
		key = i.lower
	}
	i.dir = 1
	i.iter.SeekGE(key)
	return i.findNextEntry()
}

// SeekLT moves the iterator to the last key/value pair whose key is less
// than the given key. Returns true if the iterator is pointing at a valid
// entry and false otherwise.
func (i *Iterator) SeekLT(key []byte) bool {
	if i.err != nil {
		return false
	}
	if i.upper != nil && i.cmp(key, i.upper) > 0 {
		key = i.upper
	}
	i.dir = -1
	i.iter.SeekLT(key)
	return i.findPrevEntry()
}

// First moves the iterator to the first key/value pair. Returns true if the
// iterator is pointing at a valid entry and false otherwise.
func (i *Iterator) First() bool {
	if i.err != nil {
		return false
	}
	i.dir = 1
	if i.lower != nil {
		i.iter.SeekGE(i.lower)
	} else {
		i.iter.First()
	}
	return i.findNextEntry()
}

// Last moves the iterator to the last key/value pair. Returns true if the
// iterator is pointing at a valid entry and false otherwise.
func (i *Iterator) Last() bool {
	if i.err != nil {
		return false
	}
	i.dir = -1
	if i.upper != nil {
		i.iter.SeekLT(i.upper)
	} else {
		i.iter.Last()
	}
	return i.findPrevEntry()
}

// Next moves the iterator to the next key/value pair. Returns true if the
// iterator is pointing at a valid entry and false otherwise.
func (i *Iterator) Next() bool {
	if i.err != nil {
		return false
	}
	switch i.dir {
	case 1:
		if !i.valid {
			return false
		}
		i.nextUserKey()
	case -1:
		// Switching directions. The internal iterator is positioned before
		// every version of the current key, or is exhausted.
		i.dir = 1
		if !i.valid {
			if i.lower != nil {
				i.iter.SeekGE(i.lower)
			} else {
				i.iter.First()
			}
		} else {
			i.iter.SeekGE(i.key)
			i.nextUserKey()
		}
	}
	return i.findNextEntry()
}

// Prev moves the iterator to the previous key/value pair. Returns true if
// the iterator is pointing at a valid entry and false otherwise.
func (i *Iterator) Prev() bool {
	if i.err != nil {
		return false
	}
	switch i.dir {
	case -1:
		if !i.valid {
			return false
		}
	case 1:
		// Switching directions. The internal iterator is positioned at the
		// newest visible version of the current key, or past the upper
		// bound.
		i.dir = -1
		if !i.valid {
			if i.upper != nil {
				i.iter.SeekLT(i.upper)
			} else {
				i.iter.Last()
			}
		} else {
			for i.iter.Valid() && i.cmp(i.iter.Key().UserKey, i.key) >= 0 {
				i.iter.Prev()
			}
		}
	}
	return i.findPrevEntry()
}

// Key returns the key of the current key/value pair, or nil if done. The
// caller should not modify the contents of the returned slice, and its
// contents may change on the next call to Next.
func (i *Iterator) Key() []byte {
	if !i.valid {
		return nil
	}
	return i.key
}

// Value returns the value of the current key/value pair, or nil if done.
// The caller should not modify the contents of the returned slice, and its
// contents may change on the next call to Next.
func (i *Iterator) Value() []byte {
	if !i.valid {
		return nil
	}
	return i.value
}

// Valid returns true if the iterator is positioned at a valid key/value
// pair and false otherwise.
func (i *Iterator) Valid() bool {
	return i.valid && i.err == nil
}

// Error returns any accumulated error.
func (i *Iterator) Error() error {
	return i.err
}

// Close closes the iterator and returns any accumulated error. Exhausting
// all the key/value pairs is not considered to be an error. It is valid to
// call Close multiple times. Other methods should not be called after the
// iterator has been closed.
func (i *Iterator) Close() error {
	if i.iter != nil {
		if err := i.iter.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.iter = nil
	}
	if i.readState != nil {
		i.readState.unref()
		i.readState = nil
	}
	i.valid = false
	return i.err
}
