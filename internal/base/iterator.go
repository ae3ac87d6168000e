// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

// InternalIterator iterates over a DB's key/value pairs in key order. Unlike
// the user-facing Iterator, an InternalIterator surfaces every version of
// every key: deletion tombstones and superseded values included.
//
// InternalIterators provide 5 absolute positioning methods and 2 relative
// positioning methods. The absolute positioning methods are:
//
//   - SeekGE
//   - SeekLT
//   - First
//   - Last
//
// The relative positioning methods are:
//
//   - Next
//   - Prev
//
// An iterator is either positioned at a key/value pair, or not valid. It is
// not valid either after being created, or after a positioning method finds
// no entry.
//
// InternalIterators are not required to be goroutine safe.
type InternalIterator interface {
	// SeekGE moves the iterator to the first key/value pair whose user key
	// is greater than or equal to the given key. Every trailer for the user
	// key is at or after the resulting position.
	SeekGE(key []byte)

	// SeekLT moves the iterator to the last key/value pair whose user key is
	// less than the given key.
	SeekLT(key []byte)

	// First moves the iterator to the first key/value pair.
	First()

	// Last moves the iterator to the last key/value pair.
	Last()

	// Next moves the iterator to the next key/value pair. It returns whether
	// the iterator is valid after the move.
	Next() bool

	// Prev moves the iterator to the previous key/value pair. It returns
	// whether the iterator is valid after the move.
	Prev() bool

	// Key returns the internal key at the current iterator position.
	Key() InternalKey

	// Value returns the value at the current iterator position. The caller
	// must not modify the contents of the returned slice.
	Value() []byte

	// Valid returns whether the iterator is positioned at a key/value pair.
	Valid() bool

	// Error returns any accumulated error.
	Error() error

	// Close closes the iterator and returns any accumulated error.
	Close() error
}
