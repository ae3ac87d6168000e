// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import "github.com/cockroachdb/errors"

// ErrNotFound means that a get call did not find the requested key.
var ErrNotFound = errors.New("shale: not found")

// ErrCorruption is a marker error for corrupted on-disk state. Errors
// detected while decoding tables, logs or the manifest are marked with it.
var ErrCorruption = errors.New("shale: corruption")

// CorruptionErrorf formats according to a format specifier and returns the
// result as an error that is marked as a corruption error.
func CorruptionErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrCorruption)
}

// MarkCorruptionError marks the given error as a corruption error.
func MarkCorruptionError(err error) error {
	if errors.Is(err, ErrCorruption) {
		return err
	}
	return errors.Mark(err, ErrCorruption)
}
