// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
)

// ErrNotFound is returned when a get operation does not find the requested
// key.
var ErrNotFound = base.ErrNotFound

// ErrClosed is returned when an operation is performed on a closed snapshot
// or DB.
var ErrClosed = errors.New("shale: closed")

// ErrInvalidCompactionRange is returned when the start key of a requested
// key range sorts after the end key.
var ErrInvalidCompactionRange = errors.New("shale: invalid key range")

// ErrCorruption is a marker error for corrupted on-disk state. Use
// errors.Is(err, ErrCorruption) to test for it.
var ErrCorruption = base.ErrCorruption

// IsCorruptionError returns true if the given error indicates database
// corruption.
func IsCorruptionError(err error) bool {
	return errors.Is(err, base.ErrCorruption)
}
