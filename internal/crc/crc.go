// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package crc implements the checksum algorithm used throughout the storage
// engine's file formats.
//
// The algorithm is CRC-32 with Castagnoli's polynomial, followed by a bit
// rotation and an additional delta. The additional processing is to lessen
// the probability of arbitrary key/value data coincidentally containing
// bytes that look like a checksum.
package crc

import "hash/crc32"

// CRC is a small convenience wrapper around the masked checksum computation.
type CRC uint32

var table = crc32.MakeTable(crc32.Castagnoli)

// New computes the checksum of the given byte slice.
func New(b []byte) CRC {
	return CRC(0).Update(b)
}

// Update extends the checksum with the given byte slice.
func (c CRC) Update(b []byte) CRC {
	return CRC(crc32.Update(uint32(c), table, b))
}

// Value returns the masked checksum value suitable for storing on disk.
func (c CRC) Value() uint32 {
	return uint32(c>>15|c<<17) + 0xa282ead8
}
