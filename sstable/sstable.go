// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package sstable implements readers and writers of sorted tables in the
// classic Level-DB file format.
//
// A table is a series of data blocks holding prefix-compressed internal
// key/value pairs, followed by a filter block, a metaindex block, an index
// block mapping separator keys to data block handles, and a fixed size
// footer. Each block is followed by a 5-byte trailer: a one byte
// compression marker and a 4-byte checksum of the block contents and the
// marker.
package sstable

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/shaledb/shale/internal/crc"
)

const (
	blockTrailerLen = 5
	footerLen       = 48

	noCompressionBlockType     = 0
	snappyCompressionBlockType = 1

	// magic is part of the file format and must not be changed. It is the
	// same value used by the C++ Level-DB code.
	magic = "\x57\xfb\x80\x8b\x24\x75\x47\xdb"
)

// filterBaseLog being 11 means that we generate a new filter for every 2KiB
// of data.
//
// It's a little unfortunate that this is 11, whilst the default BlockSize is
// 1<<12 or 4KiB, so that in practice, every second filter is empty, but both
// values match the C++ code.
const filterBaseLog = 11

// Compression is the per-block compression algorithm to use.
type Compression int

// The available compression types.
const (
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
)

func (c Compression) String() string {
	switch c {
	case DefaultCompression:
		return "Default"
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	default:
		return "Unknown"
	}
}

// ChecksumType selects the per-block checksum algorithm.
type ChecksumType byte

// The available checksum types. ChecksumCRC32c is the classic Level-DB
// algorithm; tables written with it are byte compatible with the C++ code.
// The type of a table is recorded in a spare footer byte, which is zero for
// classic tables.
const (
	ChecksumCRC32c   ChecksumType = 0
	ChecksumXXHash64 ChecksumType = 1
)

func (t ChecksumType) String() string {
	switch t {
	case ChecksumCRC32c:
		return "crc32c"
	case ChecksumXXHash64:
		return "xxhash64"
	default:
		return "unknown"
	}
}

// checksumValue computes the checksum of a block and its compression marker
// byte using the given algorithm. Only the low 32 bits of xxhash64 are
// stored.
func checksumValue(t ChecksumType, block []byte, blockType byte) uint32 {
	if t == ChecksumXXHash64 {
		d := xxhash.New()
		_, _ = d.Write(block)
		_, _ = d.Write([]byte{blockType})
		return uint32(d.Sum64())
	}
	return crc.New(block).Update([]byte{blockType}).Value()
}

// blockHandle is the file offset and length of a block, not including its
// trailer.
type blockHandle struct {
	offset, length uint64
}

// decodeBlockHandle returns the block handle encoded at the start of src, as
// well as the number of bytes it occupies. It returns zero if given invalid
// input.
func decodeBlockHandle(src []byte) (blockHandle, int) {
	offset, n := binary.Uvarint(src)
	length, m := binary.Uvarint(src[n:])
	if n == 0 || m == 0 {
		return blockHandle{}, 0
	}
	return blockHandle{offset, length}, n + m
}

func encodeBlockHandle(dst []byte, b blockHandle) int {
	n := binary.PutUvarint(dst, b.offset)
	m := binary.PutUvarint(dst[n:], b.length)
	return n + m
}
