// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import "github.com/shaledb/shale/internal/base"

// WriterOptions holds the parameters used to control building a table.
type WriterOptions struct {
	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding of keys.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each table
	// block.
	//
	// The default value is 4096.
	BlockSize int

	// Comparer defines a total ordering over the space of []byte keys.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *base.Comparer

	// Compression defines the per-block compression to use.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// Checksum defines the per-block checksum algorithm to use.
	//
	// The default value is ChecksumCRC32c.
	Checksum ChecksumType

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that
	// can reduce disk reads for point lookups.
	//
	// The default value means to use no filter.
	FilterPolicy base.FilterPolicy
}

func (o WriterOptions) ensureDefaults() WriterOptions {
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	if o.Compression <= DefaultCompression || o.Compression > SnappyCompression {
		o.Compression = SnappyCompression
	}
	return o
}

// ReaderOptions holds the parameters needed for reading a table.
type ReaderOptions struct {
	// Comparer defines a total ordering over the space of []byte keys. It
	// must be the same ordering that the table was written with.
	Comparer *base.Comparer

	// FilterPolicy defines the filter algorithm used when reading the
	// table's filter block. The policy name must match the one the table
	// was written with for the filter to be consulted.
	FilterPolicy base.FilterPolicy

	// VerifyChecksums indicates whether block checksums are verified on
	// read.
	VerifyChecksums bool
}

func (o ReaderOptions) ensureDefaults() ReaderOptions {
	if o.Comparer == nil {
		o.Comparer = base.DefaultComparer
	}
	return o
}
