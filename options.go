// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/sstable"
	"github.com/shaledb/shale/vfs"
)

// Compression exports the sstable.Compression type.
type Compression = sstable.Compression

// Exported Compression constants.
const (
	DefaultCompression = sstable.DefaultCompression
	NoCompression      = sstable.NoCompression
	SnappyCompression  = sstable.SnappyCompression
)

// ChecksumType exports the sstable.ChecksumType type.
type ChecksumType = sstable.ChecksumType

// Exported ChecksumType constants.
const (
	ChecksumCRC32c   = sstable.ChecksumCRC32c
	ChecksumXXHash64 = sstable.ChecksumXXHash64
)

// Comparer exports the base.Comparer type.
type Comparer = base.Comparer

// DefaultComparer exports the base.DefaultComparer variable.
var DefaultComparer = base.DefaultComparer

// FilterPolicy exports the base.FilterPolicy type.
type FilterPolicy = base.FilterPolicy

// Logger exports the base.Logger type.
type Logger = base.Logger

// IterOptions hold the optional per-query parameters for NewIter.
//
// Like Options, a nil *IterOptions is valid and means to use the default
// values.
type IterOptions struct {
	// LowerBound specifies the smallest key (inclusive) that the iterator
	// will return during iteration. If the iterator is seeked or iterated
	// past this boundary the iterator will return Valid()==false.
	LowerBound []byte
	// UpperBound specifies the largest key (exclusive) that the iterator
	// will return during iteration.
	UpperBound []byte
}

// GetLowerBound returns the LowerBound or nil if the receiver is nil.
func (o *IterOptions) GetLowerBound() []byte {
	if o == nil {
		return nil
	}
	return o.LowerBound
}

// GetUpperBound returns the UpperBound or nil if the receiver is nil.
func (o *IterOptions) GetUpperBound() []byte {
	if o == nil {
		return nil
	}
	return o.UpperBound
}

// WriteOptions hold the optional per-query parameters for Set and Delete
// operations.
//
// Like Options, a nil *WriteOptions is valid and means to use the default
// values.
type WriteOptions struct {
	// Sync is whether to sync underlying writes from the OS buffer cache
	// through to actual disk, if applicable. Setting Sync can result in
	// slower writes.
	//
	// If false, and the process or machine crashes, then a recent write may
	// be lost. This is due to the recently written data being buffered
	// inside the process running shale. This differs from the semantics of
	// a write system call in which the data is buffered in the OS buffer
	// cache and would thus survive a process crash.
	Sync bool
}

// Sync specifies the default write options for writes which synchronize to
// disk.
var Sync = &WriteOptions{Sync: true}

// NoSync specifies the default write options for writes which do not
// synchronize to disk.
var NoSync = &WriteOptions{Sync: false}

// GetSync returns the Sync value or true if the receiver is nil.
func (o *WriteOptions) GetSync() bool {
	return o == nil || o.Sync
}

// Options holds the optional parameters for configuring a DB. These options
// apply to the DB at large; per-query options are defined by the IterOptions
// and WriteOptions types.
type Options struct {
	// BlockRestartInterval is the number of keys between restart points for
	// delta encoding of keys within a table block.
	//
	// The default value is 16.
	BlockRestartInterval int

	// BlockSize is the target uncompressed size in bytes of each table
	// block.
	//
	// The default value is 4096.
	BlockSize int

	// ChecksumType is the per-block checksum algorithm used when writing
	// tables.
	//
	// The default value is ChecksumCRC32c.
	ChecksumType ChecksumType

	// Comparer defines a total ordering over the space of []byte keys.
	//
	// The default value uses the same ordering as bytes.Compare.
	Comparer *Comparer

	// Compression defines the per-block compression to use when writing
	// tables.
	//
	// The default value (DefaultCompression) uses snappy compression.
	Compression Compression

	// ErrorIfExists causes an error on Open if the database already exists.
	ErrorIfExists bool

	// EventListener provides hooks into the DB's internal operation. The
	// zero value leaves every hook unset.
	EventListener EventListener

	// FilterPolicy defines a filter algorithm (such as a Bloom filter) that
	// can reduce disk reads for point lookups.
	//
	// The default value means to use no filter.
	FilterPolicy FilterPolicy

	// FS provides the interface for persistent file storage.
	//
	// The default value uses the underlying operating system's file system.
	FS vfs.FS

	// L0CompactionThreshold is the number of L0 files necessary to trigger
	// an L0 to Lbase compaction.
	//
	// The default value is 4.
	L0CompactionThreshold int

	// L0StopWritesThreshold is the number of L0 files after which writes are
	// stopped until a compaction reduces the count.
	//
	// The default value is 12.
	L0StopWritesThreshold int

	// L0SlowdownWritesThreshold is the number of L0 files after which an
	// intentional single sleep is injected into each write, smearing the
	// write stall across many writes rather than taking it all at once.
	//
	// The default value is 8.
	L0SlowdownWritesThreshold int

	// LBaseMaxBytes is the soft maximum size of L1. Each subsequent level
	// grows by a factor of 10.
	//
	// The default value is 10MB.
	LBaseMaxBytes int64

	// Logger used to write log messages.
	//
	// The default logger uses the Go standard library log package.
	Logger Logger

	// MaxManifestFileSize is the maximum size the MANIFEST file is allowed
	// to become. When the MANIFEST exceeds this size it is rolled over and a
	// new MANIFEST is created.
	//
	// The default value is 128MB.
	MaxManifestFileSize int64

	// MaxOpenFiles is a soft limit on the number of open files that can be
	// used by the DB. It is primarily consumed by the table cache.
	//
	// The default value is 1000.
	MaxOpenFiles int

	// MemTableSize is the size of a memtable in bytes. When the memtable
	// fills to this size it is flushed to a table in L0.
	//
	// The default value is 4MB.
	MemTableSize int

	// MemTableStopWritesThreshold is the number of unflushed memtables
	// allowed to accumulate before writes are stopped.
	//
	// The default value is 2.
	MemTableStopWritesThreshold int

	// TargetByteDeletionRate is the rate (in bytes per second) at which
	// obsolete file deletion is limited. Deletion pacing reduces latency
	// spikes caused by issuing many file deletions at once after a
	// compaction.
	//
	// The default value of 0 disables pacing.
	TargetByteDeletionRate int

	// TargetFileSize is the target size of tables written by compactions to
	// levels below L0.
	//
	// The default value is 2MB.
	TargetFileSize int64

	// VerifyChecksums is whether block checksums are verified when reading
	// tables.
	//
	// The default value is true.
	VerifyChecksums *bool

	// WALFsyncLatency, if set, records the latency of write-ahead log fsync
	// calls.
	WALFsyncLatency prometheus.Histogram
}

// EnsureDefaults ensures that the default values for all options are set if
// a valid value was not already specified. Returns the updated options for
// convenience.
func (o *Options) EnsureDefaults() *Options {
	if o == nil {
		o = &Options{}
	}
	if o.BlockRestartInterval <= 0 {
		o.BlockRestartInterval = 16
	}
	if o.BlockSize <= 0 {
		o.BlockSize = 4096
	}
	if o.Comparer == nil {
		o.Comparer = DefaultComparer
	}
	if o.Compression <= DefaultCompression || o.Compression > SnappyCompression {
		o.Compression = SnappyCompression
	}
	o.EventListener.EnsureDefaults(o.Logger)
	if o.FS == nil {
		o.FS = vfs.Default
	}
	if o.L0CompactionThreshold <= 0 {
		o.L0CompactionThreshold = 4
	}
	if o.L0StopWritesThreshold <= 0 {
		o.L0StopWritesThreshold = 12
	}
	if o.L0SlowdownWritesThreshold <= 0 {
		o.L0SlowdownWritesThreshold = 8
	}
	if o.LBaseMaxBytes <= 0 {
		o.LBaseMaxBytes = 10 << 20
	}
	if o.Logger == nil {
		o.Logger = base.DefaultLogger{}
	}
	if o.MaxManifestFileSize == 0 {
		o.MaxManifestFileSize = 128 << 20
	}
	if o.MaxOpenFiles == 0 {
		o.MaxOpenFiles = 1000
	}
	if o.MemTableSize <= 0 {
		o.MemTableSize = 4 << 20
	}
	if o.MemTableStopWritesThreshold <= 0 {
		o.MemTableStopWritesThreshold = 2
	}
	if o.TargetFileSize <= 0 {
		o.TargetFileSize = 2 << 20
	}
	if o.VerifyChecksums == nil {
		t := true
		o.VerifyChecksums = &t
	}
	return o
}

func (o *Options) makeWriterOptions() sstable.WriterOptions {
	return sstable.WriterOptions{
		BlockRestartInterval: o.BlockRestartInterval,
		BlockSize:            o.BlockSize,
		Comparer:             o.Comparer,
		Compression:          o.Compression,
		Checksum:             o.ChecksumType,
		FilterPolicy:         o.FilterPolicy,
	}
}

func (o *Options) makeReaderOptions() sstable.ReaderOptions {
	return sstable.ReaderOptions{
		Comparer:        o.Comparer,
		FilterPolicy:    o.FilterPolicy,
		VerifyChecksums: *o.VerifyChecksums,
	}
}
