// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"bufio"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/vfs"
)

// indexEntry is a block handle and the length of the separator key preceding
// it in w.indexKeys.
type indexEntry struct {
	bh     blockHandle
	keyLen int
}

// Writer writes a table file. Keys are added in order with Add, and the
// table is finalized with Close.
type Writer struct {
	file        vfs.File
	err         error
	comparer    *base.Comparer
	cmp         base.Compare
	checksum    ChecksumType
	blockSize   int
	compression Compression
	// filter accumulates the filter block.
	filter filterWriter
	// writer is a buffered writer wrapping file.
	writer *bufio.Writer
	// offset is the offset (relative to the table start) of the next block to
	// be written.
	offset uint64
	// prevKey is a copy of the key most recently passed to Add.
	prevKey base.InternalKey
	// pendingBH is the blockHandle of a finished data block that is waiting
	// for the first key of the next data block, so that the index entry's
	// separator can be computed.
	pendingBH blockHandle
	// block accumulates the current data block. indexBlock accumulates the
	// index entries at Close time.
	block      blockWriter
	indexBlock blockWriter
	// indexKeys and indexEntries hold the separators and block handles for
	// the index block. The index block is not built until Close, because the
	// handles are not a fixed size.
	indexKeys    []byte
	indexEntries []indexEntry
	// nEntries is the number of entries added to the table.
	nEntries int
	// compressedBuf is the destination buffer for snappy compression. It is
	// re-used over the lifetime of the writer.
	compressedBuf []byte
	// tmp is a scratch buffer, large enough to hold either footerLen bytes,
	// blockTrailerLen bytes, or (5 * binary.MaxVarintLen64) bytes.
	tmp [50]byte
}

// Add adds a key/value pair to the table being written. Keys must be added
// in increasing internal key order.
func (w *Writer) Add(key base.InternalKey, value []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.nEntries > 0 {
		if base.InternalCompare(w.cmp, w.prevKey, key) >= 0 {
			w.err = errors.Errorf(
				"shale/sstable: Add called in non-increasing key order: %s, %s",
				w.prevKey.Pretty(w.comparer.FormatKey), key.Pretty(w.comparer.FormatKey))
			return w.err
		}
	}
	w.flushPendingBH(key)
	if w.filter.policy != nil {
		w.filter.appendKey(key.UserKey)
	}
	w.prevKey = key.Clone()
	w.block.add(key, value)
	w.nEntries++

	if w.block.size() >= w.blockSize {
		bh, err := w.finishBlock(&w.block)
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
	}
	return nil
}

// flushPendingBH adds any pending block handle to the index entries, using
// a separator key between the finished block's last key and the given key.
// An empty key means that there is no successor block, and the separator is
// instead a successor of the last key.
func (w *Writer) flushPendingBH(key base.InternalKey) {
	if w.pendingBH.length == 0 {
		// A valid blockHandle must be non-zero. In particular, it must have
		// a non-zero length.
		return
	}
	n0 := len(w.indexKeys)
	if len(key.UserKey) == 0 {
		w.indexKeys = w.comparer.Successor(w.indexKeys, w.prevKey.UserKey)
	} else {
		w.indexKeys = w.comparer.Separator(w.indexKeys, w.prevKey.UserKey, key.UserKey)
	}
	n1 := len(w.indexKeys)

	// If the separator user key is strictly greater than the block's last
	// user key, give it the maximum trailer so it sorts after every trailer
	// for that user key. Otherwise the separator equals the last user key
	// (e.g. versions of one user key straddle the block boundary) and the
	// last key's own trailer is the only one that sorts at or after it.
	trailer := base.MakeTrailer(base.SeqNumMax, base.InternalKeyKindMax)
	if w.cmp(w.indexKeys[n0:n1], w.prevKey.UserKey) == 0 {
		trailer = w.prevKey.Trailer
	}
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], uint64(trailer))
	w.indexKeys = append(w.indexKeys, tmp8[:]...)

	w.indexEntries = append(w.indexEntries, indexEntry{w.pendingBH, len(w.indexKeys) - n0})
	w.pendingBH = blockHandle{}
}

// finishBlock finishes the current block and returns its block handle, which
// is its offset and length in the table.
func (w *Writer) finishBlock(block *blockWriter) (blockHandle, error) {
	b := block.finish()
	bh, err := w.writeRawBlock(b, w.compression)
	if err != nil {
		return blockHandle{}, err
	}

	// Update the filter block.
	if w.filter.policy != nil {
		if err := w.filter.finishBlock(w.offset); err != nil {
			return blockHandle{}, err
		}
	}

	// Reset the block for future use.
	block.reset()
	return bh, nil
}

func (w *Writer) writeRawBlock(b []byte, compression Compression) (blockHandle, error) {
	blockType := byte(noCompressionBlockType)
	if compression == SnappyCompression {
		// Compress the buffer, discarding the result if the improvement isn't
		// at least 12.5%.
		compressed := snappy.Encode(w.compressedBuf, b)
		w.compressedBuf = compressed[:cap(compressed)]
		if len(compressed) < len(b)-len(b)/8 {
			blockType = snappyCompressionBlockType
			b = compressed
		}
	}
	bh := blockHandle{w.offset, uint64(len(b))}

	// Write the bytes to the file.
	if _, err := w.writer.Write(b); err != nil {
		return blockHandle{}, err
	}

	// Write the checksum.
	w.tmp[0] = blockType
	checksum := checksumValue(w.checksum, b, blockType)
	binary.LittleEndian.PutUint32(w.tmp[1:5], checksum)
	if _, err := w.writer.Write(w.tmp[:5]); err != nil {
		return blockHandle{}, err
	}
	w.offset += uint64(len(b)) + blockTrailerLen
	return bh, nil
}

// EstimatedSize returns the estimated size of the table being written,
// including the current data block and the index entries accumulated so far.
func (w *Writer) EstimatedSize() uint64 {
	n := w.offset + uint64(w.block.size())
	for _, e := range w.indexEntries {
		n += uint64(e.keyLen) + 2*binary.MaxVarintLen64
	}
	return n
}

// EntryCount returns the number of entries added to the table so far.
func (w *Writer) EntryCount() int {
	return w.nEntries
}

// Close finishes writing the table and closes the underlying file.
func (w *Writer) Close() (err error) {
	defer func() {
		if w.file == nil {
			return
		}
		err1 := w.file.Close()
		if err == nil {
			err = err1
		}
		w.file = nil
	}()
	if w.err != nil {
		return w.err
	}

	// Finish the last data block, or force an empty data block if there
	// aren't any data blocks at all.
	if w.block.nEntries > 0 || len(w.indexEntries) == 0 {
		bh, err := w.finishBlock(&w.block)
		if err != nil {
			w.err = err
			return w.err
		}
		w.pendingBH = bh
		w.flushPendingBH(base.InternalKey{})
	}

	// Write the filter block and the metaindex block.
	var metaindex blockWriter
	metaindex.restartInterval = 1
	if w.filter.policy != nil {
		b, err := w.filter.finish()
		if err != nil {
			w.err = err
			return w.err
		}
		bh, err := w.writeRawBlock(b, NoCompression)
		if err != nil {
			w.err = err
			return w.err
		}
		n := encodeBlockHandle(w.tmp[:], bh)
		metaindex.add(base.InternalKey{UserKey: []byte("filter." + w.filter.policy.Name())}, w.tmp[:n])
	}
	metaindexBH, err := w.writeRawBlock(metaindex.finish(), w.compression)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the index block.
	w.indexBlock.restartInterval = 1
	i0 := 0
	for _, e := range w.indexEntries {
		i1 := i0 + e.keyLen
		n := encodeBlockHandle(w.tmp[:], e.bh)
		w.indexBlock.add(base.DecodeInternalKey(w.indexKeys[i0:i1]), w.tmp[:n])
		i0 = i1
	}
	indexBH, err := w.finishBlock(&w.indexBlock)
	if err != nil {
		w.err = err
		return w.err
	}

	// Write the table footer. The checksum type occupies the spare byte
	// immediately before the magic; classic tables hold a zero there.
	footer := w.tmp[:footerLen]
	for i := range footer {
		footer[i] = 0
	}
	n := encodeBlockHandle(footer, metaindexBH)
	encodeBlockHandle(footer[n:], indexBH)
	footer[footerLen-len(magic)-1] = byte(w.checksum)
	copy(footer[footerLen-len(magic):], magic)
	if _, err := w.writer.Write(footer); err != nil {
		w.err = err
		return w.err
	}
	w.offset += footerLen

	// Flush the buffer.
	if err := w.writer.Flush(); err != nil {
		w.err = err
		return w.err
	}

	if err := w.file.Sync(); err != nil {
		w.err = err
		return w.err
	}

	// Make any future calls to Add or Close return an error.
	w.err = errors.New("shale/sstable: writer is closed")
	return nil
}

// NewWriter returns a new table writer for the file. Closing the writer
// closes the file.
func NewWriter(f vfs.File, o WriterOptions) *Writer {
	o = o.ensureDefaults()
	w := &Writer{
		file:        f,
		comparer:    o.Comparer,
		cmp:         o.Comparer.Compare,
		checksum:    o.Checksum,
		blockSize:   o.BlockSize,
		compression: o.Compression,
		filter: filterWriter{
			policy: o.FilterPolicy,
		},
		block: blockWriter{
			restartInterval: o.BlockRestartInterval,
		},
	}
	if f == nil {
		w.err = errors.New("shale/sstable: nil file")
		return w
	}
	w.writer = bufio.NewWriter(f)
	return w
}
