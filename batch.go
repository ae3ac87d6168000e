// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/arenaskl"
	"github.com/shaledb/shale/internal/base"
)

const (
	batchHeaderLen    = 12
	invalidBatchCount = 1<<32 - 1
)

// ErrInvalidBatch indicates that a batch is invalid or otherwise corrupted.
var ErrInvalidBatch = base.MarkCorruptionError(errors.New("shale: invalid batch"))

// A Batch is a sequence of Sets and Deletes that are applied atomically.
//
// The zero value of a Batch is an empty batch, ready for use.
//
// The batch representation begins with a 12-byte header consisting of an
// 8-byte little-endian sequence number followed by a 4-byte little-endian
// count of the entries in the batch. Each entry is a single byte kind, a
// varint-prefixed key, and, for sets, a varint-prefixed value. This is the
// same representation written to the write-ahead log, so committing a batch
// requires no re-encoding.
type Batch struct {
	// data is the wire format of a batch's log entry.
	data []byte

	// memTableSize is the number of arena bytes the batch will consume when
	// applied to a memtable.
	memTableSize uint64
}

// Set adds an action to the batch that sets the key to map to the value.
func (b *Batch) Set(key, value []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + len(value) + 2*binary.MaxVarintLen64 + batchHeaderLen + 1)
	}
	b.data = append(b.data, byte(base.InternalKeyKindSet))
	b.appendStr(key)
	b.appendStr(value)
	b.incrementCount()
	b.memTableSize += uint64(memTableEntrySize(len(key), len(value)))
}

// Delete adds an action to the batch that deletes the entry for key.
func (b *Batch) Delete(key []byte) {
	if len(b.data) == 0 {
		b.init(len(key) + binary.MaxVarintLen64 + batchHeaderLen + 1)
	}
	b.data = append(b.data, byte(base.InternalKeyKindDelete))
	b.appendStr(key)
	b.incrementCount()
	b.memTableSize += uint64(memTableEntrySize(len(key), 0))
}

// Apply copies over the contents of the given batch to the receiver. The
// two batches must not share any of their underlying storage.
func (b *Batch) Apply(batch *Batch) error {
	if len(batch.data) == 0 {
		return nil
	}
	if len(batch.data) < batchHeaderLen {
		return ErrInvalidBatch
	}
	if len(b.data) == 0 {
		b.init(len(batch.data))
	}
	b.setCount(b.Count() + batch.Count())
	b.data = append(b.data, batch.data[batchHeaderLen:]...)
	b.memTableSize += batch.memTableSize
	return nil
}

// Repr returns the underlying batch representation. It is not a copy.
func (b *Batch) Repr() []byte {
	if len(b.data) == 0 {
		b.init(batchHeaderLen)
	}
	return b.data
}

// SetRepr sets the underlying batch representation. The batch takes
// ownership of the supplied slice.
func (b *Batch) SetRepr(data []byte) error {
	if len(data) < batchHeaderLen {
		return ErrInvalidBatch
	}
	b.data = data
	b.memTableSize = 0
	for r := b.Reader(); ; {
		kind, key, value, ok := r.Next()
		if !ok {
			break
		}
		switch kind {
		case base.InternalKeyKindSet:
			b.memTableSize += uint64(memTableEntrySize(len(key), len(value)))
		case base.InternalKeyKindDelete:
			b.memTableSize += uint64(memTableEntrySize(len(key), 0))
		default:
			return ErrInvalidBatch
		}
	}
	return nil
}

// Count returns the count of memtable-modifying operations in this batch.
func (b *Batch) Count() uint32 {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return binary.LittleEndian.Uint32(b.data[8:12])
}

// SeqNum returns the batch sequence number, which is applied when the batch
// is committed.
func (b *Batch) SeqNum() base.SeqNum {
	if len(b.data) < batchHeaderLen {
		return 0
	}
	return base.SeqNum(binary.LittleEndian.Uint64(b.data[:8]))
}

// Empty returns true if the batch is empty, and false otherwise.
func (b *Batch) Empty() bool {
	return b.Count() == 0
}

// Reset resets the batch for reuse. The underlying storage is retained.
func (b *Batch) Reset() {
	if b.data != nil {
		b.data = b.data[:batchHeaderLen]
		clear(b.data)
	}
	b.memTableSize = 0
}

// Reader returns a BatchReader for the current batch contents.
func (b *Batch) Reader() BatchReader {
	if len(b.data) < batchHeaderLen {
		return nil
	}
	return b.data[batchHeaderLen:]
}

func (b *Batch) init(cap int) {
	n := 256
	for n < cap {
		n *= 2
	}
	b.data = make([]byte, batchHeaderLen, n)
}

func (b *Batch) appendStr(s []byte) {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(s)))
	b.data = append(b.data, buf[:n]...)
	b.data = append(b.data, s...)
}

func (b *Batch) setSeqNum(seqNum base.SeqNum) {
	binary.LittleEndian.PutUint64(b.data[:8], uint64(seqNum))
}

func (b *Batch) setCount(v uint32) {
	binary.LittleEndian.PutUint32(b.data[8:12], v)
}

func (b *Batch) incrementCount() {
	v := b.Count()
	if v == invalidBatchCount {
		panic("shale: batch entry count overflow")
	}
	b.setCount(v + 1)
}

// memTableApply applies the batch to the given memtable. Each entry is
// assigned a distinct, increasing sequence number starting at seqNum, the
// same numbering a replayed log applies.
func (b *Batch) memTableApply(mem *memTable, seqNum base.SeqNum) error {
	for r, i := b.Reader(), uint32(0); ; i++ {
		kind, key, value, ok := r.Next()
		if !ok {
			break
		}
		ikey := base.MakeInternalKey(key, seqNum+base.SeqNum(i), kind)
		if err := mem.skl.Add(ikey, value); err != nil {
			if err == arenaskl.ErrRecordExists {
				return errors.AssertionFailedf("shale: duplicate sequence number: %s", ikey)
			}
			return err
		}
	}
	return nil
}

// BatchReader iterates over the entries contained in a batch.
type BatchReader []byte

// Next returns the next entry in this batch. The final return value is false
// if the batch is corrupt or exhausted. The byte slices returned point into
// the batch data and are invalidated if the batch is reset.
func (r *BatchReader) Next() (kind base.InternalKeyKind, key []byte, value []byte, ok bool) {
	p := *r
	if len(p) == 0 {
		return 0, nil, nil, false
	}
	kind = base.InternalKeyKind(p[0])
	if kind > base.InternalKeyKindMax {
		return 0, nil, nil, false
	}
	p, key, ok = batchDecodeStr(p[1:])
	if !ok {
		return 0, nil, nil, false
	}
	if kind == base.InternalKeyKindSet {
		p, value, ok = batchDecodeStr(p)
		if !ok {
			return 0, nil, nil, false
		}
	}
	*r = p
	return kind, key, value, true
}

func batchDecodeStr(data []byte) (odata []byte, s []byte, ok bool) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, nil, false
	}
	data = data[n:]
	if v > uint64(len(data)) {
		return nil, nil, false
	}
	return data[v:], data[:v], true
}
