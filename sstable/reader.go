// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/vfs"
)

// Iter is an iterator over an entire table of data. It is a two-level
// iterator: to seek for a given key, it first looks in the index for the
// block that contains that key, and then looks inside that block.
type Iter struct {
	reader *Reader
	index  blockIter
	data   blockIter
	err    error
}

// Iter implements the base.InternalIterator interface.
var _ base.InternalIterator = (*Iter)(nil)

func (i *Iter) init(r *Reader) error {
	i.reader = r
	return i.index.init(r.cmp, r.index)
}

// loadBlock loads the block pointed to by the current index entry and leaves
// i.data unpositioned. If unsuccessful, it sets i.err and returns false.
func (i *Iter) loadBlock() bool {
	if !i.index.valid() {
		i.err = errors.AssertionFailedf("shale/sstable: loadBlock with invalid index")
		return false
	}
	// Load the next block.
	v := i.index.val
	h, n := decodeBlockHandle(v)
	if n == 0 || n != len(v) {
		i.err = base.CorruptionErrorf("shale/sstable: corrupt index entry")
		return false
	}
	block, err := i.reader.readBlock(h)
	if err != nil {
		i.err = err
		return false
	}
	if err := i.data.init(i.reader.cmp, block); err != nil {
		i.err = err
		return false
	}
	return true
}

// SeekGE implements InternalIterator.SeekGE.
func (i *Iter) SeekGE(key []byte) {
	if i.err != nil {
		return
	}
	ikey := base.MakeSearchKey(key)
	i.index.seekGE(ikey)
	if !i.index.valid() {
		i.data.invalidate()
		return
	}
	if !i.loadBlock() {
		return
	}
	i.data.seekGE(ikey)
	for !i.data.valid() {
		// The index entry gives an upper bound for its block, so the sought
		// key may lie in the next block.
		if !i.index.next() {
			break
		}
		if !i.loadBlock() {
			return
		}
		i.data.first()
	}
}

// SeekLT implements InternalIterator.SeekLT.
func (i *Iter) SeekLT(key []byte) {
	if i.err != nil {
		return
	}
	ikey := base.MakeSearchKey(key)
	i.index.seekGE(ikey)
	if !i.index.valid() {
		i.index.last()
		if !i.index.valid() {
			i.data.invalidate()
			return
		}
	}
	if !i.loadBlock() {
		return
	}
	i.data.seekLT(ikey)
	for !i.data.valid() {
		// All of the keys in the current block are at or after the sought
		// key. Step to the previous block and use its last entry.
		if !i.index.prev() {
			break
		}
		if !i.loadBlock() {
			return
		}
		i.data.last()
	}
}

// First implements InternalIterator.First.
func (i *Iter) First() {
	if i.err != nil {
		return
	}
	i.index.first()
	if !i.index.valid() {
		i.data.invalidate()
		return
	}
	if !i.loadBlock() {
		return
	}
	i.data.first()
	for !i.data.valid() {
		if !i.index.next() {
			break
		}
		if !i.loadBlock() {
			return
		}
		i.data.first()
	}
}

// Last implements InternalIterator.Last.
func (i *Iter) Last() {
	if i.err != nil {
		return
	}
	i.index.last()
	if !i.index.valid() {
		i.data.invalidate()
		return
	}
	if !i.loadBlock() {
		return
	}
	i.data.last()
	for !i.data.valid() {
		if !i.index.prev() {
			break
		}
		if !i.loadBlock() {
			return
		}
		i.data.last()
	}
}

// Next implements InternalIterator.Next.
func (i *Iter) Next() bool {
	if i.err != nil {
		return false
	}
	if i.data.next() {
		return true
	}
	for {
		if !i.index.next() {
			return false
		}
		if !i.loadBlock() {
			return false
		}
		i.data.first()
		if i.data.valid() {
			return true
		}
	}
}

// Prev implements InternalIterator.Prev.
func (i *Iter) Prev() bool {
	if i.err != nil {
		return false
	}
	if i.data.prev() {
		return true
	}
	for {
		if !i.index.prev() {
			return false
		}
		if !i.loadBlock() {
			return false
		}
		i.data.last()
		if i.data.valid() {
			return true
		}
	}
}

// Key implements InternalIterator.Key.
func (i *Iter) Key() base.InternalKey {
	return i.data.ikey
}

// Value implements InternalIterator.Value.
func (i *Iter) Value() []byte {
	return i.data.val
}

// Valid implements InternalIterator.Valid.
func (i *Iter) Valid() bool {
	return i.err == nil && i.data.valid()
}

// Error implements InternalIterator.Error.
func (i *Iter) Error() error {
	return i.err
}

// Close implements InternalIterator.Close.
func (i *Iter) Close() error {
	i.data.invalidate()
	return i.err
}

// Reader reads a table file. It does not cache blocks; callers wishing to
// amortize block reads keep open Readers in a table cache.
type Reader struct {
	file            vfs.File
	fileSize        uint64
	err             error
	index           block
	comparer        *base.Comparer
	cmp             base.Compare
	filter          filterReader
	checksum        ChecksumType
	verifyChecksums bool
}

// Close closes the reader and the underlying file.
func (r *Reader) Close() error {
	if r.err != nil {
		if r.file != nil {
			r.file.Close()
			r.file = nil
		}
		return r.err
	}
	if r.file != nil {
		r.err = r.file.Close()
		r.file = nil
		if r.err != nil {
			return r.err
		}
	}
	// Make any future calls to Get, NewIter or Close return an error.
	r.err = errors.New("shale/sstable: reader is closed")
	return nil
}

// NewIter returns an iterator over the table's entries.
func (r *Reader) NewIter() *Iter {
	i := &Iter{}
	if r.err != nil {
		i.err = r.err
		return i
	}
	if err := i.init(r); err != nil {
		i.err = err
	}
	return i
}

// Get returns the first entry in the table at or after ikey in the internal
// key ordering, provided its user key equals ikey's. The table's filter, if
// any, is consulted first. It returns base.ErrNotFound if no such entry
// exists. The returned slices are valid until the reader is closed.
func (r *Reader) Get(ikey base.InternalKey) (base.InternalKey, []byte, error) {
	if r.err != nil {
		return base.InternalKey{}, nil, r.err
	}

	var index blockIter
	if err := index.init(r.cmp, r.index); err != nil {
		return base.InternalKey{}, nil, err
	}
	index.seekGE(ikey)
	if !index.valid() {
		return base.InternalKey{}, nil, base.ErrNotFound
	}
	h, n := decodeBlockHandle(index.val)
	if n == 0 || n != len(index.val) {
		return base.InternalKey{}, nil, base.CorruptionErrorf("shale/sstable: corrupt index entry")
	}

	if r.filter.valid() && !r.filter.mayContain(h.offset, ikey.UserKey) {
		return base.InternalKey{}, nil, base.ErrNotFound
	}

	b, err := r.readBlock(h)
	if err != nil {
		return base.InternalKey{}, nil, err
	}
	var data blockIter
	if err := data.init(r.cmp, b); err != nil {
		return base.InternalKey{}, nil, err
	}
	data.seekGE(ikey)
	if !data.valid() || r.cmp(data.ikey.UserKey, ikey.UserKey) != 0 {
		return base.InternalKey{}, nil, base.ErrNotFound
	}
	return data.ikey, data.val, nil
}

// EstimatedOffset returns the approximate file offset at which the given
// user key would lie within the table.
func (r *Reader) EstimatedOffset(key []byte) uint64 {
	if r.err != nil {
		return 0
	}
	var index blockIter
	if err := index.init(r.cmp, r.index); err != nil {
		return 0
	}
	index.seekGE(base.MakeSearchKey(key))
	if !index.valid() {
		return r.fileSize
	}
	if h, n := decodeBlockHandle(index.val); n != 0 {
		return h.offset
	}
	return r.fileSize
}

// readBlock reads and decompresses a block from disk into memory, verifying
// its checksum if the reader was configured to do so.
func (r *Reader) readBlock(bh blockHandle) (block, error) {
	b := make([]byte, bh.length+blockTrailerLen)
	if _, err := r.file.ReadAt(b, int64(bh.offset)); err != nil {
		return nil, err
	}
	if r.verifyChecksums {
		checksum0 := binary.LittleEndian.Uint32(b[bh.length+1:])
		checksum1 := checksumValue(r.checksum, b[:bh.length], b[bh.length])
		if checksum0 != checksum1 {
			return nil, base.CorruptionErrorf("shale/sstable: invalid table (checksum mismatch)")
		}
	}
	switch b[bh.length] {
	case noCompressionBlockType:
		return b[:bh.length], nil
	case snappyCompressionBlockType:
		b, err := snappy.Decode(nil, b[:bh.length])
		if err != nil {
			return nil, base.MarkCorruptionError(err)
		}
		return b, nil
	}
	return nil, base.CorruptionErrorf("shale/sstable: unknown block compression: %d", b[bh.length])
}

// readMetaindex reads the metaindex block and initializes the table's
// filter, if the table holds a filter built with the configured policy.
func (r *Reader) readMetaindex(metaindexBH blockHandle, policy base.FilterPolicy) error {
	b, err := r.readBlock(metaindexBH)
	if err != nil {
		return err
	}
	var i blockIter
	if err := i.init(r.cmp, b); err != nil {
		return err
	}
	meta := map[string]blockHandle{}
	for i.first(); i.valid(); i.next() {
		bh, n := decodeBlockHandle(i.val)
		if n == 0 {
			return base.CorruptionErrorf("shale/sstable: invalid table (bad filter block handle)")
		}
		meta[string(i.ikey.UserKey)] = bh
	}

	if policy == nil {
		return nil
	}
	if bh, ok := meta["filter."+policy.Name()]; ok {
		b, err = r.readBlock(bh)
		if err != nil {
			return err
		}
		if !r.filter.init(b, policy) {
			return base.CorruptionErrorf("shale/sstable: invalid table (bad filter block)")
		}
	}
	return nil
}

// NewReader returns a new table reader for the file. Closing the reader will
// close the file.
func NewReader(f vfs.File, o ReaderOptions) (*Reader, error) {
	o = o.ensureDefaults()
	r := &Reader{
		file:            f,
		comparer:        o.Comparer,
		cmp:             o.Comparer.Compare,
		verifyChecksums: o.VerifyChecksums,
	}
	if f == nil {
		return nil, errors.New("shale/sstable: nil file")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shale/sstable: invalid table")
	}
	if stat.Size() < int64(footerLen) {
		f.Close()
		return nil, base.CorruptionErrorf("shale/sstable: invalid table (file size is too small)")
	}
	r.fileSize = uint64(stat.Size())

	var footer [footerLen]byte
	if _, err := f.ReadAt(footer[:], stat.Size()-int64(footerLen)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shale/sstable: invalid table")
	}
	if string(footer[footerLen-len(magic):footerLen]) != magic {
		f.Close()
		return nil, base.CorruptionErrorf("shale/sstable: invalid table (bad magic number)")
	}
	switch t := ChecksumType(footer[footerLen-len(magic)-1]); t {
	case ChecksumCRC32c, ChecksumXXHash64:
		r.checksum = t
	default:
		f.Close()
		return nil, base.CorruptionErrorf("shale/sstable: invalid table (unknown checksum type %d)", t)
	}

	// Read the metaindex and index blocks.
	metaindexBH, n := decodeBlockHandle(footer[:])
	if n == 0 {
		f.Close()
		return nil, base.CorruptionErrorf("shale/sstable: invalid table (bad metaindex block handle)")
	}
	indexBH, n := decodeBlockHandle(footer[n:])
	if n == 0 {
		f.Close()
		return nil, base.CorruptionErrorf("shale/sstable: invalid table (bad index block handle)")
	}
	if err := r.readMetaindex(metaindexBH, o.FilterPolicy); err != nil {
		f.Close()
		return nil, err
	}
	r.index, err = r.readBlock(indexBH)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}
