// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package sstable

import (
	"fmt"
	"testing"

	"github.com/shaledb/shale/bloom"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func buildTestTable(
	t *testing.T, fs vfs.FS, path string, n int, wo WriterOptions,
) *Reader {
	f, err := fs.Create(path)
	require.NoError(t, err)

	w := NewWriter(f, wo)
	for i := 0; i < n; i++ {
		key := base.MakeInternalKey(
			[]byte(fmt.Sprintf("key%06d", i)), 1, base.InternalKeyKindSet)
		require.NoError(t, w.Add(key, []byte(fmt.Sprintf("value%06d", i))))
	}
	require.NoError(t, w.Close())

	f, err = fs.Open(path)
	require.NoError(t, err)
	r, err := NewReader(f, ReaderOptions{
		FilterPolicy:    wo.FilterPolicy,
		VerifyChecksums: true,
	})
	require.NoError(t, err)
	return r
}

func TestWriterOrderEnforcement(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("bad")
	require.NoError(t, err)

	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet), nil))
	err = w.Add(base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), nil)
	require.Error(t, err)
	// The writer error is sticky.
	require.Error(t, w.Close())
}

func TestTableRoundTrip(t *testing.T) {
	for _, compression := range []Compression{NoCompression, SnappyCompression} {
		t.Run(fmt.Sprint(compression), func(t *testing.T) {
			const n = 5000
			fs := vfs.NewMem()
			r := buildTestTable(t, fs, "test", n, WriterOptions{
				BlockSize:   256,
				Compression: compression,
			})
			defer r.Close()

			it := r.NewIter()
			i := 0
			for it.First(); it.Valid(); it.Next() {
				require.Equal(t, fmt.Sprintf("key%06d", i), string(it.Key().UserKey))
				require.Equal(t, fmt.Sprintf("value%06d", i), string(it.Value()))
				i++
			}
			require.NoError(t, it.Error())
			require.Equal(t, n, i)

			// Reverse iteration visits the same entries.
			for it.Last(); it.Valid(); it.Prev() {
				i--
				require.Equal(t, fmt.Sprintf("key%06d", i), string(it.Key().UserKey))
			}
			require.Equal(t, 0, i)
			require.NoError(t, it.Close())
		})
	}
}

func TestTableSeek(t *testing.T) {
	const n = 1000
	fs := vfs.NewMem()
	r := buildTestTable(t, fs, "test", n, WriterOptions{BlockSize: 128})
	defer r.Close()

	it := r.NewIter()
	defer it.Close()

	// SeekGE to an existing key lands on it.
	it.SeekGE([]byte("key000500"))
	require.True(t, it.Valid())
	require.Equal(t, "key000500", string(it.Key().UserKey))

	// SeekGE between keys lands on the next one.
	it.SeekGE([]byte("key000500a"))
	require.True(t, it.Valid())
	require.Equal(t, "key000501", string(it.Key().UserKey))

	// SeekGE past the end invalidates the iterator.
	it.SeekGE([]byte("z"))
	require.False(t, it.Valid())

	// SeekLT lands on the last key strictly before the target.
	it.SeekLT([]byte("key000500"))
	require.True(t, it.Valid())
	require.Equal(t, "key000499", string(it.Key().UserKey))

	it.SeekLT([]byte("key000000"))
	require.False(t, it.Valid())
}

func TestTableGet(t *testing.T) {
	const n = 1000
	fs := vfs.NewMem()
	r := buildTestTable(t, fs, "test", n, WriterOptions{
		BlockSize:    128,
		FilterPolicy: bloom.FilterPolicy(10),
	})
	defer r.Close()

	lookup := func(key string) (string, error) {
		ikey := base.MakeInternalKey([]byte(key), base.SeqNumMax, base.InternalKeyKindMax)
		_, value, err := r.Get(ikey)
		return string(value), err
	}

	got, err := lookup("key000123")
	require.NoError(t, err)
	require.Equal(t, "value000123", got)

	_, err = lookup("key000123a")
	require.Equal(t, base.ErrNotFound, err)

	_, err = lookup("absent")
	require.Equal(t, base.ErrNotFound, err)
}

func TestBlockWriterFinishEmpty(t *testing.T) {
	// A block with no entries still carries one restart point so that a
	// reader can decode it. The metaindex block is empty when no filter
	// policy is configured.
	var w blockWriter
	b := w.finish()

	it, err := newBlockIter(base.DefaultComparer.Compare, b)
	require.NoError(t, err)
	it.first()
	require.False(t, it.valid())

	// A reset writer with previously allocated restarts takes a different
	// path through finish.
	w.reset()
	b = w.finish()
	_, err = newBlockIter(base.DefaultComparer.Compare, b)
	require.NoError(t, err)
}

func TestTableNoFilterPolicy(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test")
	require.NoError(t, err)

	// No filter policy means the metaindex block is written with zero
	// entries.
	w := NewWriter(f, WriterOptions{})
	require.NoError(t, w.Add(
		base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1")))
	require.NoError(t, w.Close())

	f, err = fs.Open("test")
	require.NoError(t, err)
	r, err := NewReader(f, ReaderOptions{VerifyChecksums: true})
	require.NoError(t, err)
	_, v, err := r.Get(base.MakeSearchKey([]byte("a")))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.NoError(t, r.Close())
}

func TestTableFilterMatchesWriterPolicy(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{FilterPolicy: bloom.FilterPolicy(10)})
	require.NoError(t, w.Add(
		base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("1")))
	require.NoError(t, w.Close())

	// A reader configured without the filter policy ignores the filter block
	// but still finds the key.
	f, err = fs.Open("test")
	require.NoError(t, err)
	r, err := NewReader(f, ReaderOptions{})
	require.NoError(t, err)
	_, v, err := r.Get(base.MakeSearchKey([]byte("a")))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.NoError(t, r.Close())
}

func TestTableChecksums(t *testing.T) {
	for _, ct := range []ChecksumType{ChecksumCRC32c, ChecksumXXHash64} {
		t.Run(fmt.Sprint(ct), func(t *testing.T) {
			fs := vfs.NewMem()
			f, err := fs.Create("test")
			require.NoError(t, err)
			w := NewWriter(f, WriterOptions{Checksum: ct})
			for i := 0; i < 100; i++ {
				require.NoError(t, w.Add(base.MakeInternalKey(
					[]byte(fmt.Sprintf("k%04d", i)), 1, base.InternalKeyKindSet), []byte("v")))
			}
			require.NoError(t, w.Close())

			f, err = fs.Open("test")
			require.NoError(t, err)
			r, err := NewReader(f, ReaderOptions{VerifyChecksums: true})
			require.NoError(t, err)
			it := r.NewIter()
			n := 0
			for it.First(); it.Valid(); it.Next() {
				n++
			}
			require.NoError(t, it.Error())
			require.Equal(t, 100, n)
			require.NoError(t, it.Close())
			require.NoError(t, r.Close())
		})
	}
}

func TestCorruptTable(t *testing.T) {
	fs := vfs.NewMem()
	f, err := fs.Create("test")
	require.NoError(t, err)
	w := NewWriter(f, WriterOptions{Compression: NoCompression})
	require.NoError(t, w.Add(
		base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet), []byte("value")))
	require.NoError(t, w.Close())

	// Flip a bit in the first data block; the checksum must catch it.
	f, err = fs.Open("test")
	require.NoError(t, err)
	stat, err := f.Stat()
	require.NoError(t, err)
	data := make([]byte, stat.Size())
	_, err = f.ReadAt(data, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	data[1] ^= 0x40

	f, err = fs.Create("test")
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.Open("test")
	require.NoError(t, err)
	r, err := NewReader(f, ReaderOptions{VerifyChecksums: true})
	require.NoError(t, err)
	_, _, err = r.Get(base.MakeSearchKey([]byte("a")))
	require.Error(t, err)
	require.NoError(t, r.Close())
}

func TestEstimatedOffset(t *testing.T) {
	const n = 2000
	fs := vfs.NewMem()
	r := buildTestTable(t, fs, "test", n, WriterOptions{
		BlockSize:   256,
		Compression: NoCompression,
	})
	defer r.Close()

	first := r.EstimatedOffset([]byte("key000000"))
	mid := r.EstimatedOffset([]byte("key001000"))
	end := r.EstimatedOffset([]byte("z"))
	require.Less(t, first, mid)
	require.Less(t, mid, end)
}
