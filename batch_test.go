// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"encoding/binary"
	"testing"

	"github.com/shaledb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func TestBatchEmpty(t *testing.T) {
	var b Batch
	require.True(t, b.Empty())
	require.EqualValues(t, 0, b.Count())
	require.EqualValues(t, 0, b.SeqNum())
	require.Equal(t, batchHeaderLen, len(b.Repr()))
}

func TestBatchReader(t *testing.T) {
	type entry struct {
		kind  base.InternalKeyKind
		key   string
		value string
	}
	entries := []entry{
		{base.InternalKeyKindSet, "roses", "red"},
		{base.InternalKeyKindDelete, "lilacs", ""},
		{base.InternalKeyKindSet, "violets", "blue"},
		{base.InternalKeyKindSet, "", ""},
	}

	var b Batch
	for _, e := range entries {
		if e.kind == base.InternalKeyKindSet {
			b.Set([]byte(e.key), []byte(e.value))
		} else {
			b.Delete([]byte(e.key))
		}
	}
	require.EqualValues(t, len(entries), b.Count())

	r := b.Reader()
	for _, want := range entries {
		kind, key, value, ok := r.Next()
		require.True(t, ok)
		require.Equal(t, want.kind, kind)
		require.Equal(t, want.key, string(key))
		require.Equal(t, want.value, string(value))
	}
	_, _, _, ok := r.Next()
	require.False(t, ok)
}

func TestBatchReprRoundTrip(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Set([]byte("c"), []byte("3"))

	var c Batch
	require.NoError(t, c.SetRepr(append([]byte(nil), b.Repr()...)))
	require.Equal(t, b.Count(), c.Count())
	require.Equal(t, b.memTableSize, c.memTableSize)
	require.Equal(t, b.Repr(), c.Repr())
}

func TestBatchSetReprInvalid(t *testing.T) {
	var b Batch
	require.Equal(t, ErrInvalidBatch, b.SetRepr([]byte("short")))

	// An unknown kind byte marks a corrupt batch.
	data := make([]byte, batchHeaderLen)
	binary.LittleEndian.PutUint32(data[8:12], 1)
	data = append(data, 0xff)
	require.Equal(t, ErrInvalidBatch, b.SetRepr(data))
}

func TestBatchApply(t *testing.T) {
	var a, b Batch
	a.Set([]byte("a"), []byte("1"))
	b.Set([]byte("b"), []byte("2"))
	b.Delete([]byte("c"))

	require.NoError(t, a.Apply(&b))
	require.EqualValues(t, 3, a.Count())

	r := a.Reader()
	var keys []string
	for {
		_, key, _, ok := r.Next()
		if !ok {
			break
		}
		keys = append(keys, string(key))
	}
	require.Equal(t, []string{"a", "b", "c"}, keys)

	// Applying an empty batch is a no-op.
	var empty Batch
	require.NoError(t, a.Apply(&empty))
	require.EqualValues(t, 3, a.Count())
}

func TestBatchReset(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Reset()
	require.True(t, b.Empty())
	require.EqualValues(t, 0, b.memTableSize)
	b.Set([]byte("b"), []byte("2"))
	require.EqualValues(t, 1, b.Count())
}

func TestBatchMemTableApply(t *testing.T) {
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	b.Delete([]byte("a"))
	b.Set([]byte("z"), []byte("26"))

	mem := newMemTable((&Options{}).EnsureDefaults())
	require.NoError(t, mem.prepare(&b))
	require.NoError(t, mem.apply(&b, 10))

	// Entries receive consecutive sequence numbers starting at the batch's.
	it := mem.newIter()
	it.First()
	require.EqualValues(t, 11, it.Key().SeqNum())
	require.Equal(t, base.InternalKeyKindDelete, it.Key().Kind())
	it.Next()
	require.EqualValues(t, 10, it.Key().SeqNum())
	require.Equal(t, "1", string(it.Value()))
	it.Next()
	require.Equal(t, "z", string(it.Key().UserKey))
	require.EqualValues(t, 12, it.Key().SeqNum())
	it.Next()
	require.False(t, it.Valid())
	require.NoError(t, it.Close())
}
