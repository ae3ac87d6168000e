// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"testing"

	"github.com/shaledb/shale/internal/arenaskl"
	"github.com/shaledb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func memTableSet(t *testing.T, m *memTable, seqNum base.SeqNum, key, value string) {
	t.Helper()
	var b Batch
	b.Set([]byte(key), []byte(value))
	require.NoError(t, m.prepare(&b))
	require.NoError(t, m.apply(&b, seqNum))
}

func memTableDelete(t *testing.T, m *memTable, seqNum base.SeqNum, key string) {
	t.Helper()
	var b Batch
	b.Delete([]byte(key))
	require.NoError(t, m.prepare(&b))
	require.NoError(t, m.apply(&b, seqNum))
}

func TestMemTableEmpty(t *testing.T) {
	m := newMemTable((&Options{}).EnsureDefaults())
	require.True(t, m.empty())
	require.True(t, m.readyForFlush())

	memTableSet(t, m, 1, "a", "1")
	require.False(t, m.empty())
}

func TestMemTableGet(t *testing.T) {
	m := newMemTable((&Options{}).EnsureDefaults())
	memTableSet(t, m, 1, "apple", "red")
	memTableSet(t, m, 2, "banana", "yellow")
	memTableSet(t, m, 3, "apple", "green")
	memTableDelete(t, m, 4, "banana")

	lookup := func(key string, seqNum base.SeqNum) (base.InternalKey, string, bool) {
		ikey, value, ok := m.get(
			base.MakeInternalKey([]byte(key), seqNum-1, base.InternalKeyKindMax))
		return ikey, string(value), ok
	}

	// The newest visible version wins.
	ikey, v, ok := lookup("apple", 5)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindSet, ikey.Kind())
	require.Equal(t, "green", v)

	// An older read sequence number sees the older version.
	ikey, v, ok = lookup("apple", 2)
	require.True(t, ok)
	require.Equal(t, "red", v)
	require.EqualValues(t, 1, ikey.SeqNum())

	// A deletion surfaces as a tombstone, not as absence.
	ikey, _, ok = lookup("banana", 5)
	require.True(t, ok)
	require.Equal(t, base.InternalKeyKindDelete, ikey.Kind())

	_, _, ok = lookup("cherry", 5)
	require.False(t, ok)
}

func TestMemTableIter(t *testing.T) {
	m := newMemTable((&Options{}).EnsureDefaults())
	for i := 0; i < 100; i++ {
		memTableSet(t, m, base.SeqNum(i+1), fmt.Sprintf("k%03d", i), fmt.Sprintf("v%03d", i))
	}

	it := m.newIter()
	n := 0
	for it.First(); it.Valid(); it.Next() {
		require.Equal(t, fmt.Sprintf("k%03d", n), string(it.Key().UserKey))
		n++
	}
	require.Equal(t, 100, n)

	it.SeekGE([]byte("k050"))
	require.True(t, it.Valid())
	require.Equal(t, "k050", string(it.Key().UserKey))

	it.SeekLT([]byte("k050"))
	require.True(t, it.Valid())
	require.Equal(t, "k049", string(it.Key().UserKey))

	it.Last()
	require.Equal(t, "k099", string(it.Key().UserKey))
	require.NoError(t, it.Close())
}

func TestMemTableArenaFull(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	m := newMemTableSize(opts, 16<<10)

	var b Batch
	i := 0
	for ; ; i++ {
		b.Reset()
		b.Set([]byte(fmt.Sprintf("key%06d", i)), make([]byte, 128))
		if err := m.prepare(&b); err != nil {
			require.Equal(t, arenaskl.ErrArenaFull, err)
			break
		}
		require.NoError(t, m.apply(&b, base.SeqNum(i+1)))
	}
	require.Greater(t, i, 0)
	require.True(t, m.readyForFlush())
}

func TestMemTableReserveUnblock(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	m := newMemTableSize(opts, 16<<10)

	// An outstanding reservation keeps the memtable from flushing.
	var b Batch
	b.Set([]byte("a"), []byte("1"))
	require.NoError(t, m.prepare(&b))
	require.False(t, m.readyForFlush())
	require.NoError(t, m.apply(&b, 1))
	require.True(t, m.readyForFlush())
}

func TestMemTableOversizedBatch(t *testing.T) {
	opts := (&Options{}).EnsureDefaults()
	m := newMemTableSize(opts, 16<<10)

	// A batch that cannot fit in a fresh arena of this size fails prepare and
	// forces the caller to allocate a larger memtable.
	var b Batch
	b.Set([]byte("big"), make([]byte, 32<<10))
	require.Equal(t, arenaskl.ErrArenaFull, m.prepare(&b))

	big := newMemTableSize(opts, uint32(b.memTableSize)+memTableEmptySize)
	require.NoError(t, big.prepare(&b))
	require.NoError(t, big.apply(&b, 1))
	_, _, ok := big.get(base.MakeInternalKey([]byte("big"), base.SeqNumMax-1, base.InternalKeyKindMax))
	require.True(t, ok)
}
