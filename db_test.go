// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"testing"

	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func testOptions() *Options {
	return &Options{FS: vfs.NewMem()}
}

func TestBasicReadsAndWrites(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)

	_, err = d.Get([]byte("missing"))
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	v, err := d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	// Overwrites are visible immediately.
	require.NoError(t, d.Set([]byte("a"), []byte("2"), nil))
	v, err = d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	require.NoError(t, d.Delete([]byte("a"), nil))
	_, err = d.Get([]byte("a"))
	require.Equal(t, ErrNotFound, err)

	// Deleting an absent key succeeds.
	require.NoError(t, d.Delete([]byte("never-existed"), nil))

	require.NoError(t, d.Close())
}

func TestBatchCommit(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Set([]byte("b"), []byte("old"), nil))

	b := d.NewBatch()
	b.Set([]byte("a"), []byte("1"))
	b.Delete([]byte("b"))
	b.Set([]byte("c"), []byte("3"))
	require.NoError(t, d.Apply(b, Sync))

	v, err := d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	_, err = d.Get([]byte("b"))
	require.Equal(t, ErrNotFound, err)
	v, err = d.Get([]byte("c"))
	require.NoError(t, err)
	require.Equal(t, "3", string(v))

	// An empty batch commits trivially.
	require.NoError(t, d.Apply(d.NewBatch(), nil))
}

func TestFlush(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	// Flushing an empty DB is a no-op.
	require.NoError(t, d.Flush())
	require.EqualValues(t, 0, d.Metrics().Flush.Count)

	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key%03d", i)), []byte("v"), nil))
	}
	require.NoError(t, d.Flush())

	m := d.Metrics()
	require.EqualValues(t, 1, m.Flush.Count)
	require.Greater(t, m.Flush.WriteBytes, uint64(0))
	require.EqualValues(t, 1, m.Levels[0].NumFiles)

	// Reads are served from the L0 table.
	v, err := d.Get([]byte("key042"))
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	n, err := d.GetProperty("shale.num-files-at-level0")
	require.NoError(t, err)
	require.Equal(t, "1", n)
}

func TestCompact(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	const n = 10000
	for i := 0; i < n; i++ {
		require.NoError(t, d.Set(
			[]byte(fmt.Sprintf("key%05d", i)), []byte(fmt.Sprintf("val%05d", i)), nil))
		if i == n/2 {
			require.NoError(t, d.Flush())
		}
	}
	// Overwrite a range so the compaction has shadowed versions to drop.
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set(
			[]byte(fmt.Sprintf("key%05d", i)), []byte("updated"), nil))
	}
	require.NoError(t, d.Compact([]byte("key00000"), []byte("key99999")))

	m := d.Metrics()
	require.EqualValues(t, 0, m.Levels[0].NumFiles)
	require.Greater(t, m.Compact.Count, int64(0))

	// A full scan sees every key exactly once, with the newest value.
	it := d.NewIter(nil)
	i := 0
	for it.First(); it.Valid(); it.Next() {
		require.Equal(t, fmt.Sprintf("key%05d", i), string(it.Key()))
		if i < 100 {
			require.Equal(t, "updated", string(it.Value()))
		} else {
			require.Equal(t, fmt.Sprintf("val%05d", i), string(it.Value()))
		}
		i++
	}
	require.NoError(t, it.Error())
	require.Equal(t, n, i)
	require.NoError(t, it.Close())

	// Invalid ranges are rejected.
	require.Equal(t, ErrInvalidCompactionRange, d.Compact([]byte("z"), []byte("a")))
}

func TestIterator(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	for _, kv := range [][2]string{
		{"apple", "red"}, {"banana", "yellow"}, {"cherry", "dark"},
		{"durian", "spiky"}, {"elderberry", "purple"},
	} {
		require.NoError(t, d.Set([]byte(kv[0]), []byte(kv[1]), nil))
	}
	require.NoError(t, d.Delete([]byte("cherry"), nil))

	it := d.NewIter(nil)

	// Forward iteration skips the tombstoned key.
	var keys []string
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"apple", "banana", "durian", "elderberry"}, keys)

	// Reverse.
	keys = keys[:0]
	for it.Last(); it.Valid(); it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"elderberry", "durian", "banana", "apple"}, keys)

	// Seeks.
	require.True(t, it.SeekGE([]byte("b")))
	require.Equal(t, "banana", string(it.Key()))
	require.True(t, it.SeekGE([]byte("cherry")))
	require.Equal(t, "durian", string(it.Key()))
	require.True(t, it.SeekLT([]byte("banana")))
	require.Equal(t, "apple", string(it.Key()))
	require.False(t, it.SeekGE([]byte("zzz")))

	// Direction changes.
	require.True(t, it.SeekGE([]byte("durian")))
	require.True(t, it.Prev())
	require.Equal(t, "banana", string(it.Key()))
	require.True(t, it.Next())
	require.Equal(t, "durian", string(it.Key()))

	require.NoError(t, it.Close())

	// Bounds restrict the visible range.
	it = d.NewIter(&IterOptions{
		LowerBound: []byte("banana"),
		UpperBound: []byte("elderberry"),
	})
	keys = keys[:0]
	for it.First(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Equal(t, []string{"banana", "durian"}, keys)
	require.True(t, it.Last())
	require.Equal(t, "durian", string(it.Key()))
	require.NoError(t, it.Close())
}

func TestIteratorPointInTime(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	it := d.NewIter(nil)
	require.NoError(t, d.Set([]byte("b"), []byte("2"), nil))
	require.NoError(t, d.Set([]byte("a"), []byte("updated"), nil))

	// The iterator does not observe writes made after its creation.
	require.True(t, it.First())
	require.Equal(t, "a", string(it.Key()))
	require.Equal(t, "1", string(it.Value()))
	require.False(t, it.Next())
	require.NoError(t, it.Close())
}

func TestSnapshot(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, d.Set([]byte("b"), []byte("2"), nil))

	snap := d.NewSnapshot()
	require.EqualValues(t, 1, d.Metrics().Snapshots.Count)

	require.NoError(t, d.Set([]byte("a"), []byte("overwritten"), nil))
	require.NoError(t, d.Delete([]byte("b"), nil))

	// The snapshot still sees the old state, even after the entries have been
	// flushed and compacted.
	require.NoError(t, d.Flush())
	require.NoError(t, d.Compact([]byte("a"), []byte("c")))

	v, err := snap.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	v, err = snap.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))

	it := snap.NewIter(nil)
	require.True(t, it.First())
	require.Equal(t, "1", string(it.Value()))
	require.True(t, it.Next())
	require.Equal(t, "2", string(it.Value()))
	require.False(t, it.Next())
	require.NoError(t, it.Close())

	// The live DB sees the new state.
	v, err = d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "overwritten", string(v))
	_, err = d.Get([]byte("b"))
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, snap.Close())
	require.EqualValues(t, 0, d.Metrics().Snapshots.Count)
	require.Equal(t, ErrClosed, snap.Close())
}

func TestEstimateDiskUsage(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	for i := 0; i < 1000; i++ {
		require.NoError(t, d.Set(
			[]byte(fmt.Sprintf("key%05d", i)), make([]byte, 100), nil))
	}
	require.NoError(t, d.Flush())

	all, err := d.EstimateDiskUsage([]byte("a"), []byte("z"))
	require.NoError(t, err)
	require.Greater(t, all, uint64(0))

	half, err := d.EstimateDiskUsage([]byte("key00000"), []byte("key00500"))
	require.NoError(t, err)
	require.Less(t, half, all)

	_, err = d.EstimateDiskUsage([]byte("z"), []byte("a"))
	require.Equal(t, ErrInvalidCompactionRange, err)
}

func TestClosed(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	require.NoError(t, d.Close())

	_, err = d.Get([]byte("a"))
	require.Equal(t, ErrClosed, err)
	require.Equal(t, ErrClosed, d.Set([]byte("a"), []byte("2"), nil))
	require.Equal(t, ErrClosed, d.Flush())
	require.Equal(t, ErrClosed, d.Compact([]byte("a"), []byte("b")))
	it := d.NewIter(nil)
	require.False(t, it.First())
	require.Equal(t, ErrClosed, it.Error())
	it.Close()

	require.Equal(t, ErrClosed, d.Close())
}

func TestErrorIfExists(t *testing.T) {
	opts := testOptions()
	d, err := Open("exists", opts)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	opts.ErrorIfExists = true
	_, err = Open("exists", opts)
	require.Error(t, err)
}

func TestGetProperty(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	n, err := d.GetProperty("shale.num-files-at-level0")
	require.NoError(t, err)
	require.Equal(t, "0", n)

	s, err := d.GetProperty("shale.stats")
	require.NoError(t, err)
	require.Contains(t, s, "L0")

	_, err = d.GetProperty("shale.bogus")
	require.Error(t, err)
}

func TestConcurrentWrites(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	const workers = 8
	const perWorker = 200
	done := make(chan error, workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			var err error
			for i := 0; i < perWorker && err == nil; i++ {
				err = d.Set([]byte(fmt.Sprintf("w%02d-%04d", w, i)), []byte("v"), nil)
			}
			done <- err
		}(w)
	}
	for w := 0; w < workers; w++ {
		require.NoError(t, <-done)
	}

	it := d.NewIter(nil)
	n := 0
	for it.First(); it.Valid(); it.Next() {
		n++
	}
	require.Equal(t, workers*perWorker, n)
	require.NoError(t, it.Close())
}
