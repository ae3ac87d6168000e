// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package arenaskl

import (
	"fmt"
	"sync"
	"testing"

	"github.com/shaledb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func makeKey(s string, seqNum base.SeqNum) base.InternalKey {
	return base.MakeInternalKey([]byte(s), seqNum, base.InternalKeyKindSet)
}

func newTestSkiplist(size uint32) *Skiplist {
	return NewSkiplist(NewArena(size), base.DefaultComparer.Compare)
}

func TestEmpty(t *testing.T) {
	s := newTestSkiplist(1 << 16)
	it := s.NewIter()
	it.First()
	require.False(t, it.Valid())
	it.Last()
	require.False(t, it.Valid())
	it.SeekGE(makeKey("a", 1))
	require.False(t, it.Valid())
}

func TestAddAndSeek(t *testing.T) {
	s := newTestSkiplist(1 << 16)
	for _, k := range []string{"banana", "apple", "cherry"} {
		require.NoError(t, s.Add(makeKey(k, 1), []byte("v-"+k)))
	}

	it := s.NewIter()
	it.First()
	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key().UserKey))
	}
	require.Equal(t, []string{"apple", "banana", "cherry"}, got)

	it.SeekGE(makeKey("b", 1))
	require.True(t, it.Valid())
	require.Equal(t, "banana", string(it.Key().UserKey))
	require.Equal(t, "v-banana", string(it.Value()))

	it.SeekLT(makeKey("banana", base.SeqNumMax))
	require.True(t, it.Valid())
	require.Equal(t, "apple", string(it.Key().UserKey))

	it.Last()
	require.Equal(t, "cherry", string(it.Key().UserKey))
	it.Prev()
	require.Equal(t, "banana", string(it.Key().UserKey))
}

func TestVersionOrdering(t *testing.T) {
	// Multiple versions of the same user key sort by descending sequence
	// number.
	s := newTestSkiplist(1 << 16)
	require.NoError(t, s.Add(makeKey("a", 1), []byte("old")))
	require.NoError(t, s.Add(makeKey("a", 2), []byte("new")))

	it := s.NewIter()
	it.First()
	require.EqualValues(t, 2, it.Key().SeqNum())
	require.Equal(t, "new", string(it.Value()))
	it.Next()
	require.EqualValues(t, 1, it.Key().SeqNum())
	it.Next()
	require.False(t, it.Valid())
}

func TestRecordExists(t *testing.T) {
	s := newTestSkiplist(1 << 16)
	require.NoError(t, s.Add(makeKey("a", 1), nil))
	require.Equal(t, ErrRecordExists, s.Add(makeKey("a", 1), nil))
}

func TestArenaFull(t *testing.T) {
	s := newTestSkiplist(1 << 10)
	var err error
	for i := 0; err == nil; i++ {
		err = s.Add(makeKey(fmt.Sprintf("%08d", i), 1), make([]byte, 64))
	}
	require.Equal(t, ErrArenaFull, err)
}

func TestConcurrentAdd(t *testing.T) {
	const workers = 8
	const perWorker = 200

	s := newTestSkiplist(8 << 20)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := makeKey(fmt.Sprintf("%02d-%04d", w, i), 1)
				if err := s.Add(key, []byte{byte(w)}); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	it := s.NewIter()
	n := 0
	var prev base.InternalKey
	for it.First(); it.Valid(); it.Next() {
		if n > 0 {
			require.Negative(t, base.InternalCompare(
				base.DefaultComparer.Compare, prev, it.Key()))
		}
		prev = it.Key().Clone()
		n++
	}
	require.Equal(t, workers*perWorker, n)
}
