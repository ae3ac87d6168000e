// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package bloom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key%06d", i))
	}
	filter := FilterPolicy(10).AppendFilter(nil, keys)
	for _, key := range keys {
		require.True(t, FilterPolicy(10).MayContain(filter, key))
	}
}

func TestFalsePositiveRate(t *testing.T) {
	keys := make([][]byte, 10000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key%06d", i))
	}
	filter := FilterPolicy(10).AppendFilter(nil, keys)

	fp := 0
	const probes = 10000
	for i := 0; i < probes; i++ {
		if FilterPolicy(10).MayContain(filter, []byte(fmt.Sprintf("absent%06d", i))) {
			fp++
		}
	}
	// 10 bits per key yields a theoretical false positive rate just under 1%.
	if got := float64(fp) / probes; got > 0.02 {
		t.Errorf("false positive rate %f is too high", got)
	}
}

func TestProbeCountClamp(t *testing.T) {
	keys := [][]byte{[]byte("a")}
	// Absurdly high bits-per-key settings clamp the probe count at 30.
	filter := FilterPolicy(1000).AppendFilter(nil, keys)
	require.EqualValues(t, 30, filter[len(filter)-1])

	// Zero bits per key still uses at least one probe.
	filter = FilterPolicy(0).AppendFilter(nil, keys)
	require.EqualValues(t, 1, filter[len(filter)-1])
}

func TestShortFilter(t *testing.T) {
	// A filter too short to hold the probe count byte never matches.
	require.False(t, FilterPolicy(10).MayContain(nil, []byte("a")))
	require.False(t, FilterPolicy(10).MayContain([]byte{0x01}, []byte("a")))
}

func TestUnknownProbeCount(t *testing.T) {
	// A probe count above 30 marks an unknown encoding and must match every
	// key rather than risk a false negative.
	filter := []byte{0x00, 0x00, 31}
	require.True(t, FilterPolicy(10).MayContain(filter, []byte("a")))
}

func TestSmallKeySet(t *testing.T) {
	keys := [][]byte{[]byte("hello"), []byte("world")}
	filter := FilterPolicy(10).AppendFilter(nil, keys)
	// Minimum filter size is 64 bits plus the probe count byte.
	require.Equal(t, 9, len(filter))
	require.True(t, FilterPolicy(10).MayContain(filter, []byte("hello")))
	require.True(t, FilterPolicy(10).MayContain(filter, []byte("world")))
	require.False(t, FilterPolicy(10).MayContain(filter, []byte("x")))
}

func TestAppendPreservesPrefix(t *testing.T) {
	prefix := []byte("existing")
	filter := FilterPolicy(10).AppendFilter(prefix, [][]byte{[]byte("k")})
	require.Equal(t, prefix, filter[:len(prefix)])
	require.True(t, FilterPolicy(10).MayContain(filter[len(prefix):], []byte("k")))
}

func TestHash(t *testing.T) {
	// The hash of the empty key is the raw seed, per the C++ Level-DB hash.
	if got := hash(nil); got != 0xbc9f1d34 {
		t.Errorf("hash(nil) = 0x%08x, want 0xbc9f1d34", got)
	}
	// Keys differing only in their final byte must hash differently.
	if hash([]byte("abcdef1")) == hash([]byte("abcdef2")) {
		t.Error("expected distinct hashes")
	}
}
