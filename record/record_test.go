// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package record

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testGenerator(t *testing.T, reset func(), gen func() (string, bool)) {
	buf := new(bytes.Buffer)

	reset()
	w := NewWriter(buf)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		_, err := w.WriteRecord([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	reset()
	r := NewReader(buf)
	for {
		s, ok := gen()
		if !ok {
			break
		}
		rr, err := r.Next()
		require.NoError(t, err)
		x, err := io.ReadAll(rr)
		require.NoError(t, err)
		require.Equal(t, s, string(x))
	}
	_, err := r.Next()
	require.Equal(t, io.EOF, err)
}

func testLiterals(t *testing.T, s []string) {
	var i int
	reset := func() { i = 0 }
	gen := func() (string, bool) {
		if i == len(s) {
			return "", false
		}
		i++
		return s[i-1], true
	}
	testGenerator(t, reset, gen)
}

func TestEmpty(t *testing.T) {
	testGenerator(t, func() {}, func() (string, bool) { return "", false })
}

func TestMany(t *testing.T) {
	const n = 1e5
	var i int
	reset := func() { i = 0 }
	gen := func() (string, bool) {
		if i == n {
			return "", false
		}
		i++
		return fmt.Sprintf("%d.", i-1), true
	}
	testGenerator(t, reset, gen)
}

func TestRandom(t *testing.T) {
	const n = 1e2
	var i int
	var r uint64 = 1
	reset := func() {
		i, r = 0, 1
	}
	gen := func() (string, bool) {
		if i == n {
			return "", false
		}
		i++
		// A simple linear congruential generator keeps the two generator
		// passes in sync.
		r = r*1103515245 + 12345
		return strings.Repeat(string(rune('a'+i%26)), int(r%10000)), true
	}
	testGenerator(t, reset, gen)
}

func TestBoundary(t *testing.T) {
	// Records sized to land chunk headers exactly at and around the 32KB
	// block boundary.
	for _, n := range []int{blockSize - headerSize - 1, blockSize - headerSize,
		blockSize - headerSize + 1, blockSize, blockSize + 1, 2*blockSize - 10} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			testLiterals(t, []string{
				strings.Repeat("a", n),
				"small",
				strings.Repeat("b", blockSize),
			})
		})
	}
}

func TestStaleReader(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("0"))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("1"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r := NewReader(buf)
	r0, err := r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(r0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stale")
}

func TestTruncatedTail(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("first"))
	require.NoError(t, err)
	_, err = w.WriteRecord([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Truncate into the second record's chunk.
	b := buf.Bytes()
	b = b[:len(b)-3]

	r := NewReader(bytes.NewReader(b))
	rr, err := r.Next()
	require.NoError(t, err)
	x, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "first", string(x))

	_, err = r.Next()
	require.Error(t, err)
	require.True(t, IsInvalidRecord(err))
}

func TestZeroedTail(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Preallocated log space reads back as zeroes.
	b := append(buf.Bytes(), make([]byte, 64)...)

	r := NewReader(bytes.NewReader(b))
	rr, err := r.Next()
	require.NoError(t, err)
	x, err := io.ReadAll(rr)
	require.NoError(t, err)
	require.Equal(t, "first", string(x))

	_, err = r.Next()
	require.Equal(t, ErrZeroedChunk, err)
	require.True(t, IsInvalidRecord(err))
}

func TestCorruptChunk(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a payload bit so the checksum fails.
	b := buf.Bytes()
	b[headerSize] ^= 0x80

	r := NewReader(bytes.NewReader(b))
	_, err = r.Next()
	require.Equal(t, ErrInvalidChunk, err)
}

func TestWriterFlush(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)
	_, err := w.WriteRecord([]byte("hello"))
	require.NoError(t, err)
	// Nothing reaches the underlying writer until a flush.
	require.Equal(t, 0, buf.Len())
	require.NoError(t, w.Flush())
	require.Equal(t, headerSize+len("hello"), buf.Len())
}
