// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

// Package bloom implements Bloom filters in the classic Level-DB format.
//
// A filter for n keys with b bits per key occupies max(64, n*b) bits,
// rounded up to a whole number of bytes, followed by a single byte holding
// the number of probes k. Probing uses double hashing: successive probe
// positions are derived from a single 32-bit hash of the key by repeatedly
// adding a rotation of that hash.
package bloom

import (
	"fmt"

	"github.com/shaledb/shale/internal/base"
)

// FilterPolicy implements the base.FilterPolicy interface from the
// internal/base package.
//
// The integer value of the filter policy is the number of bits per key. For
// example, FilterPolicy(10) is the popular choice yielding a filter with
// roughly a 1% false positive rate.
type FilterPolicy int

var _ base.FilterPolicy = FilterPolicy(0)

// Name implements the base.FilterPolicy interface.
func (p FilterPolicy) Name() string {
	// This string looks arbitrary, but its value is written to Level-DB
	// .sst files, and should be this exact value to be compatible with
	// those files and with the C++ Level-DB code.
	return "leveldb.BuiltinBloomFilter2"
}

// AppendFilter implements the base.FilterPolicy interface.
func (p FilterPolicy) AppendFilter(dst []byte, keys [][]byte) []byte {
	bitsPerKey := int(p)
	if bitsPerKey < 0 {
		bitsPerKey = 0
	}
	// 0.69 is approximately ln(2), and rounding to the nearest integer gives
	// the probe count that minimizes the false positive rate.
	k := uint32(float64(bitsPerKey)*0.69 + 0.5)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}

	nBits := len(keys) * bitsPerKey
	// For small len(keys), we fix a minimum filter length to reduce the
	// false positive rate.
	if nBits < 64 {
		nBits = 64
	}
	nBytes := (nBits + 7) / 8
	nBits = nBytes * 8

	offset := len(dst)
	for i := 0; i < nBytes+1; i++ {
		dst = append(dst, 0)
	}
	filter := dst[offset : offset+nBytes]

	for _, key := range keys {
		h := hash(key)
		delta := h>>17 | h<<15
		for j := uint32(0); j < k; j++ {
			bitPos := h % uint32(nBits)
			filter[bitPos/8] |= 1 << (bitPos % 8)
			h += delta
		}
	}
	dst[offset+nBytes] = byte(k)

	return dst
}

// MayContain implements the base.FilterPolicy interface.
func (p FilterPolicy) MayContain(filter, key []byte) bool {
	if len(filter) < 2 {
		return false
	}
	k := filter[len(filter)-1]
	if k > 30 {
		// This is reserved for potentially new encodings. Consider it a
		// match.
		return true
	}
	nBits := uint32(8 * (len(filter) - 1))
	h := hash(key)
	delta := h>>17 | h<<15
	for j := uint8(0); j < k; j++ {
		bitPos := h % nBits
		if filter[bitPos/8]&(1<<(bitPos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

func (p FilterPolicy) String() string {
	return fmt.Sprintf("bloom(bits_per_key=%d)", int(p))
}

// hash implements a hashing algorithm similar to the Murmur hash. It is the
// same algorithm as the C++ Level-DB BloomHash, including its use of signed
// chars for the remainder bytes.
func hash(b []byte) uint32 {
	const (
		seed = 0xbc9f1d34
		m    = 0xc6a4a793
	)
	h := uint32(seed) ^ uint32(len(b))*m
	for ; len(b) >= 4; b = b[4:] {
		h += uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		h *= m
		h ^= h >> 16
	}

	// The code below first casts each byte to a signed 8-bit integer. This
	// is necessary to match the behavior of the C++ code, where the char type
	// is signed by default.
	switch len(b) {
	case 3:
		h += uint32(int32(int8(b[2]))) << 16
		fallthrough
	case 2:
		h += uint32(int32(int8(b[1]))) << 8
		fallthrough
	case 1:
		h += uint32(int32(int8(b[0])))
		h *= m
		h ^= h >> 24
	}
	return h
}
