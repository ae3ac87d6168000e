// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternalKeyEncodeDecode(t *testing.T) {
	testCases := []struct {
		userKey []byte
		seqNum  SeqNum
		kind    InternalKeyKind
	}{
		{nil, 0, InternalKeyKindDelete},
		{[]byte(""), 0, InternalKeyKindSet},
		{[]byte("foo"), 1, InternalKeyKindSet},
		{[]byte("bar"), 1<<56 - 1, InternalKeyKindDelete},
	}
	for _, c := range testCases {
		k := MakeInternalKey(c.userKey, c.seqNum, c.kind)
		buf := make([]byte, k.Size())
		k.Encode(buf)
		d := DecodeInternalKey(buf)
		require.True(t, bytes.Equal(c.userKey, d.UserKey))
		require.Equal(t, c.seqNum, d.SeqNum())
		require.Equal(t, c.kind, d.Kind())
	}
}

func TestInternalCompare(t *testing.T) {
	// Keys in the expected internal ordering: ascending user key, and within
	// a user key descending sequence number.
	keys := []InternalKey{
		MakeInternalKey([]byte("a"), 2, InternalKeyKindSet),
		MakeInternalKey([]byte("a"), 1, InternalKeyKindSet),
		MakeSearchKey([]byte("b")),
		MakeInternalKey([]byte("b"), 100, InternalKeyKindDelete),
		MakeInternalKey([]byte("b"), 99, InternalKeyKindSet),
		MakeInternalKey([]byte("c"), 1, InternalKeyKindSet),
	}
	cmp := DefaultComparer.Compare
	for i := range keys {
		for j := range keys {
			got := InternalCompare(cmp, keys[i], keys[j])
			switch {
			case i < j:
				require.Negative(t, got, "%s vs %s", keys[i], keys[j])
			case i > j:
				require.Positive(t, got, "%s vs %s", keys[i], keys[j])
			default:
				require.Zero(t, got)
			}
		}
	}
}

func TestInternalKeyVisible(t *testing.T) {
	k := MakeInternalKey([]byte("a"), 5, InternalKeyKindSet)
	// An entry is visible at boundary b when its sequence number is below b.
	require.False(t, k.Visible(5))
	require.True(t, k.Visible(6))
	require.False(t, k.Visible(0))
}

func TestInternalKeyClone(t *testing.T) {
	buf := []byte("abc")
	k := MakeInternalKey(buf, 1, InternalKeyKindSet)
	c := k.Clone()
	buf[0] = 'x'
	require.Equal(t, []byte("abc"), c.UserKey)
	require.Equal(t, k.Trailer, c.Trailer)
}

func TestSeparatorSuccessor(t *testing.T) {
	cmp := DefaultComparer
	// The separator is >= a and < b, and ideally shorter than a.
	sep := cmp.Separator(nil, []byte("black"), []byte("blue"))
	require.True(t, cmp.Compare(sep, []byte("black")) >= 0)
	require.True(t, cmp.Compare(sep, []byte("blue")) < 0)

	// When the bound does not help, the separator is the key itself.
	sep = cmp.Separator(nil, []byte("blue"), []byte("blue1"))
	require.Equal(t, []byte("blue"), sep)

	succ := cmp.Successor(nil, []byte("black"))
	require.True(t, cmp.Compare(succ, []byte("black")) >= 0)
	require.True(t, len(succ) <= len("black"))
}
