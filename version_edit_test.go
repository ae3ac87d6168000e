// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"
	"testing"

	"github.com/shaledb/shale/internal/base"
	"github.com/stretchr/testify/require"
)

func mkKey(s string, seqNum base.SeqNum) base.InternalKey {
	return base.MakeInternalKey([]byte(s), seqNum, base.InternalKeyKindSet)
}

func TestVersionEditRoundTrip(t *testing.T) {
	ve := versionEdit{
		comparatorName: "leveldb.BytewiseComparator",
		logNumber:      7,
		nextFileNumber: 42,
		lastSequence:   1001,
		compactPointers: []compactPointerEntry{
			{level: 2, key: mkKey("pointer", 99)},
		},
		deletedFiles: map[deletedFileEntry]bool{
			{level: 1, fileNum: 12}: true,
			{level: 2, fileNum: 13}: true,
		},
		newFiles: []newFileEntry{
			{
				level: 1,
				meta: fileMetadata{
					fileNum:  20,
					size:     4096,
					smallest: mkKey("apple", 5),
					largest:  mkKey("banana", 9),
				},
			},
			{
				level: 2,
				meta: fileMetadata{
					fileNum:  21,
					size:     8192,
					smallest: mkKey("cherry", 1),
					largest:  mkKey("durian", 3),
				},
			},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, ve.encode(&buf))

	var got versionEdit
	require.NoError(t, got.decode(&buf))
	require.Equal(t, ve, got)
}

func TestVersionEditDecodeCorrupt(t *testing.T) {
	// An unknown tag marks a corrupt manifest.
	var ve versionEdit
	err := ve.decode(bytes.NewReader([]byte{200, 1}))
	require.Error(t, err)

	// A truncated payload does too.
	ve = versionEdit{logNumber: 7}
	var buf bytes.Buffer
	require.NoError(t, ve.encode(&buf))
	var got versionEdit
	err = got.decode(bytes.NewReader(buf.Bytes()[:buf.Len()-1]))
	require.Error(t, err)
}

func TestVersionEditLevelBounds(t *testing.T) {
	ve := versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: numLevels, fileNum: 1}: true,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, ve.encode(&buf))
	var got versionEdit
	require.Error(t, got.decode(&buf))
}

func TestBulkVersionEditApply(t *testing.T) {
	cmp := base.DefaultComparer.Compare
	base0 := &version{}
	base0.files[1] = []fileMetadata{
		{fileNum: 1, smallest: mkKey("a", 1), largest: mkKey("c", 1)},
		{fileNum: 2, smallest: mkKey("d", 1), largest: mkKey("f", 1)},
	}

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 1, fileNum: 1}: true,
		},
		newFiles: []newFileEntry{
			{level: 1, meta: fileMetadata{
				fileNum: 3, smallest: mkKey("g", 2), largest: mkKey("i", 2)}},
		},
	})
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 1, meta: fileMetadata{
				fileNum: 4, smallest: mkKey("j", 3), largest: mkKey("l", 3)}},
		},
	})

	v, err := bve.apply(base0, cmp)
	require.NoError(t, err)
	require.Len(t, v.files[1], 3)
	// Deeper levels sort by smallest key.
	require.Equal(t, uint64(2), v.files[1][0].fileNum)
	require.Equal(t, uint64(3), v.files[1][1].fileNum)
	require.Equal(t, uint64(4), v.files[1][2].fileNum)
}

func TestBulkVersionEditAddThenDelete(t *testing.T) {
	// A file added and deleted across accumulated edits, in either order,
	// resolves correctly.
	cmp := base.DefaultComparer.Compare

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 2, meta: fileMetadata{
				fileNum: 7, smallest: mkKey("a", 1), largest: mkKey("b", 1)}},
		},
	})
	bve.accumulate(&versionEdit{
		deletedFiles: map[deletedFileEntry]bool{
			{level: 2, fileNum: 7}: true,
		},
		newFiles: []newFileEntry{
			{level: 3, meta: fileMetadata{
				fileNum: 8, smallest: mkKey("a", 1), largest: mkKey("b", 1)}},
		},
	})

	v, err := bve.apply(nil, cmp)
	require.NoError(t, err)
	require.Empty(t, v.files[2])
	require.Len(t, v.files[3], 1)
	require.Equal(t, uint64(8), v.files[3][0].fileNum)
}

func TestBulkVersionEditL0Ordering(t *testing.T) {
	// L0 files sort newest first, by largest sequence number.
	cmp := base.DefaultComparer.Compare

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 0, meta: fileMetadata{
				fileNum: 1, smallest: mkKey("a", 1), largest: mkKey("z", 2)}},
			{level: 0, meta: fileMetadata{
				fileNum: 2, smallest: mkKey("a", 3), largest: mkKey("z", 9)}},
		},
	})
	v, err := bve.apply(nil, cmp)
	require.NoError(t, err)
	require.Equal(t, uint64(2), v.files[0][0].fileNum)
	require.Equal(t, uint64(1), v.files[0][1].fileNum)
}

func TestBulkVersionEditOverlapError(t *testing.T) {
	// Overlapping tables within a deeper level fail the ordering check.
	cmp := base.DefaultComparer.Compare

	var bve bulkVersionEdit
	bve.accumulate(&versionEdit{
		newFiles: []newFileEntry{
			{level: 1, meta: fileMetadata{
				fileNum: 1, smallest: mkKey("a", 1), largest: mkKey("m", 1)}},
			{level: 1, meta: fileMetadata{
				fileNum: 2, smallest: mkKey("g", 2), largest: mkKey("z", 2)}},
		},
	})
	_, err := bve.apply(nil, cmp)
	require.Error(t, err)
}
