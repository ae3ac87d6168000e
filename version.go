// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/shaledb/shale/internal/base"
)

// numLevels is the number of levels a version contains.
const numLevels = 7

// fileMetadata holds the metadata for an on-disk table. The metadata is
// immutable once the table has been added to a version.
type fileMetadata struct {
	// fileNum is the file number.
	fileNum uint64
	// size is the size of the file, in bytes.
	size uint64
	// smallest and largest are the inclusive bounds for the internal keys
	// stored in the table.
	smallest base.InternalKey
	largest  base.InternalKey
}

func (f fileMetadata) String() string {
	return fmt.Sprintf("%06d:[%s-%s]", f.fileNum, f.smallest, f.largest)
}

func totalSize(f []fileMetadata) (size uint64) {
	for _, x := range f {
		size += x.size
	}
	return size
}

// ikeyRange returns the minimum smallest and maximum largest internal keys
// for all the fileMetadata in the two slices.
func ikeyRange(ucmp base.Compare, f0, f1 []fileMetadata) (smallest, largest base.InternalKey) {
	first := true
	for _, f := range [2][]fileMetadata{f0, f1} {
		for _, meta := range f {
			if first {
				first = false
				smallest, largest = meta.smallest, meta.largest
				continue
			}
			if base.InternalCompare(ucmp, meta.smallest, smallest) < 0 {
				smallest = meta.smallest
			}
			if base.InternalCompare(ucmp, meta.largest, largest) > 0 {
				largest = meta.largest
			}
		}
	}
	return smallest, largest
}

// version is a collection of table file metadata for on-disk tables at
// various levels. In-memory DBs are written to L0 tables, and compactions
// migrate data from level N to level N+1. The tables in L0 may overlap each
// other, but the tables in any deeper level have disjoint, sorted key
// ranges.
type version struct {
	refs int32

	files [numLevels][]fileMetadata

	// The callback to invoke when the last reference to a version is
	// removed. Will be called with list.mu held.
	deleted func(obsolete []uint64)

	// The level of the next compaction to perform, and the score of that
	// level. A score >= 1 means that a compaction is needed.
	compactionScore float64
	compactionLevel int

	// The list the version is linked into.
	list *versionList

	// The next/prev link for the versionList doubly-linked list of
	// versions.
	prev, next *version
}

func (v *version) String() string {
	var buf bytes.Buffer
	for level := 0; level < numLevels; level++ {
		if len(v.files[level]) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "%d:", level)
		for j := range v.files[level] {
			f := &v.files[level][j]
			fmt.Fprintf(&buf, " %s", f)
		}
		fmt.Fprintf(&buf, "\n")
	}
	return buf.String()
}

func (v *version) ref() {
	v.refs++
}

func (v *version) unref() {
	v.refs--
	if v.refs == 0 {
		obsolete := v.unrefFiles()
		l := v.list
		l.remove(v)
		if v.deleted != nil {
			v.deleted(obsolete)
		}
	}
}

// unrefFiles returns the file numbers of any tables that are not present in
// any other live version. A table may appear in multiple versions; it is
// obsolete only when the last version holding it is released.
func (v *version) unrefFiles() []uint64 {
	still := make(map[uint64]bool)
	for w := v.list.front(); w != nil; w = v.list.next(w) {
		if w == v {
			continue
		}
		for level := 0; level < numLevels; level++ {
			for i := range w.files[level] {
				still[w.files[level][i].fileNum] = true
			}
		}
	}
	var obsolete []uint64
	for level := 0; level < numLevels; level++ {
		for i := range v.files[level] {
			if n := v.files[level][i].fileNum; !still[n] {
				obsolete = append(obsolete, n)
			}
		}
	}
	return obsolete
}

// overlaps returns all elements of v.files[level] whose user key range
// overlaps the inclusive range [start, end]. If level is non-zero then the
// user key ranges of v.files[level] are disjoint, and the files are sorted
// by their range. If level is zero then that property does not hold, and
// additionally the resulting set of files is grown until it is
// "transitively closed": if a file in the set overlaps another L0 file, that
// file joins the set and the search range expands.
func (v *version) overlaps(level int, ucmp base.Compare, start, end []byte) (ret []fileMetadata) {
	if level == 0 {
		// Indices that have been selected as overlapping.
		selected := make([]bool, len(v.files[level]))
		for {
			restart := false
			for i := range v.files[level] {
				if selected[i] {
					continue
				}
				meta := &v.files[level][i]
				smallest := meta.smallest.UserKey
				largest := meta.largest.UserKey
				if ucmp(largest, start) < 0 || ucmp(smallest, end) > 0 {
					// The file does not overlap the range.
					continue
				}
				selected[i] = true

				// Expand the search range and restart if the newly selected
				// file widens it.
				if ucmp(smallest, start) < 0 {
					start = smallest
					restart = true
				}
				if ucmp(largest, end) > 0 {
					end = largest
					restart = true
				}
			}
			if !restart {
				for i, b := range selected {
					if b {
						ret = append(ret, v.files[level][i])
					}
				}
				return ret
			}
			for i := range selected {
				selected[i] = false
			}
			ret = ret[:0]
		}
	}

	// Binary search for the file whose largest key is >= start.
	files := v.files[level]
	i := sort.Search(len(files), func(j int) bool {
		return ucmp(files[j].largest.UserKey, start) >= 0
	})
	for ; i < len(files); i++ {
		if ucmp(files[i].smallest.UserKey, end) > 0 {
			break
		}
		ret = append(ret, files[i])
	}
	return ret
}

// checkOrdering checks that the files are consistent with respect to
// increasing file numbers (for level 0 files) and increasing and
// non-overlapping internal key ranges (for levels non-0).
func (v *version) checkOrdering(cmp base.Compare) error {
	for level, ff := range v.files {
		if level == 0 {
			// L0 files overlap arbitrarily. They are sorted by decreasing
			// largest sequence number, newest first.
			for i := 1; i < len(ff); i++ {
				prev := &ff[i-1]
				f := &ff[i]
				if prev.largest.SeqNum() < f.largest.SeqNum() {
					return base.CorruptionErrorf(
						"L0 files %06d and %06d are not properly ordered: %d < %d",
						prev.fileNum, f.fileNum, prev.largest.SeqNum(), f.largest.SeqNum())
				}
			}
			continue
		}
		for i := 1; i < len(ff); i++ {
			prev := &ff[i-1]
			f := &ff[i]
			if base.InternalCompare(cmp, prev.largest, f.smallest) >= 0 {
				return base.CorruptionErrorf(
					"L%d files %06d and %06d have overlapping ranges: [%s-%s] vs [%s-%s]",
					level, prev.fileNum, f.fileNum,
					prev.smallest, prev.largest, f.smallest, f.largest)
			}
		}
	}
	return nil
}

// get looks up the newest entry for ikey.UserKey at or after ikey in the
// version's tables. L0 tables are consulted newest first. At deeper levels
// the table ranges are disjoint, so at most one table per level can contain
// the key.
func (v *version) get(
	ikey base.InternalKey, tc *tableCache, ucmp base.Compare,
) (base.InternalKey, []byte, error) {
	for _, f := range v.files[0] {
		if ucmp(ikey.UserKey, f.smallest.UserKey) < 0 ||
			ucmp(ikey.UserKey, f.largest.UserKey) > 0 {
			continue
		}
		k, val, err := tc.get(f.fileNum, ikey)
		if err == nil {
			return k, val, nil
		}
		if err != base.ErrNotFound {
			return base.InternalKey{}, nil, err
		}
	}

	for level := 1; level < numLevels; level++ {
		files := v.files[level]
		i := sort.Search(len(files), func(j int) bool {
			return ucmp(files[j].largest.UserKey, ikey.UserKey) >= 0
		})
		if i >= len(files) {
			continue
		}
		f := &files[i]
		if ucmp(ikey.UserKey, f.smallest.UserKey) < 0 {
			continue
		}
		k, val, err := tc.get(f.fileNum, ikey)
		if err == nil {
			return k, val, nil
		}
		if err != base.ErrNotFound {
			return base.InternalKey{}, nil, err
		}
	}
	return base.InternalKey{}, nil, base.ErrNotFound
}

// versionList implements a doubly-linked list of versions, protected by the
// DB mutex.
type versionList struct {
	root version
}

func (l *versionList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *versionList) empty() bool {
	return l.root.next == &l.root
}

func (l *versionList) front() *version {
	if l.empty() {
		return nil
	}
	return l.root.next
}

func (l *versionList) back() *version {
	if l.empty() {
		return nil
	}
	return l.root.prev
}

func (l *versionList) next(v *version) *version {
	if v.next == &l.root {
		return nil
	}
	return v.next
}

func (l *versionList) pushBack(v *version) {
	if v.list != nil || v.prev != nil || v.next != nil {
		panic("shale: version list is inconsistent")
	}
	v.prev = l.root.prev
	v.prev.next = v
	v.next = &l.root
	v.next.prev = v
	v.list = l
}

func (l *versionList) remove(v *version) {
	if v == &l.root {
		panic("shale: cannot remove version list root node")
	}
	if v.list != l {
		panic("shale: version list is inconsistent")
	}
	v.prev.next = v.next
	v.next.prev = v.prev
	v.next = nil // avoid memory leaks
	v.prev = nil // avoid memory leaks
	v.list = nil // avoid memory leaks
}
