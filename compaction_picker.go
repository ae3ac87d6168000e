// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"github.com/shaledb/shale/internal/base"
)

// maxBytesForLevel returns the soft maximum number of bytes for the given
// level. L0 is scored by file count instead, since its files overlap and a
// read may need to consult all of them.
func maxBytesForLevel(opts *Options, level int) float64 {
	result := float64(opts.LBaseMaxBytes)
	for l := 1; l < level; l++ {
		result *= 10
	}
	return result
}

// maxGrandparentOverlapBytes is the soft limit on the number of bytes of
// overlap with level+2 before an output table is cut. It limits the cost of
// the future compaction of that output.
func maxGrandparentOverlapBytes(opts *Options) uint64 {
	return uint64(10 * opts.TargetFileSize)
}

// expandedCompactionByteSizeLimit is the limit on the total size of an
// expanded compaction.
func expandedCompactionByteSizeLimit(opts *Options) uint64 {
	return uint64(25 * opts.TargetFileSize)
}

// growIterationLimit bounds the number of times a compaction's seed file
// set is re-expanded. Each iteration can only grow the input set, so the
// expansion reaches a fixed point quickly in practice; the limit guards
// against pathological file layouts.
const growIterationLimit = 4

// updateCompactionScore computes the level that most needs compacting and
// its score. A score >= 1 means a compaction is needed: L0 is scored by
// file count relative to L0CompactionThreshold, deeper levels by total byte
// size relative to the level's byte budget. The final level is never scored
// as there is nowhere to compact it into.
func updateCompactionScore(opts *Options, v *version) {
	v.compactionScore = float64(len(v.files[0])) / float64(opts.L0CompactionThreshold)
	v.compactionLevel = 0
	for level := 1; level < numLevels-1; level++ {
		score := float64(totalSize(v.files[level])) / maxBytesForLevel(opts, level)
		if score > v.compactionScore {
			v.compactionScore = score
			v.compactionLevel = level
		}
	}
}

// pickCompaction picks the next compaction to perform, if any. Requires
// DB.mu is held.
func (d *DB) pickCompaction() *compaction {
	v := d.mu.versions.currentVersion()
	updateCompactionScore(d.opts, v)
	if v.compactionScore < 1 {
		return nil
	}
	level := v.compactionLevel
	c := newCompaction(d.opts, v, level)

	// Pick the first file that comes after the compaction pointer for the
	// level, wrapping to the first file if the pointer points past all of
	// them. This round-robin choice spreads the compaction work across the
	// level's keyspace over time.
	cptr := d.mu.versions.compactPointers[level]
	if cptr.UserKey != nil {
		for _, f := range v.files[level] {
			if base.InternalCompare(d.cmp.Compare, f.largest, cptr) > 0 {
				c.inputs[0] = []fileMetadata{f}
				break
			}
		}
	}
	if len(c.inputs[0]) == 0 {
		c.inputs[0] = []fileMetadata{v.files[level][0]}
	}

	if level == 0 {
		// L0 files overlap each other, so include every transitively
		// overlapping file in the seed set.
		smallest, largest := ikeyRange(d.cmp.Compare, c.inputs[0], nil)
		c.inputs[0] = v.overlaps(0, d.cmp.Compare, smallest.UserKey, largest.UserKey)
		if len(c.inputs[0]) == 0 {
			panic("shale: empty compaction")
		}
	}

	c.setupOtherInputs(d)
	return c
}

// pickManualCompaction picks the files overlapping the given user key
// range at the given level. It returns nil if the level holds no
// overlapping files.
func (d *DB) pickManualCompaction(level int, start, end []byte) *compaction {
	v := d.mu.versions.currentVersion()
	c := newCompaction(d.opts, v, level)
	c.inputs[0] = v.overlaps(level, d.cmp.Compare, start, end)
	if len(c.inputs[0]) == 0 {
		return nil
	}
	c.setupOtherInputs(d)
	return c
}

// setupOtherInputs determines the level+1 files that overlap the seed
// files, opportunistically growing the seed set when doing so pulls no
// additional level+1 files into the compaction, and records the
// grandparent (level+2) files used to bound output table sizes.
func (c *compaction) setupOtherInputs(d *DB) {
	cmp := c.cmp.Compare
	c.smallest, c.largest = ikeyRange(cmp, c.inputs[0], nil)
	c.inputs[1] = c.version.overlaps(c.level+1, cmp, c.smallest.UserKey, c.largest.UserKey)
	c.smallest, c.largest = ikeyRange(cmp, c.inputs[0], c.inputs[1])

	// Grow the inputs: if the union range of both input levels overlaps
	// more files in the seed level, and adding those files does not change
	// the set of level+1 files, widening the compaction is free. Each
	// widening can expose further candidates, so iterate to a fixed point,
	// with a limit.
	for i := 0; i < growIterationLimit; i++ {
		grown := c.version.overlaps(c.level, cmp, c.smallest.UserKey, c.largest.UserKey)
		if len(grown) <= len(c.inputs[0]) {
			break
		}
		if totalSize(grown)+totalSize(c.inputs[1]) >= expandedCompactionByteSizeLimit(d.opts) {
			break
		}
		sm1, la1 := ikeyRange(cmp, grown, nil)
		grown1 := c.version.overlaps(c.level+1, cmp, sm1.UserKey, la1.UserKey)
		if len(grown1) != len(c.inputs[1]) {
			break
		}
		c.inputs[0] = grown
		c.smallest, c.largest = ikeyRange(cmp, c.inputs[0], c.inputs[1])
	}

	// Compute the set of grandparent files that overlap this compaction.
	if c.level+2 < numLevels {
		c.grandparents = c.version.overlaps(c.level+2, cmp, c.smallest.UserKey, c.largest.UserKey)
	}
}
