// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
)

// LevelMetrics holds per-level metrics.
type LevelMetrics struct {
	// NumFiles is the number of sstables in the level.
	NumFiles int64
	// Size is the total byte size of the sstables in the level.
	Size uint64
	// Score is the level's fullness relative to its compaction threshold. A
	// score of 1.0 or above means the level is eligible for compaction.
	Score float64
}

// Metrics holds metrics for the DB.
type Metrics struct {
	Levels [numLevels]LevelMetrics

	MemTable struct {
		// Size is the total byte size of the memtables, mutable and queued.
		Size uint64
		// Count is the number of memtables, including those waiting to be
		// flushed.
		Count int64
	}

	WAL struct {
		// FileNum is the file number of the current WAL.
		FileNum uint64
	}

	Flush struct {
		// Count is the number of flushes performed since the DB was opened.
		Count int64
		// WriteBytes is the number of table bytes written by flushes.
		WriteBytes uint64
	}

	Compact struct {
		// Count is the number of compactions performed since the DB was
		// opened, including trivial moves.
		Count int64
		// WriteBytes is the number of table bytes written by compactions.
		WriteBytes uint64
	}

	Snapshots struct {
		// Count is the number of currently open snapshots.
		Count int
	}

	WriteStalls struct {
		// Count is the number of times writes have been stopped waiting for
		// a flush or compaction.
		Count int64
	}
}

// TotalSize returns the total byte size of the sstables in all levels.
func (m *Metrics) TotalSize() uint64 {
	var size uint64
	for i := range m.Levels {
		size += m.Levels[i].Size
	}
	return size
}

// String renders the metrics as an ascii table, one row per level.
func (m *Metrics) String() string {
	var buf bytes.Buffer
	tbl := tablewriter.NewWriter(&buf)
	tbl.SetHeader([]string{"Level", "Tables", "Size", "Score"})
	for level := 0; level < numLevels; level++ {
		l := &m.Levels[level]
		tbl.Append([]string{
			fmt.Sprintf("L%d", level),
			fmt.Sprintf("%d", l.NumFiles),
			fmt.Sprintf("%d", l.Size),
			fmt.Sprintf("%.2f", l.Score),
		})
	}
	tbl.Append([]string{
		"total",
		fmt.Sprintf("%d", m.totalFiles()),
		fmt.Sprintf("%d", m.TotalSize()),
		"-",
	})
	tbl.Render()
	fmt.Fprintf(&buf, "flushes: %d (%d bytes)  compactions: %d (%d bytes)\n",
		m.Flush.Count, m.Flush.WriteBytes, m.Compact.Count, m.Compact.WriteBytes)
	fmt.Fprintf(&buf, "memtables: %d (%d bytes)  snapshots: %d  write stalls: %d\n",
		m.MemTable.Count, m.MemTable.Size, m.Snapshots.Count, m.WriteStalls.Count)
	return buf.String()
}

func (m *Metrics) totalFiles() int64 {
	var n int64
	for i := range m.Levels {
		n += m.Levels[i].NumFiles
	}
	return n
}

// GetProperty returns the value of the named DB property. Supported names:
//
//   - "shale.num-files-at-level<N>": the number of tables at level N.
//   - "shale.stats": the Metrics table.
//   - "shale.sstables": the per-level table layout with key ranges.
//   - "shale.approximate-memory-usage": the memtable byte size.
func (d *DB) GetProperty(name string) (string, error) {
	if d.closed.Load() {
		return "", ErrClosed
	}
	const levelPrefix = "shale.num-files-at-level"
	if strings.HasPrefix(name, levelPrefix) {
		level, err := strconv.Atoi(name[len(levelPrefix):])
		if err != nil || level < 0 || level >= numLevels {
			return "", errors.Errorf("shale: unknown property %q", name)
		}
		m := d.Metrics()
		return fmt.Sprintf("%d", m.Levels[level].NumFiles), nil
	}
	switch name {
	case "shale.stats":
		return d.Metrics().String(), nil
	case "shale.sstables":
		rs := d.loadReadState()
		defer rs.unref()
		return rs.current.String(), nil
	case "shale.approximate-memory-usage":
		m := d.Metrics()
		return fmt.Sprintf("%d", m.MemTable.Size), nil
	}
	return "", errors.Errorf("shale: unknown property %q", name)
}

// Metrics returns the current metrics for the DB.
func (d *DB) Metrics() *Metrics {
	m := &Metrics{}
	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.mu.versions.currentVersion()
	updateCompactionScore(d.opts, v)
	for level := 0; level < numLevels; level++ {
		l := &m.Levels[level]
		l.NumFiles = int64(len(v.files[level]))
		l.Size = totalSize(v.files[level])
	}
	if v.compactionLevel < numLevels {
		m.Levels[v.compactionLevel].Score = v.compactionScore
	}

	for _, mem := range d.mu.mem.queue {
		m.MemTable.Size += mem.totalBytes()
	}
	m.MemTable.Count = int64(len(d.mu.mem.queue))
	m.WAL.FileNum = d.logNumber
	m.Flush.Count = d.mu.metrics.flushCount
	m.Flush.WriteBytes = d.mu.metrics.bytesFlushed
	m.Compact.Count = d.mu.metrics.compactCount
	m.Compact.WriteBytes = d.mu.metrics.bytesCompacted
	m.Snapshots.Count = d.mu.snapshots.count()
	m.WriteStalls.Count = d.mu.metrics.writeStalls
	return m
}
