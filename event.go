// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"time"

	"github.com/cockroachdb/redact"
	"github.com/shaledb/shale/internal/base"
)

// TableInfo exports the base.TableInfo type.
type TableInfo struct {
	// FileNum is the internal DB identifier for the table.
	FileNum uint64
	// Size is the size of the file in bytes.
	Size uint64
	// Smallest is the smallest internal key in the table.
	Smallest base.InternalKey
	// Largest is the largest internal key in the table.
	Largest base.InternalKey
}

func formatFileNums(w redact.SafePrinter, tables []TableInfo) {
	for i := range tables {
		if i > 0 {
			w.Printf(" ")
		}
		w.Printf("%06d", redact.Safe(tables[i].FileNum))
	}
}

// CompactionInfo contains the info for a compaction event.
type CompactionInfo struct {
	// JobID is the ID of the compaction job.
	JobID int
	// Input contains the input tables for the compaction. A compaction is
	// performed from Input.Level to Output.Level, merging the tables of the
	// two levels.
	Input struct {
		Level  int
		Tables [2][]TableInfo
	}
	// Output contains the output tables generated by the compaction.
	Output struct {
		Level  int
		Tables []TableInfo
	}
	Duration time.Duration
	Done     bool
	Err      error
}

func (i CompactionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i CompactionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] compaction to L%d error: %s",
			redact.Safe(i.JobID), redact.Safe(i.Output.Level), i.Err)
		return
	}
	if !i.Done {
		w.Printf("[JOB %d] compacting L%d [", redact.Safe(i.JobID), redact.Safe(i.Input.Level))
		formatFileNums(w, i.Input.Tables[0])
		w.Printf("] + L%d [", redact.Safe(i.Output.Level))
		formatFileNums(w, i.Input.Tables[1])
		w.Printf("]")
		return
	}
	var outputSize uint64
	for _, t := range i.Output.Tables {
		outputSize += t.Size
	}
	w.Printf("[JOB %d] compacted L%d -> L%d, in %.1fs, output size %d, tables [",
		redact.Safe(i.JobID), redact.Safe(i.Input.Level), redact.Safe(i.Output.Level),
		redact.Safe(i.Duration.Seconds()), redact.Safe(outputSize))
	formatFileNums(w, i.Output.Tables)
	w.Printf("]")
}

// FlushInfo contains the info for a flush event.
type FlushInfo struct {
	// JobID is the ID of the flush job.
	JobID int
	// Output contains the ouptut tables generated by the flush. The output
	// info is empty for the flush begin event.
	Output   []TableInfo
	Duration time.Duration
	Done     bool
	Err      error
}

func (i FlushInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i FlushInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] flush error: %s", redact.Safe(i.JobID), i.Err)
		return
	}
	if !i.Done {
		w.Printf("[JOB %d] flushing memtable to L0", redact.Safe(i.JobID))
		return
	}
	var outputSize uint64
	for _, t := range i.Output {
		outputSize += t.Size
	}
	w.Printf("[JOB %d] flushed to L0 in %.1fs, output size %d, tables [",
		redact.Safe(i.JobID), redact.Safe(i.Duration.Seconds()), redact.Safe(outputSize))
	formatFileNums(w, i.Output)
	w.Printf("]")
}

// ManifestCreateInfo contains info about a manifest creation event.
type ManifestCreateInfo struct {
	// JobID is the ID of the job the caused the manifest to be created.
	JobID int
	Path  string
	// The file number of the new manifest.
	FileNum uint64
	Err     error
}

func (i ManifestCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i ManifestCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] MANIFEST create error: %s", redact.Safe(i.JobID), i.Err)
		return
	}
	w.Printf("[JOB %d] MANIFEST created %06d", redact.Safe(i.JobID), redact.Safe(i.FileNum))
}

// TableDeleteInfo contains the info for a table deletion event.
type TableDeleteInfo struct {
	JobID   int
	Path    string
	FileNum uint64
	Err     error
}

func (i TableDeleteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableDeleteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] sstable delete error %06d: %s",
			redact.Safe(i.JobID), redact.Safe(i.FileNum), i.Err)
		return
	}
	w.Printf("[JOB %d] sstable deleted %06d", redact.Safe(i.JobID), redact.Safe(i.FileNum))
}

// WALCreateInfo contains info about a WAL creation event.
type WALCreateInfo struct {
	// JobID is the ID of the job the caused the WAL to be created.
	JobID int
	Path  string
	// The file number of the new WAL.
	FileNum uint64
	// The file number of a previous WAL which was recycled to create this
	// one. Zero if recycling did not take place.
	RecycledFileNum uint64
	Err             error
}

func (i WALCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i WALCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] WAL create error: %s", redact.Safe(i.JobID), i.Err)
		return
	}
	w.Printf("[JOB %d] WAL created %06d", redact.Safe(i.JobID), redact.Safe(i.FileNum))
}

// WALDeleteInfo contains the info for a WAL deletion event.
type WALDeleteInfo struct {
	// JobID is the ID of the job the caused the WAL to be deleted.
	JobID   int
	Path    string
	FileNum uint64
	Err     error
}

func (i WALDeleteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i WALDeleteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] WAL delete error %06d: %s",
			redact.Safe(i.JobID), redact.Safe(i.FileNum), i.Err)
		return
	}
	w.Printf("[JOB %d] WAL deleted %06d", redact.Safe(i.JobID), redact.Safe(i.FileNum))
}

// WriteStallBeginInfo contains the info for a write stall begin event.
type WriteStallBeginInfo struct {
	Reason string
}

func (i WriteStallBeginInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i WriteStallBeginInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("write stall beginning: %s", redact.Safe(i.Reason))
}

// EventListener contains a set of functions that will be invoked when various
// significant DB events occur. Note that the functions should not run for an
// excessive amount of time as they are invoked synchronously by the DB and
// may block continued DB work.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs during a
	// background operation such as flush or compaction. The error becomes
	// sticky and is returned from subsequent writes.
	BackgroundError func(error)

	// CompactionBegin is invoked after the inputs to a compaction have been
	// determined, but before the compaction has produced any output.
	CompactionBegin func(CompactionInfo)

	// CompactionEnd is invoked after a compaction has completed and the
	// result has been installed.
	CompactionEnd func(CompactionInfo)

	// FlushBegin is invoked after the inputs to a flush have been
	// determined, but before the flush has produced any output.
	FlushBegin func(FlushInfo)

	// FlushEnd is invoked after a flush has complated and the result has
	// been installed.
	FlushEnd func(FlushInfo)

	// ManifestCreated is invoked after a manifest has been created.
	ManifestCreated func(ManifestCreateInfo)

	// TableDeleted is invoked after a table has been deleted.
	TableDeleted func(TableDeleteInfo)

	// WALCreated is invoked after a WAL has been created.
	WALCreated func(WALCreateInfo)

	// WALDeleted is invoked after a WAL has been deleted.
	WALDeleted func(WALDeleteInfo)

	// WriteStallBegin is invoked when writes are intentionally delayed.
	WriteStallBegin func(WriteStallBeginInfo)

	// WriteStallEnd is invoked when delayed writes are released.
	WriteStallEnd func()
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Infof("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.CompactionBegin == nil {
		l.CompactionBegin = func(CompactionInfo) {}
	}
	if l.CompactionEnd == nil {
		l.CompactionEnd = func(CompactionInfo) {}
	}
	if l.FlushBegin == nil {
		l.FlushBegin = func(FlushInfo) {}
	}
	if l.FlushEnd == nil {
		l.FlushEnd = func(FlushInfo) {}
	}
	if l.ManifestCreated == nil {
		l.ManifestCreated = func(ManifestCreateInfo) {}
	}
	if l.TableDeleted == nil {
		l.TableDeleted = func(TableDeleteInfo) {}
	}
	if l.WALCreated == nil {
		l.WALCreated = func(WALCreateInfo) {}
	}
	if l.WALDeleted == nil {
		l.WALDeleted = func(WALDeleteInfo) {}
	}
	if l.WriteStallBegin == nil {
		l.WriteStallBegin = func(WriteStallBeginInfo) {}
	}
	if l.WriteStallEnd == nil {
		l.WriteStallEnd = func() {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to
// the specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = base.DefaultLogger{}
	}
	return EventListener{
		BackgroundError: func(err error) {
			logger.Infof("background error: %s", err)
		},
		CompactionBegin: func(info CompactionInfo) {
			logger.Infof("%s", info)
		},
		CompactionEnd: func(info CompactionInfo) {
			logger.Infof("%s", info)
		},
		FlushBegin: func(info FlushInfo) {
			logger.Infof("%s", info)
		},
		FlushEnd: func(info FlushInfo) {
			logger.Infof("%s", info)
		},
		ManifestCreated: func(info ManifestCreateInfo) {
			logger.Infof("%s", info)
		},
		TableDeleted: func(info TableDeleteInfo) {
			logger.Infof("%s", info)
		},
		WALCreated: func(info WALCreateInfo) {
			logger.Infof("%s", info)
		},
		WALDeleted: func(info WALDeleteInfo) {
			logger.Infof("%s", info)
		},
		WriteStallBegin: func(info WriteStallBeginInfo) {
			logger.Infof("%s", info)
		},
		WriteStallEnd: func() {
			logger.Infof("write stall ending")
		},
	}
}
