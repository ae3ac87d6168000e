// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/cockroachdb/datadriven"
	"github.com/shaledb/shale/internal/base"
)

// loadVersion parses a version description of the form:
//
//	L1
//	  001:a-c size=100
//	  002:e-g size=100
//
// File numbers are assigned the listed values and sequence numbers decrease
// in listing order, so L0 files are listed newest first.
func loadVersion(t *testing.T, d *DB, input string) error {
	v := &version{}
	level := -1
	seqNum := base.SeqNum(100)
	for _, line := range strings.Split(input, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") {
			if !strings.HasPrefix(line, "L") {
				return fmt.Errorf("bad level header %q", line)
			}
			l, err := strconv.Atoi(line[1:])
			if err != nil {
				return err
			}
			level = l
			continue
		}
		if level < 0 {
			return fmt.Errorf("file %q before level header", line)
		}
		fields := strings.Fields(line)
		var meta fileMetadata
		for _, field := range fields {
			switch {
			case strings.HasPrefix(field, "size="):
				size, err := strconv.ParseUint(field[len("size="):], 10, 64)
				if err != nil {
					return err
				}
				meta.size = size
			default:
				num, rest, ok := strings.Cut(field, ":")
				if !ok {
					return fmt.Errorf("bad file %q", field)
				}
				fileNum, err := strconv.ParseUint(num, 10, 64)
				if err != nil {
					return err
				}
				start, end, ok := strings.Cut(rest, "-")
				if !ok {
					return fmt.Errorf("bad key range %q", rest)
				}
				meta.fileNum = fileNum
				meta.smallest = base.MakeInternalKey([]byte(start), seqNum, base.InternalKeyKindSet)
				meta.largest = base.MakeInternalKey([]byte(end), seqNum, base.InternalKeyKindSet)
				seqNum--
			}
		}
		v.files[level] = append(v.files[level], meta)
	}
	d.mu.versions.append(v)
	return nil
}

func newPickerDB(opts *Options) *DB {
	d := &DB{
		opts: opts,
		cmp:  opts.Comparer,
	}
	d.mu.versions.init("", opts, &d.mu.Mutex)
	return d
}

func describeCompaction(c *compaction) string {
	if c == nil {
		return "(none)"
	}
	var buf bytes.Buffer
	for i, files := range c.inputs {
		fmt.Fprintf(&buf, "L%d:", c.level+i)
		if len(files) == 0 {
			buf.WriteString(" (empty)")
		}
		for _, f := range files {
			fmt.Fprintf(&buf, " %03d", f.fileNum)
		}
		buf.WriteString("\n")
	}
	if len(c.grandparents) > 0 {
		buf.WriteString("grandparents:")
		for _, f := range c.grandparents {
			fmt.Fprintf(&buf, " %03d", f.fileNum)
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

func TestCompactionPicker(t *testing.T) {
	var d *DB

	datadriven.RunTest(t, "testdata/compaction_picker",
		func(t *testing.T, td *datadriven.TestData) string {
			switch td.Cmd {
			case "define":
				opts := (&Options{}).EnsureDefaults()
				for _, arg := range td.CmdArgs {
					val, err := strconv.Atoi(arg.Vals[0])
					if err != nil {
						return err.Error()
					}
					switch arg.Key {
					case "lbase-max-bytes":
						opts.LBaseMaxBytes = int64(val)
					case "target-file-size":
						opts.TargetFileSize = int64(val)
					case "l0-threshold":
						opts.L0CompactionThreshold = val
					default:
						return fmt.Sprintf("unknown arg %q", arg.Key)
					}
				}
				d = newPickerDB(opts)
				if err := loadVersion(t, d, td.Input); err != nil {
					return err.Error()
				}
				return ""

			case "score":
				v := d.mu.versions.currentVersion()
				updateCompactionScore(d.opts, v)
				return fmt.Sprintf("L%d: %.2f\n", v.compactionLevel, v.compactionScore)

			case "pick":
				for _, arg := range td.CmdArgs {
					if arg.Key != "ptr" {
						continue
					}
					lvl, key, ok := strings.Cut(arg.Vals[0], ":")
					if !ok {
						return fmt.Sprintf("bad pointer %q", arg.Vals[0])
					}
					level, err := strconv.Atoi(lvl)
					if err != nil {
						return err.Error()
					}
					d.mu.versions.compactPointers[level] = base.MakeInternalKey([]byte(key), 0, 0)
				}
				c := d.pickCompaction()
				s := describeCompaction(c)
				if c != nil && td.HasArg("trivial") {
					s += fmt.Sprintf("trivial-move: %t\n", c.isTrivialMove())
				}
				return s

			case "pick-manual":
				var level int
				var start, end string
				td.ScanArgs(t, "level", &level)
				td.ScanArgs(t, "start", &start)
				td.ScanArgs(t, "end", &end)
				return describeCompaction(d.pickManualCompaction(level, []byte(start), []byte(end)))

			default:
				return fmt.Sprintf("unknown command %q", td.Cmd)
			}
		})
}
