// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

// tableErrorFS injects an error into Stat calls on sstables, failing flushes
// and compactions after their output has been written.
type tableErrorFS struct {
	vfs.FS
	failTableStat atomic.Bool
}

func (fs *tableErrorFS) Stat(name string) (os.FileInfo, error) {
	if fs.failTableStat.Load() && strings.HasSuffix(name, ".sst") {
		return nil, errors.New("injected stat error")
	}
	return fs.FS.Stat(name)
}

func countTables(t *testing.T, fs vfs.FS, dirname string) int {
	t.Helper()
	names, err := fs.List(dirname)
	require.NoError(t, err)
	n := 0
	for _, name := range names {
		if strings.HasSuffix(name, ".sst") {
			n++
		}
	}
	return n
}

func TestFlushError(t *testing.T) {
	fs := &tableErrorFS{FS: vfs.NewMem()}
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)

	require.NoError(t, d.Set([]byte("a"), []byte("1"), nil))
	fs.failTableStat.Store(true)

	// The flush fails, and Flush reports the failure rather than waiting
	// for a retry that will never come.
	err = d.Flush()
	require.Error(t, err)
	require.Contains(t, err.Error(), "injected stat error")

	// The failed flush removed its partial output and no longer tracks it
	// as pending.
	require.Equal(t, 0, countTables(t, fs, "db"))
	d.mu.Lock()
	require.Empty(t, d.mu.compact.pendingOutputs)
	d.mu.Unlock()

	// The unflushed data remains readable, but the error is sticky for
	// writes.
	v, err := d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	err = d.Set([]byte("b"), []byte("2"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "injected stat error")

	require.NoError(t, d.Close())
}

func TestCompactionError(t *testing.T) {
	fs := &tableErrorFS{FS: vfs.NewMem()}
	d, err := Open("db", &Options{FS: fs})
	require.NoError(t, err)

	// Two overlapping L0 tables, so the compaction must rewrite them
	// rather than trivially moving a single table down.
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key%03d", i)), []byte("old"), nil))
	}
	require.NoError(t, d.Flush())
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set([]byte(fmt.Sprintf("key%03d", i)), []byte("new"), nil))
	}
	require.NoError(t, d.Flush())
	require.Equal(t, 2, countTables(t, fs, "db"))

	fs.failTableStat.Store(true)
	err = d.Compact([]byte("key000"), []byte("key999"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "injected stat error")

	// The failed compaction removed its partial outputs; only the two
	// input tables remain, and nothing is tracked as pending.
	require.Equal(t, 2, countTables(t, fs, "db"))
	d.mu.Lock()
	require.Empty(t, d.mu.compact.pendingOutputs)
	d.mu.Unlock()

	// Reads still see the newest values through the surviving L0 tables.
	fs.failTableStat.Store(false)
	v, err := d.Get([]byte("key042"))
	require.NoError(t, err)
	require.Equal(t, "new", string(v))

	require.NoError(t, d.Close())
}
