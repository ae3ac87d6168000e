// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"io"
	"testing"

	"github.com/shaledb/shale/vfs"
	"github.com/stretchr/testify/require"
)

func TestReopen(t *testing.T) {
	opts := &Options{FS: vfs.NewMem()}

	d, err := Open("db", opts)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Set(
			[]byte(fmt.Sprintf("key%03d", i)), []byte(fmt.Sprintf("val%03d", i)), Sync))
	}
	require.NoError(t, d.Close())

	// The unflushed entries were in the WAL; replay rebuilds them as an L0
	// table.
	d, err = Open("db", opts)
	require.NoError(t, err)
	require.EqualValues(t, 1, d.Metrics().Levels[0].NumFiles)
	for i := 0; i < 100; i++ {
		v, err := d.Get([]byte(fmt.Sprintf("key%03d", i)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("val%03d", i), string(v))
	}

	// New writes after the reopen survive another cycle.
	require.NoError(t, d.Set([]byte("key050"), []byte("updated"), Sync))
	require.NoError(t, d.Close())

	d, err = Open("db", opts)
	require.NoError(t, err)
	v, err := d.Get([]byte("key050"))
	require.NoError(t, err)
	require.Equal(t, "updated", string(v))
	require.NoError(t, d.Close())
}

func TestReopenFlushedAndUnflushed(t *testing.T) {
	opts := &Options{FS: vfs.NewMem()}

	d, err := Open("db", opts)
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("flushed"), []byte("1"), nil))
	require.NoError(t, d.Flush())
	require.NoError(t, d.Set([]byte("logged"), []byte("2"), Sync))
	require.NoError(t, d.Delete([]byte("flushed"), Sync))
	require.NoError(t, d.Close())

	d, err = Open("db", opts)
	require.NoError(t, err)
	v, err := d.Get([]byte("logged"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
	// The replayed tombstone still shadows the flushed table.
	_, err = d.Get([]byte("flushed"))
	require.Equal(t, ErrNotFound, err)
	require.NoError(t, d.Close())
}

func TestReopenSequenceOrdering(t *testing.T) {
	opts := &Options{FS: vfs.NewMem()}

	d, err := Open("db", opts)
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("a"), []byte("old"), nil))
	require.NoError(t, d.Set([]byte("a"), []byte("new"), Sync))
	require.NoError(t, d.Close())

	d, err = Open("db", opts)
	require.NoError(t, err)
	v, err := d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "new", string(v))
	// The replayed sequence numbers stay ahead of new writes.
	require.NoError(t, d.Set([]byte("a"), []byte("newest"), nil))
	v, err = d.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "newest", string(v))
	require.NoError(t, d.Close())
}

// truncateNewestLog rewrites the newest log file in dir with its final n
// bytes removed, simulating a write torn by a crash.
func truncateNewestLog(t *testing.T, fs vfs.FS, dir string, n int) {
	ls, err := fs.List(dir)
	require.NoError(t, err)
	var logName string
	var maxNum uint64
	for _, filename := range ls {
		if ft, fileNum, ok := parseDBFilename(filename); ok && ft == fileTypeLog {
			if logName == "" || fileNum > maxNum {
				logName, maxNum = filename, fileNum
			}
		}
	}
	require.NotEmpty(t, logName)

	path := fs.PathJoin(dir, logName)
	f, err := fs.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Greater(t, len(data), n)

	f, err = fs.Create(path)
	require.NoError(t, err)
	_, err = f.Write(data[:len(data)-n])
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestReopenTornLogTail(t *testing.T) {
	opts := &Options{FS: vfs.NewMem()}

	d, err := Open("db", opts)
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("durable"), []byte("1"), Sync))
	require.NoError(t, d.Set([]byte("torn"), []byte("2"), Sync))
	require.NoError(t, d.Close())

	// Clip into the final record. Replay stops at the torn write; everything
	// before it is recovered.
	truncateNewestLog(t, opts.FS, "db", 3)

	d, err = Open("db", opts)
	require.NoError(t, err)
	v, err := d.Get([]byte("durable"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	_, err = d.Get([]byte("torn"))
	require.Equal(t, ErrNotFound, err)

	// The DB is writable after the partial recovery.
	require.NoError(t, d.Set([]byte("torn"), []byte("rewritten"), Sync))
	require.NoError(t, d.Close())

	d, err = Open("db", opts)
	require.NoError(t, err)
	v, err = d.Get([]byte("torn"))
	require.NoError(t, err)
	require.Equal(t, "rewritten", string(v))
	require.NoError(t, d.Close())
}

func TestOpenCleansObsoleteFiles(t *testing.T) {
	opts := &Options{FS: vfs.NewMem()}

	d, err := Open("db", opts)
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("a"), []byte("1"), Sync))
	require.NoError(t, d.Close())

	// Replaying the WAL writes its contents to a table, making the old log
	// obsolete. Only the new, empty log remains.
	d, err = Open("db", opts)
	require.NoError(t, err)
	logNum := d.logNumber
	ls, err := opts.FS.List("db")
	require.NoError(t, err)
	for _, filename := range ls {
		if ft, fileNum, ok := parseDBFilename(filename); ok && ft == fileTypeLog {
			require.Equal(t, logNum, fileNum)
		}
	}
	require.NoError(t, d.Close())
}
