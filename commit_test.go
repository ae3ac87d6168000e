// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommitGroup(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	leader := d.NewBatch()
	leader.Set([]byte("a"), []byte("1"))
	follower := d.NewBatch()
	follower.Set([]byte("b"), []byte("2"))

	w1 := &commitWriter{batch: leader}
	w2 := &commitWriter{batch: follower}

	d.mu.Lock()
	d.mu.commit.writers = append(d.mu.commit.writers, w1, w2)
	group, lastWriter, err := d.buildCommitGroup()
	d.mu.commit.writers = d.mu.commit.writers[:0]
	d.mu.Unlock()

	require.NoError(t, err)
	require.Equal(t, w2, lastWriter)
	require.EqualValues(t, 2, group.Count())
	// The group is built in the scratch batch, leaving the leader's batch
	// untouched.
	require.NotSame(t, leader, group)
	require.EqualValues(t, 1, leader.Count())
}

func TestCommitGroupSyncMismatch(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	leader := d.NewBatch()
	leader.Set([]byte("a"), []byte("1"))
	follower := d.NewBatch()
	follower.Set([]byte("b"), []byte("2"))

	// A sync write is not grouped behind a non-sync leader, since it would
	// not get the sync it asked for.
	w1 := &commitWriter{batch: leader, sync: false}
	w2 := &commitWriter{batch: follower, sync: true}

	d.mu.Lock()
	d.mu.commit.writers = append(d.mu.commit.writers, w1, w2)
	group, lastWriter, err := d.buildCommitGroup()
	d.mu.commit.writers = d.mu.commit.writers[:0]
	d.mu.Unlock()

	require.NoError(t, err)
	require.Equal(t, w1, lastWriter)
	require.Same(t, leader, group)
}

func TestCommitGroupMalformedBatch(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)
	defer d.Close()

	leader := d.NewBatch()
	leader.Set([]byte("a"), []byte("1"))
	follower := d.NewBatch()
	follower.Set([]byte("b"), []byte("2"))
	bad := &Batch{data: []byte{0xff}}

	w1 := &commitWriter{batch: leader}
	w2 := &commitWriter{batch: follower}
	w3 := &commitWriter{batch: bad}

	d.mu.Lock()
	d.mu.commit.writers = append(d.mu.commit.writers, w1, w2, w3)
	group, lastWriter, err := d.buildCommitGroup()
	d.mu.commit.writers = d.mu.commit.writers[:0]
	d.mu.Unlock()

	// A batch that cannot be merged fails the whole group, and the failing
	// writer is the last popped so that it receives the error too.
	require.Equal(t, ErrInvalidBatch, err)
	require.Nil(t, group)
	require.Equal(t, w3, lastWriter)
}

func TestMakeRoomForWriteClosed(t *testing.T) {
	d, err := Open("", testOptions())
	require.NoError(t, err)

	// A writer stalled on the memtable or L0 limits is woken by Close and
	// must observe the closed state instead of waiting again.
	d.closed.Store(true)
	d.mu.Lock()
	err = d.makeRoomForWrite(false)
	d.mu.Unlock()
	require.Equal(t, ErrClosed, err)

	d.closed.Store(false)
	require.NoError(t, d.Close())
}
