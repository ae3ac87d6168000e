// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/sstable"
	"github.com/shaledb/shale/vfs"
)

// tableCache caches open table readers, keyed by file number. Open readers
// hold an open file descriptor and the table's decoded index and filter
// blocks, so the cache size is bounded by the MaxOpenFiles option. Readers
// are evicted in LRU order.
type tableCache struct {
	dirname string
	fs      vfs.FS
	opts    *Options
	size    int

	mu    sync.Mutex
	nodes map[uint64]*tableCacheNode
	// dummy is the head of a doubly-linked list of nodes. dummy.next is the
	// most recently used node.
	dummy tableCacheNode
}

func (c *tableCache) init(dirname string, fs vfs.FS, opts *Options, size int) {
	c.dirname = dirname
	c.fs = fs
	c.opts = opts
	c.size = size
	c.nodes = make(map[uint64]*tableCacheNode)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
}

// newIter returns an iterator for the given file. Closing the iterator
// releases the cache's reference to the open reader.
func (c *tableCache) newIter(fileNum uint64) (base.InternalIterator, error) {
	n := c.findNode(fileNum)
	if err := n.load(c); err != nil {
		n.release()
		return nil, err
	}
	return &tableCacheIter{
		Iter: n.reader.NewIter(),
		node: n,
	}, nil
}

// get performs a point lookup in the given file. See sstable.Reader.Get for
// the semantics.
func (c *tableCache) get(fileNum uint64, ikey base.InternalKey) (base.InternalKey, []byte, error) {
	n := c.findNode(fileNum)
	defer n.release()
	if err := n.load(c); err != nil {
		return base.InternalKey{}, nil, err
	}
	return n.reader.Get(ikey)
}

// withReader invokes fn with the reader for the given file, holding a
// reference to it for the duration of the call.
func (c *tableCache) withReader(fileNum uint64, fn func(*sstable.Reader) error) error {
	n := c.findNode(fileNum)
	defer n.release()
	if err := n.load(c); err != nil {
		return err
	}
	return fn(n.reader)
}

// findNode returns the node for the given file, adding a reference for the
// caller. The node's reader may not be loaded yet; call load before use.
func (c *tableCache) findNode(fileNum uint64) *tableCacheNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.nodes[fileNum]
	if n == nil {
		n = &tableCacheNode{fileNum: fileNum}
		n.refs.Store(1)
		c.nodes[fileNum] = n
		n.next = c.dummy.next
		n.prev = &c.dummy
		n.next.prev = n
		n.prev.next = n
		if len(c.nodes) > c.size {
			// Evict the least recently used node.
			lru := c.dummy.prev
			c.unlinkLocked(lru)
			lru.release()
		}
	} else {
		// Move the node to the front of the LRU list.
		n.prev.next = n.next
		n.next.prev = n.prev
		n.next = c.dummy.next
		n.prev = &c.dummy
		n.next.prev = n
		n.prev.next = n
	}
	n.refs.Add(1)
	return n
}

// evict removes any cached reader for the given file. It is called before an
// obsolete table file is deleted.
func (c *tableCache) evict(fileNum uint64) {
	c.mu.Lock()
	n := c.nodes[fileNum]
	if n != nil {
		c.unlinkLocked(n)
	}
	c.mu.Unlock()
	if n != nil {
		n.release()
	}
}

func (c *tableCache) unlinkLocked(n *tableCacheNode) {
	delete(c.nodes, n.fileNum)
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
}

// Close releases every cached reader. Iterators that are still open keep
// their readers alive until they are closed.
func (c *tableCache) Close() error {
	c.mu.Lock()
	nodes := make([]*tableCacheNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
		n.next = nil
		n.prev = nil
	}
	c.nodes = make(map[uint64]*tableCacheNode)
	c.dummy.next = &c.dummy
	c.dummy.prev = &c.dummy
	c.mu.Unlock()
	for _, n := range nodes {
		n.release()
	}
	return nil
}

type tableCacheNode struct {
	fileNum uint64

	once   sync.Once
	reader *sstable.Reader
	err    error

	// refs holds one reference for the cache's presence in the LRU list
	// plus one per in-flight use. The reader is closed when it drops to
	// zero.
	refs atomic.Int32

	next, prev *tableCacheNode
}

// load opens the table file and parses its index, once per node.
func (n *tableCacheNode) load(c *tableCache) error {
	n.once.Do(func() {
		f, err := c.fs.Open(dbFilename(c.dirname, fileTypeTable, n.fileNum))
		if err != nil {
			n.err = err
			return
		}
		n.reader, n.err = sstable.NewReader(f, c.opts.makeReaderOptions())
	})
	return n.err
}

func (n *tableCacheNode) release() {
	if n.refs.Add(-1) != 0 {
		return
	}
	if n.reader != nil {
		n.reader.Close()
		n.reader = nil
	}
}

// tableCacheIter wraps a table iterator, releasing the cache reference when
// it is closed.
type tableCacheIter struct {
	*sstable.Iter
	node   *tableCacheNode
	closed bool
}

func (i *tableCacheIter) Close() error {
	if i.closed {
		return errors.New("shale: table iterator closed twice")
	}
	i.closed = true
	err := i.Iter.Close()
	i.node.release()
	i.node = nil
	return err
}
