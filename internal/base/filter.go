// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package base

// FilterPolicy is an algorithm for probabilistically encoding a set of keys.
// The canonical implementation is a Bloom filter.
//
// Every FilterPolicy has a name. This naming scheme permits a filter policy
// to evolve over time. The name is written into the table and a filter is
// only consulted on reads if the policy name matches.
//
// The policy must be deterministic: the filter appended for a given key set
// must not depend on anything other than the keys.
type FilterPolicy interface {
	// Name names the filter policy.
	Name() string

	// AppendFilter appends to dst an encoded filter that holds a set of
	// []byte keys.
	AppendFilter(dst []byte, keys [][]byte) []byte

	// MayContain returns whether the encoded filter may contain given key.
	// False positives are possible, where it returns true for keys not in
	// the original set.
	MayContain(filter, key []byte) bool
}
