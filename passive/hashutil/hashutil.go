/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package hashutil implements the quadratic-probe sequence shared by the
// agent's fixed-size, open-addressed tables (the flow table today; any other
// fixed-capacity table built later should use the same sequence rather than
// inventing its own).
package hashutil

import "hash/fnv"

// NumProbes bounds how many slots a table will examine before giving up and
// falling back to its own eviction policy.
const NumProbes = 3

// Hash mixes a key's canonical byte representation into a 64-bit value. The
// specific mixing function is unconstrained by the agent's wire format; it
// only needs to be stable within a process.
func Hash(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// Probe returns the i'th slot (0-indexed) in the quadratic probe sequence for
// a key whose base hash is h, over a table of the given capacity.
// p_i = (h + i*(i+1)/2) mod capacity, i.e. c1 = c2 = 0.5 in integer form.
func Probe(h uint64, i, capacity int) int {
	step := uint64(i * (i + 1) / 2)
	return int((h + step) % uint64(capacity))
}
