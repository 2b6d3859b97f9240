/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package dropstats implements the agent's drop statistics: a coarse,
// log2-bucketed histogram of the sizes of packets the packet series could
// not hold this period.
package dropstats

import "math/bits"

// numBuckets covers packet sizes up to 2^16 (larger than any Ethernet
// frame this agent will ever see), one bucket per power of two.
const numBuckets = 17

// Stats holds per-period drop counters, one per size bucket.
type Stats struct {
	buckets [numBuckets]uint64
}

// New returns a zeroed set of drop statistics.
func New() *Stats {
	return &Stats{}
}

func bucketFor(sizeBytes uint32) int {
	if sizeBytes == 0 {
		return 0
	}
	b := bits.Len32(sizeBytes) - 1
	if b >= numBuckets {
		b = numBuckets - 1
	}
	return b
}

// RecordOverflow increments the bucket for a packet dropped because the
// packet series was full.
func (s *Stats) RecordOverflow(sizeBytes uint32) {
	s.buckets[bucketFor(sizeBytes)]++
}

// Buckets returns the per-period counters in bucket order, for the
// formatter's drop-statistics section.
func (s *Stats) Buckets() [numBuckets]uint64 {
	return s.buckets
}

// Reset zeroes every bucket; called as part of flush's reset-and-rotate step.
func (s *Stats) Reset() {
	s.buckets = [numBuckets]uint64{}
}
