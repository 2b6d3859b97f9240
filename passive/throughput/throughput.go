/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package throughput implements the device-throughput table: a per-MAC byte
// counter emitted only in the frequent-update cadence, when enabled.
package throughput

// Table accumulates bytes per MAC address between frequent-update ticks.
type Table struct {
	bytes map[uint64]uint64
}

// New returns an empty device-throughput table.
func New() *Table {
	return &Table{bytes: make(map[uint64]uint64)}
}

// Record adds size to both the source and destination MAC's running total.
// Called for every packet, for both Ethernet endpoints, before any
// IPv4-specific processing, matching the original record call sites.
func (t *Table) Record(srcMac, dstMac uint64, size uint64) {
	t.bytes[srcMac] += size
	t.bytes[dstMac] += size
}

// Snapshot returns the current per-MAC byte totals. The caller must not
// mutate the returned map.
func (t *Table) Snapshot() map[uint64]uint64 {
	return t.bytes
}

// Reset clears all counters; called every frequent-update tick, not every
// main period.
func (t *Table) Reset() {
	t.bytes = make(map[uint64]uint64)
}
