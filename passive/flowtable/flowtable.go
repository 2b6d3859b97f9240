/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package flowtable implements the agent's flow table: a fixed-capacity,
// quadratically-probed open-addressed hash table keyed by the directional
// 5-tuple, with lazy TTL eviction and "new/updated this period" tracking.
package flowtable

import (
	"encoding/binary"

	"bismark/passive/hashutil"
)

const (
	// Capacity is the number of flow slots, F in spec.md §4.E.
	Capacity = 65536

	// TTLSeconds is how long an idle flow may occupy its slot before it
	// becomes eligible for eviction in favor of a colliding newcomer.
	TTLSeconds = 1800

	// FlowIDError is the sentinel flow-id returned when no slot could be
	// claimed or evicted for a new flow within the probe budget.
	FlowIDError = -1

	// Sentinel flow-ids for packets that never reach Process because they
	// carry no IPv4 header. Packet-series entries use these directly; they
	// are never valid flow-table slot indices.
	SentinelARP    = -2
	SentinelAARP   = -3
	SentinelAT     = -4
	SentinelIPX    = -5
	SentinelREVARP = -6
	SentinelIPv6   = -7
)

// Protocol identifies the transport protocol of a flow key.
type Protocol uint8

// Recognized transport protocols. Other IP protocol numbers are still
// hashed into a flow key with zero ports, per spec.md §4.E.
const (
	ProtoOther Protocol = 0
	ProtoTCP   Protocol = 6
	ProtoUDP   Protocol = 17
)

// Key is the directional 5-tuple identifying a flow. (A,B) and (B,A) are
// distinct keys; ports are meaningful only for TCP/UDP.
type Key struct {
	SrcIP   uint32
	DstIP   uint32
	Proto   Protocol
	SrcPort uint16
	DstPort uint16
}

func (k Key) bytes() []byte {
	buf := make([]byte, 13)
	binary.BigEndian.PutUint32(buf[0:4], k.SrcIP)
	binary.BigEndian.PutUint32(buf[4:8], k.DstIP)
	buf[8] = byte(k.Proto)
	binary.BigEndian.PutUint16(buf[9:11], k.SrcPort)
	binary.BigEndian.PutUint16(buf[11:13], k.DstPort)
	return buf
}

// entry is one occupied flow-table slot.
type entry struct {
	key      Key
	occupied bool
	lastSeen int64 // seconds, relative to the table's epoch
	written  bool  // cleared on claim or update, set once emitted or carried into a new period
	bytes    uint64
}

// Table is the F-slot flow table. Use New to construct one.
type Table struct {
	slots       [Capacity]entry
	numDropped  uint64
	numExpired  uint64
	numNewFlows uint64
}

// New returns an empty flow table.
func New() *Table {
	return &Table{}
}

// Process assigns or refreshes the flow-id for key as of now (seconds since
// the table's epoch), returning FlowIDError if the table is full at every
// probed slot and none is old enough to evict.
func (t *Table) Process(key Key, now int64, size uint64) int {
	h := hashutil.Hash(key.bytes())

	evictCandidate := -1
	for i := 0; i < hashutil.NumProbes; i++ {
		slot := hashutil.Probe(h, i, Capacity)
		e := &t.slots[slot]

		if !e.occupied {
			*e = entry{key: key, occupied: true, lastSeen: now, written: false, bytes: size}
			t.numNewFlows++
			return slot
		}
		if e.key == key {
			e.lastSeen = now
			e.bytes += size
			e.written = false
			return slot
		}
		if evictCandidate == -1 && now-e.lastSeen > TTLSeconds {
			evictCandidate = slot
		}
	}

	if evictCandidate != -1 {
		t.numExpired++
		t.slots[evictCandidate] = entry{key: key, occupied: true, lastSeen: now, written: false, bytes: size}
		t.numNewFlows++
		return evictCandidate
	}

	t.numDropped++
	return FlowIDError
}

// WrittenRecord is one flow-table record as emitted at flush: a slot whose
// written flag transitioned false->true during this period.
type WrittenRecord struct {
	Slot  int
	Key   Key
	Bytes uint64
}

// PendingWrites returns every slot that is new or was updated this period,
// marking each one written so a second call in the same period returns
// nothing for it. Order is slot-index order.
func (t *Table) PendingWrites() []WrittenRecord {
	var out []WrittenRecord
	for i := range t.slots {
		e := &t.slots[i]
		if e.occupied && !e.written {
			e.written = true
			out = append(out, WrittenRecord{Slot: i, Key: e.key, Bytes: e.bytes})
		}
	}
	return out
}

// AdvanceBaseTimestamp rolls the per-period delta window forward: every
// surviving entry is marked written and its accumulated byte count reset,
// so the next period emits only entries claimed or updated during it. TTL
// comparisons are unaffected; they use the absolute lastSeen seconds.
func (t *Table) AdvanceBaseTimestamp() {
	for i := range t.slots {
		e := &t.slots[i]
		if e.occupied {
			e.written = true
			e.bytes = 0
		}
	}
}

// Stats returns the table's drop/eviction/new-flow counters for this period.
func (t *Table) Stats() (numDropped, numExpired, numNewFlows uint64) {
	return t.numDropped, t.numExpired, t.numNewFlows
}

// ResetStats zeroes the per-period counters; called as part of flush's
// reset-and-rotate step.
func (t *Table) ResetStats() {
	t.numDropped = 0
	t.numExpired = 0
	t.numNewFlows = 0
}

// Occupancy returns the number of occupied slots in the table.
func (t *Table) Occupancy() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].occupied {
			n++
		}
	}
	return n
}

// PerIPBytes sums occupied entries' byte counts by source IP, for the
// optional flow-thresholding side log (spec.md §4.E).
func (t *Table) PerIPBytes() map[uint32]uint64 {
	totals := make(map[uint32]uint64)
	for i := range t.slots {
		e := &t.slots[i]
		if e.occupied {
			totals[e.key.SrcIP] += e.bytes
		}
	}
	return totals
}
