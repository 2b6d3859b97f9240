/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package packetseries implements the agent's packet series: an ordered,
// delta-timestamped log of every packet observed this period.
package packetseries

// Capacity is the number of packet records held per period, P in spec.md §4.H.
const Capacity = 65536

// Record is one packet-series entry as emitted at flush: a delta timestamp
// in microseconds against the series' base, the wire length, and the flow
// this packet belongs to (a flow-table slot or a sentinel).
type Record struct {
	DeltaMicros int64
	SizeBytes   uint32
	FlowID      int
}

// Series is the P-capacity packet log for the current period. The backing
// array is allocated once at startup; Reset truncates the count rather than
// discarding it.
type Series struct {
	baseMicros int64
	have       bool
	records    [Capacity]Record
	count      int
}

// New returns an empty packet series.
func New() *Series {
	return &Series{}
}

// AddPacket appends a packet record and returns its packet_id (its index in
// the series), or -1 if the series is full, in which case the caller must
// instead account for the drop in passive/dropstats.
func (s *Series) AddPacket(timestampMicros int64, sizeBytes uint32, flowID int) int {
	if s.count >= Capacity {
		return -1
	}

	if !s.have {
		s.baseMicros = timestampMicros
		s.have = true
	}

	s.records[s.count] = Record{
		DeltaMicros: timestampMicros - s.baseMicros,
		SizeBytes:   sizeBytes,
		FlowID:      flowID,
	}
	id := s.count
	s.count++
	return id
}

// BaseMicros is the period's reference timestamp; every record's
// DeltaMicros is relative to it.
func (s *Series) BaseMicros() int64 {
	return s.baseMicros
}

// Records returns this period's packet records in observation order.
func (s *Series) Records() []Record {
	return s.records[:s.count]
}

// Len reports how many packets have been recorded this period.
func (s *Series) Len() int {
	return s.count
}

// Reset reinitializes the series empty, ready for the next period. The
// timestamp of the next period's first packet becomes the new base. The
// backing array is reused, not reallocated.
func (s *Series) Reset() {
	s.count = 0
	s.have = false
	s.baseMicros = 0
}
