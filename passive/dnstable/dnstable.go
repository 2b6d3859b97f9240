/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package dnstable implements the agent's DNS A and CNAME tables: append-only
// per-period logs of observed answers, plus the mark_unanonymized pass that
// decides, at flush time, which records and related flow-table IP fields may
// be emitted in cleartext.
package dnstable

import "bismark/passive/flowtable"

// Capacity bounds each of the A and CNAME tables, per spec.md §4.G.
const Capacity = 1024

// ARecord is one observed DNS A answer.
type ARecord struct {
	PacketID   int
	MacID      int
	Name       string
	IPv4       uint32
	Anonymized bool
}

// CNAMERecord is one observed DNS CNAME answer.
type CNAMERecord struct {
	PacketID   int
	MacID      int
	Name       string
	Target     string
	Anonymized bool
}

// Whitelist is the subset of passive/whitelist's interface this package
// needs, kept narrow so tests can supply a fake.
type Whitelist interface {
	Match(name string) bool
}

// Table holds this period's A and CNAME records. The backing arrays are
// allocated once at startup; new entries are appended until Capacity is
// reached, after which further additions for the period are dropped
// (counted by the caller via passive/dropstats if desired).
type Table struct {
	aRecords     [Capacity]ARecord
	aCount       int
	cnameRecords [Capacity]CNAMERecord
	cnameCount   int
}

// New returns an empty DNS table pair.
func New() *Table {
	return &Table{}
}

// A returns this period's A records in observation order.
func (t *Table) A() []ARecord {
	return t.aRecords[:t.aCount]
}

// CNAME returns this period's CNAME records in observation order.
func (t *Table) CNAME() []CNAMERecord {
	return t.cnameRecords[:t.cnameCount]
}

// AddA appends an A record, marked anonymized, unless the table is full.
func (t *Table) AddA(packetID, macID int, name string, ipv4 uint32) bool {
	if t.aCount >= Capacity {
		return false
	}
	t.aRecords[t.aCount] = ARecord{PacketID: packetID, MacID: macID, Name: name, IPv4: ipv4, Anonymized: true}
	t.aCount++
	return true
}

// AddCNAME appends a CNAME record, marked anonymized, unless the table is full.
func (t *Table) AddCNAME(packetID, macID int, name, target string) bool {
	if t.cnameCount >= Capacity {
		return false
	}
	t.cnameRecords[t.cnameCount] = CNAMERecord{PacketID: packetID, MacID: macID, Name: name, Target: target, Anonymized: true}
	t.cnameCount++
	return true
}

// Reset truncates both tables back to empty; called as part of flush's
// reset-and-rotate step. The backing arrays are reused, not reallocated.
func (t *Table) Reset() {
	t.aCount = 0
	t.cnameCount = 0
}

// MarkUnanonymized implements spec.md §4.G's three-step pass. It mutates the
// Anonymized flags on t.A and t.CNAME in place, and returns the set of IPv4
// addresses that must also be left unanonymized wherever they appear as a
// flow's source or destination among pendingFlows — the same slice the
// caller is about to serialize as this period's flow-table section. The
// caller fetches that slice once (flowtable.Table.PendingWrites marks each
// entry written, so it must not be fetched a second time for the same
// period) and passes it here before using it to emit the flow section.
func (t *Table) MarkUnanonymized(pendingFlows []flowtable.WrittenRecord, wl Whitelist) map[uint32]bool {
	a := t.aRecords[:t.aCount]
	cname := t.cnameRecords[:t.cnameCount]

	for i := range a {
		if wl.Match(a[i].Name) {
			a[i].Anonymized = false
		}
	}
	for i := range cname {
		if wl.Match(cname[i].Name) {
			cname[i].Anonymized = false
		}
	}

	// Closure step: propagate un-anonymization along CNAME chains to a
	// fixed point. Bounded by len(cname) iterations since each pass
	// that makes progress unanonymizes at least one more record.
	for pass := 0; pass < len(cname)+1; pass++ {
		changed := false
		for _, c := range cname {
			if c.Anonymized {
				continue
			}
			for i := range a {
				if a[i].Name == c.Target && a[i].Anonymized {
					a[i].Anonymized = false
					changed = true
				}
			}
			for i := range cname {
				if cname[i].Name == c.Target && cname[i].Anonymized {
					cname[i].Anonymized = false
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}

	doNotAnonymize := make(map[uint32]bool)
	for _, rec := range a {
		if !rec.Anonymized {
			doNotAnonymize[rec.IPv4] = true
		}
	}

	if len(doNotAnonymize) == 0 {
		return doNotAnonymize
	}

	for _, rec := range pendingFlows {
		if doNotAnonymize[rec.Key.SrcIP] || doNotAnonymize[rec.Key.DstIP] {
			doNotAnonymize[rec.Key.SrcIP] = true
			doNotAnonymize[rec.Key.DstIP] = true
		}
	}
	return doNotAnonymize
}
