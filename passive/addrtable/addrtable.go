/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package addrtable implements the agent's address table: a small ring
// buffer mapping (IPv4, MAC) pairs to the slot indices that DNS records
// reference. A linear scan is cheap at this table's fixed size.
package addrtable

// Capacity is the number of (ipv4, mac) slots in the ring buffer.
const Capacity = 256

// Entry is one occupied or empty address-table slot.
type Entry struct {
	IPv4     uint32
	Mac      uint64
	Occupied bool
}

// Table is the M-slot address ring buffer. The zero value is ready to use.
type Table struct {
	slots [Capacity]Entry
	next  int
}

// New returns an empty address table.
func New() *Table {
	return &Table{}
}

// Lookup returns the slot index holding (ipv4, mac), inserting it at the
// write cursor if no existing slot matches both fields exactly. The
// previous occupant of an overwritten slot, if any, is discarded silently.
func (t *Table) Lookup(ipv4 uint32, mac uint64) int {
	for i := range t.slots {
		e := &t.slots[i]
		if e.Occupied && e.IPv4 == ipv4 && e.Mac == mac {
			return i
		}
	}

	slot := t.next
	t.slots[slot] = Entry{IPv4: ipv4, Mac: mac, Occupied: true}
	t.next = (t.next + 1) % Capacity
	return slot
}

// Slots returns the table's contents in slot order, exactly as the
// formatter must emit them: Capacity records per flush, occupied or not.
func (t *Table) Slots() [Capacity]Entry {
	return t.slots
}
