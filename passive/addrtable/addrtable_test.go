/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package addrtable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupInsertsOnce(t *testing.T) {
	assert := require.New(t)

	tb := New()
	id1 := tb.Lookup(0x0a000001, 0x0011223344)
	id2 := tb.Lookup(0x0a000001, 0x0011223344)
	assert.Equal(id1, id2)

	slots := tb.Slots()
	assert.True(slots[id1].Occupied)
	assert.Equal(uint32(0x0a000001), slots[id1].IPv4)
}

func TestLookupDistinguishesPairs(t *testing.T) {
	assert := require.New(t)

	tb := New()
	id1 := tb.Lookup(0x0a000001, 0x01)
	id2 := tb.Lookup(0x0a000001, 0x02)
	id3 := tb.Lookup(0x0a000002, 0x01)
	assert.NotEqual(id1, id2)
	assert.NotEqual(id1, id3)
	assert.NotEqual(id2, id3)
}

func TestRingBufferWraps(t *testing.T) {
	assert := require.New(t)

	tb := New()
	for i := 0; i < Capacity; i++ {
		tb.Lookup(uint32(i), uint64(i))
	}
	// table is now full; one more distinct entry must overwrite slot 0
	tb.Lookup(uint32(Capacity), uint64(Capacity))

	slots := tb.Slots()
	assert.Equal(uint32(Capacity), slots[0].IPv4)
}

func TestSlotsReportsAllCapacityEntries(t *testing.T) {
	assert := require.New(t)

	tb := New()
	tb.Lookup(1, 1)
	slots := tb.Slots()
	assert.Len(slots, Capacity)

	occupied := 0
	for _, e := range slots {
		if e.Occupied {
			occupied++
		}
	}
	assert.Equal(1, occupied)
}
