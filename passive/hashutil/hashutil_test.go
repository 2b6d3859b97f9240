/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package hashutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStable(t *testing.T) {
	assert := require.New(t)

	a := Hash([]byte("10.0.0.1:1234->8.8.8.8:443/tcp"))
	b := Hash([]byte("10.0.0.1:1234->8.8.8.8:443/tcp"))
	assert.Equal(a, b)

	c := Hash([]byte("10.0.0.2:1234->8.8.8.8:443/tcp"))
	assert.NotEqual(a, c)
}

func TestProbeSequence(t *testing.T) {
	assert := require.New(t)

	h := Hash([]byte("key"))
	capacity := 16

	seen := map[int]bool{}
	for i := 0; i < NumProbes; i++ {
		p := Probe(h, i, capacity)
		assert.GreaterOrEqual(p, 0)
		assert.Less(p, capacity)
		seen[p] = true
	}
	// quadratic probing with small i across a reasonably sized table
	// shouldn't degenerate to the same slot every time
	assert.Greater(len(seen), 1)
}
