/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package throughput

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordCreditsBothEndpoints(t *testing.T) {
	assert := require.New(t)

	tb := New()
	tb.Record(1, 2, 100)

	snap := tb.Snapshot()
	assert.EqualValues(100, snap[1])
	assert.EqualValues(100, snap[2])
}

func TestRecordAccumulates(t *testing.T) {
	assert := require.New(t)

	tb := New()
	tb.Record(1, 2, 100)
	tb.Record(1, 3, 50)

	snap := tb.Snapshot()
	assert.EqualValues(150, snap[1])
}

func TestResetClears(t *testing.T) {
	assert := require.New(t)

	tb := New()
	tb.Record(1, 2, 100)
	tb.Reset()

	assert.Empty(tb.Snapshot())
}
