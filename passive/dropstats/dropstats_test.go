/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package dropstats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordOverflowBucketsBySize(t *testing.T) {
	assert := require.New(t)

	s := New()
	s.RecordOverflow(64)
	s.RecordOverflow(65)
	s.RecordOverflow(1500)

	buckets := s.Buckets()
	var total uint64
	for _, c := range buckets {
		total += c
	}
	assert.EqualValues(3, total)
}

func TestSameSizeSameBucket(t *testing.T) {
	assert := require.New(t)

	s := New()
	s.RecordOverflow(1500)
	s.RecordOverflow(1500)

	buckets := s.Buckets()
	maxCount := uint64(0)
	for _, c := range buckets {
		if c > maxCount {
			maxCount = c
		}
	}
	assert.EqualValues(2, maxCount)
}

func TestResetZeroesAllBuckets(t *testing.T) {
	assert := require.New(t)

	s := New()
	s.RecordOverflow(128)
	s.Reset()

	buckets := s.Buckets()
	for _, c := range buckets {
		assert.EqualValues(0, c)
	}
}
