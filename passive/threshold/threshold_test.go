/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package threshold

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAppendsOnlyOverThreshold(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "threshold")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	path := dir + "/thresholded-ips.log"
	w := NewWriter(path, 1000)

	err = w.Write(1000000, 0, map[uint32]uint64{
		0x0a000001: 500,
		0x0a000002: 2000,
	})
	assert.NoError(err)

	contents, err := ioutil.ReadFile(path)
	assert.NoError(err)
	assert.Contains(string(contents), "10.0.0.2")
	assert.NotContains(string(contents), "10.0.0.1 ")
}

func TestWriteNoOpWhenNothingOverThreshold(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "threshold")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	path := dir + "/thresholded-ips.log"
	w := NewWriter(path, 1000)

	err = w.Write(1000000, 0, map[uint32]uint64{0x0a000001: 500})
	assert.NoError(err)

	_, statErr := os.Stat(path)
	assert.True(os.IsNotExist(statErr))
}
