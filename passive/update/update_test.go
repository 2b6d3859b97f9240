/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package update

import (
	"bytes"
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"bismark/passive/addrtable"
	"bismark/passive/dnstable"
	"bismark/passive/flowtable"
	"bismark/passive/packetseries"
)

type fakeAnon struct {
	enabled bool
}

func (f fakeAnon) Enabled() bool              { return f.enabled }
func (f fakeAnon) SaltID() string             { return "deadbeefcafef00d" }
func (f fakeAnon) AnonymizeDomainName(n string) string {
	if !f.enabled {
		return n
	}
	return "anon-" + n
}
func (f fakeAnon) AnonymizeIPv4(ip string) string {
	if !f.enabled {
		return ip
	}
	return "anon-" + ip
}

func baseSnapshot() *Snapshot {
	return &Snapshot{
		BismarkID:      "node1",
		BuildID:        "test-build",
		StartTSMicros:  1000000,
		SequenceNumber: 0,
		WallSeconds:    1700000000,
		Anon:           fakeAnon{enabled: true},
		DropBuckets:    make([]uint64, 17),
	}
}

func TestRenderSeq0IncludesWhitelist(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.WhitelistNames = []string{"example.com"}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))

	out := buf.String()
	assert.Contains(out, "example.com")
	assert.True(strings.HasPrefix(out, "4\ntest-build\n"))
}

func TestRenderSeqNonZeroOmitsWhitelist(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.SequenceNumber = 1
	s.WhitelistNames = []string{"example.com"}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.NotContains(buf.String(), "example.com")
}

func TestRenderDisabledAnonymizationMarksUnanonymized(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.Anon = fakeAnon{enabled: false}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.Contains(buf.String(), "UNANONYMIZED")
}

func TestRenderPacketSeriesSection(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.SeriesBase = 1000000
	s.SeriesRecords = []packetseries.Record{
		{DeltaMicros: 0, SizeBytes: 1500, FlowID: 0},
	}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.Contains(buf.String(), "0 1500 0")
}

func TestRenderDNSRecordWhitelistedIsCleartext(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.DNSA = []dnstable.ARecord{
		{PacketID: 0, MacID: 0, Name: "example.com", IPv4: 0x5db8d822, Anonymized: false},
	}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.Contains(buf.String(), "example.com")
	assert.NotContains(buf.String(), "anon-example.com")
}

func TestRenderDNSRecordAnonymizedByDefault(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.DNSA = []dnstable.ARecord{
		{PacketID: 0, MacID: 0, Name: "tracker.example.com", IPv4: 0x01020304, Anonymized: true},
	}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.Contains(buf.String(), "anon-tracker.example.com")
}

func TestRenderAddressTableEmitsFullCapacity(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.AddrSlots[0] = addrtable.Entry{IPv4: 0x0a000001, Mac: 1, Occupied: true}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))

	lines := strings.Split(buf.String(), "\n")
	found := false
	for _, l := range lines {
		if l == "256" {
			found = true
		}
	}
	assert.True(found, "expected address table section count of 256")
}

func TestRenderFlowSectionRespectsDoNotAnonymize(t *testing.T) {
	assert := require.New(t)

	s := baseSnapshot()
	s.FlowWrites = []flowtable.WrittenRecord{
		{Slot: 0, Key: flowtable.Key{SrcIP: 0x0a0a0a0a, DstIP: 0x08080808, Proto: flowtable.ProtoTCP, SrcPort: 1234, DstPort: 443}, Bytes: 1500},
	}
	s.DNSUnanonymized = map[uint32]bool{0x0a0a0a0a: true}

	var buf bytes.Buffer
	assert.NoError(Render(&buf, s))
	assert.Contains(buf.String(), "10.10.10.10")
	assert.Contains(buf.String(), "anon-8.8.8.8")
}

func TestRenderFrequentContainsThroughputEntries(t *testing.T) {
	assert := require.New(t)

	s := &FrequentSnapshot{
		BismarkID:      "node1",
		BuildID:        "test-build",
		StartTSMicros:  1000000,
		SequenceNumber: 0,
		WallSeconds:    1700000000,
		Anon:           fakeAnon{enabled: false},
		Throughput:     map[uint64]uint64{1: 5000},
	}

	var buf bytes.Buffer
	assert.NoError(RenderFrequent(&buf, s))

	out := buf.String()
	assert.Contains(out, "1\n")
	assert.Contains(out, "5000")
	assert.Contains(out, "UNANONYMIZED")
}

func TestWriteFrequentStagesAndRenames(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "frequent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	s := &FrequentSnapshot{
		BismarkID:  "node1",
		BuildID:    "test-build",
		Anon:       fakeAnon{enabled: false},
		Throughput: map[uint64]uint64{},
	}
	path, err := WriteFrequent(dir, s)
	assert.NoError(err)

	_, err = os.Stat(path)
	assert.NoError(err)
}

func TestWriteStagesAndRenamesAtomically(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "update")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	s := baseSnapshot()
	path, err := Write(dir, s)
	assert.NoError(err)

	_, err = os.Stat(path)
	assert.NoError(err)

	_, err = os.Stat(dir + "/PENDING_bismark-passive-update.gz")
	assert.True(os.IsNotExist(err))
}
