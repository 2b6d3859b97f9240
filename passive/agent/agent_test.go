/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

package agent

import (
	"io/ioutil"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bismark/passive/whitelist"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func buildTCPPacket(t *testing.T, srcMac, dstMac net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMac,
		DstMAC:       dstMac,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		SYN:     true,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func newTestAgent(t *testing.T, dataDir string) *Agent {
	wl, err := whitelist.Load("")
	require.NoError(t, err)

	a, err := New(Config{
		BismarkID:            "test-node",
		BuildID:              "test-build",
		DataDir:              dataDir,
		DisableAnonymization: true,
		Whitelist:            wl,
	}, testLogger())
	require.NoError(t, err)
	return a
}

func TestSingleTCPPacketProducesOneFlowAndOneSeriesRecord(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "agent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	a := newTestAgent(t, dir)

	srcMac, _ := net.ParseMAC("00:11:22:33:44:55")
	dstMac, _ := net.ParseMAC("66:77:88:99:aa:bb")
	pkt := buildTCPPacket(t, srcMac, dstMac, net.ParseIP("10.0.0.1").To4(), net.ParseIP("8.8.8.8").To4(), 1234, 443, make([]byte, 1450))

	a.Ingest(1000000, len(pkt), pkt)

	assert.Equal(1, a.series.Len())
	recs := a.series.Records()
	assert.Equal(int64(0), recs[0].DeltaMicros)
	assert.Equal(0, recs[0].FlowID)
}

func TestSameFiveTupleTwicePackYieldsOneFlow(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "agent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	a := newTestAgent(t, dir)

	srcMac, _ := net.ParseMAC("00:11:22:33:44:55")
	dstMac, _ := net.ParseMAC("66:77:88:99:aa:bb")
	pkt := buildTCPPacket(t, srcMac, dstMac, net.ParseIP("10.0.0.1").To4(), net.ParseIP("8.8.8.8").To4(), 1234, 443, nil)

	a.Ingest(1000000, len(pkt), pkt)
	a.Ingest(1000001, len(pkt), pkt)

	recs := a.series.Records()
	assert.Len(recs, 2)
	assert.Equal(recs[0].FlowID, recs[1].FlowID)

	_, _, newFlows := a.flowTable.Stats()
	assert.EqualValues(1, newFlows)
}

func TestFlushProducesReadableGzipFile(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "agent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	a := newTestAgent(t, dir)

	srcMac, _ := net.ParseMAC("00:11:22:33:44:55")
	dstMac, _ := net.ParseMAC("66:77:88:99:aa:bb")
	pkt := buildTCPPacket(t, srcMac, dstMac, net.ParseIP("10.0.0.1").To4(), net.ParseIP("8.8.8.8").To4(), 1234, 443, nil)
	a.Ingest(1000000, len(pkt), pkt)

	path, err := a.Flush(time.Now())
	assert.NoError(err)

	f, err := os.Open(path)
	assert.NoError(err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	assert.NoError(err)
	defer gz.Close()

	contents, err := ioutil.ReadAll(gz)
	assert.NoError(err)
	assert.Contains(string(contents), "test-build")

	// sequence number and tables must have rotated
	assert.EqualValues(1, a.sequenceNumber)
	assert.Equal(0, a.series.Len())
}

func TestFlushSucceedsAcrossEmptyPeriods(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "agent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	a := newTestAgent(t, dir)

	_, err = a.Flush(time.Now())
	assert.NoError(err)
	_, err = a.Flush(time.Now())
	assert.NoError(err)
	assert.EqualValues(2, a.sequenceNumber)
}

func TestStartTSMicrosStableAcrossFlushes(t *testing.T) {
	assert := require.New(t)

	dir, err := ioutil.TempDir("", "agent")
	assert.NoError(err)
	defer os.RemoveAll(dir)

	a := newTestAgent(t, dir)
	initial := a.startTSMicros

	_, err = a.Flush(time.Now())
	assert.NoError(err)
	assert.Equal(initial, a.startTSMicros)

	_, err = a.Flush(time.Now())
	assert.NoError(err)
	assert.Equal(initial, a.startTSMicros)
}
