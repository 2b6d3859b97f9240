/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package agent ties together the passive measurement tables into a single
// context: packet ingest, periodic flush, and the reset-and-rotate discipline
// that keeps each update file a clean delta against the last.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"go.uber.org/zap"

	"bismark/ap_common/network"
	"bismark/passive/addrtable"
	"bismark/passive/anon"
	"bismark/passive/dnsparse"
	"bismark/passive/dnstable"
	"bismark/passive/dropstats"
	"bismark/passive/flowtable"
	"bismark/passive/metrics"
	"bismark/passive/packetseries"
	"bismark/passive/threshold"
	"bismark/passive/throughput"
	"bismark/passive/update"
	"bismark/passive/whitelist"
)

const dnsPort = 53

const (
	idxEth int = iota
	idxIPv4
	idxARP
	idxUDP
	idxTCP
	idxMAX
)

// Config carries the startup-time choices that affect the agent's behavior.
type Config struct {
	BismarkID               string
	BuildID                 string
	DataDir                 string
	FrequentUpdates         bool
	DisableAnonymization    bool
	DisableFlowThresholding bool
	ThresholdBytes          uint64
	Whitelist               *whitelist.Whitelist
}

// Agent is the single mutable context for one running instance: every table
// named in the data model, plus the bookkeeping the period controller needs.
// It replaces the teacher's package-level globals with one explicit value
// threaded through Ingest and Flush.
type Agent struct {
	mu sync.Mutex

	cfg Config
	log *zap.SugaredLogger

	anon       *anon.Oracle
	addrTable  *addrtable.Table
	flowTable  *flowtable.Table
	dnsTable   *dnstable.Table
	series     *packetseries.Series
	drops      *dropstats.Stats
	throughput *throughput.Table
	thresholdW *threshold.Writer

	decodeLayers []gopacket.DecodingLayer
	parser       *gopacket.DecodingLayerParser

	startTSMicros    int64
	sequenceNumber   uint64
	frequentSequence uint64

	pcapStats func() *update.PcapStats
}

// New constructs an Agent with every table allocated at startup, matching
// the fixed-capacity, no-steady-state-allocation resource policy.
func New(cfg Config, log *zap.SugaredLogger) (*Agent, error) {
	var oracle *anon.Oracle
	var err error
	if cfg.DisableAnonymization {
		oracle = anon.NewDisabled()
	} else {
		oracle, err = anon.New()
		if err != nil {
			return nil, fmt.Errorf("initializing anonymization oracle: %w", err)
		}
	}

	if cfg.Whitelist == nil {
		cfg.Whitelist, _ = whitelist.Load("")
	}

	threshBytes := cfg.ThresholdBytes
	if threshBytes == 0 {
		threshBytes = threshold.DefaultBytes
	}

	a := &Agent{
		cfg:        cfg,
		log:        log,
		anon:       oracle,
		addrTable:  addrtable.New(),
		flowTable:  flowtable.New(),
		dnsTable:   dnstable.New(),
		series:     packetseries.New(),
		drops:      dropstats.New(),
		throughput: throughput.New(),
	}
	if !cfg.DisableFlowThresholding {
		a.thresholdW = threshold.NewWriter(cfg.DataDir+"/thresholded-ips.log", threshBytes)
	}

	a.decodeLayers = make([]gopacket.DecodingLayer, idxMAX)
	a.decodeLayers[idxEth] = &layers.Ethernet{}
	a.decodeLayers[idxIPv4] = &layers.IPv4{}
	a.decodeLayers[idxARP] = &layers.ARP{}
	a.decodeLayers[idxUDP] = &layers.UDP{}
	a.decodeLayers[idxTCP] = &layers.TCP{}
	a.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, a.decodeLayers...)

	a.startTSMicros = nowMicros()

	return a, nil
}

// SetPcapStatsFunc installs the callback Flush uses to fetch the capture
// collaborator's recv/drop/ifdrop counters. Left unset, the update's pcap
// line is simply omitted.
func (a *Agent) SetPcapStatsFunc(f func() *update.PcapStats) {
	a.pcapStats = f
}

func nowMicros() int64 {
	return time.Now().UnixNano() / 1000
}

// Legacy EtherType values with no named constant in gopacket/layers, kept
// as raw numbers since layers.EthernetType is just a uint16.
const (
	etherTypeRevArp       layers.EthernetType = 0x8035
	etherTypeAppleTalk    layers.EthernetType = 0x809b
	etherTypeAppleTalkArp layers.EthernetType = 0x80f3
	etherTypeIPX          layers.EthernetType = 0x8137
)

// sentinelForEtherType maps an Ethernet frame's EtherType to the packet
// series' default flow-id for anything that never reaches an IPv4 5-tuple.
func sentinelForEtherType(et layers.EthernetType) int {
	switch et {
	case layers.EthernetTypeIPv6:
		return flowtable.SentinelIPv6
	case layers.EthernetTypeARP:
		return flowtable.SentinelARP
	case etherTypeRevArp:
		return flowtable.SentinelREVARP
	case etherTypeAppleTalkArp:
		return flowtable.SentinelAARP
	case etherTypeAppleTalk:
		return flowtable.SentinelAT
	case etherTypeIPX:
		return flowtable.SentinelIPX
	default:
		return flowtable.FlowIDError
	}
}

// Ingest processes one captured packet. captured must not be retained past
// this call; the agent copies whatever bytes its tables need before
// returning. packetTS is the packet's capture timestamp in microseconds,
// fullLen the packet's wire length (used for drop and series accounting,
// and may exceed len(captured) under a truncating snap length).
func (a *Agent) Ingest(packetTS int64, fullLen int, captured []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var decoded []gopacket.LayerType
	// DecodeLayers reports an error at the first layer it has no decoder
	// for (e.g. a TCP payload); the layers decoded before that are still
	// usable.
	if err := a.parser.DecodeLayers(captured, &decoded); err != nil && len(decoded) == 0 {
		// Can't even parse the Ethernet header; nothing useful to record.
		return
	}

	var srcMac, dstMac uint64
	var ipv4 *layers.IPv4
	var tcp *layers.TCP
	var udp *layers.UDP
	flowID := flowtable.SentinelAT

	for _, typ := range decoded {
		switch typ {
		case layers.LayerTypeEthernet:
			eth := a.decodeLayers[idxEth].(*layers.Ethernet)
			srcMac = network.HWAddrToUint64(eth.SrcMAC)
			dstMac = network.HWAddrToUint64(eth.DstMAC)
			flowID = sentinelForEtherType(eth.EthernetType)
		case layers.LayerTypeIPv4:
			ipv4 = a.decodeLayers[idxIPv4].(*layers.IPv4)
		case layers.LayerTypeTCP:
			tcp = a.decodeLayers[idxTCP].(*layers.TCP)
		case layers.LayerTypeUDP:
			udp = a.decodeLayers[idxUDP].(*layers.UDP)
		}
	}

	if a.cfg.FrequentUpdates {
		a.throughput.Record(srcMac, dstMac, uint64(fullLen))
	}

	if ipv4 != nil {
		flowID = a.processIPv4Flow(ipv4, tcp, udp, packetTS, fullLen, srcMac, dstMac)
	}

	packetID := a.series.AddPacket(packetTS, uint32(fullLen), flowID)
	if packetID == -1 {
		a.drops.RecordOverflow(uint32(fullLen))
		metrics.PacketSeriesDiscarded.Inc()
		return
	}

	if udp != nil && udp.SrcPort == dnsPort && ipv4 != nil {
		a.parseDNS(udp, ipv4, dstMac, packetID)
	}
}

// processIPv4Flow updates the address table for both endpoints and assigns
// or refreshes the packet's flow-id.
func (a *Agent) processIPv4Flow(ipv4 *layers.IPv4, tcp *layers.TCP, udp *layers.UDP, packetTS int64, fullLen int, srcMac, dstMac uint64) int {
	srcIP := network.IPAddrToUint32(ipv4.SrcIP)
	dstIP := network.IPAddrToUint32(ipv4.DstIP)
	a.addrTable.Lookup(srcIP, srcMac)
	a.addrTable.Lookup(dstIP, dstMac)

	key := flowtable.Key{SrcIP: srcIP, DstIP: dstIP}
	switch {
	case tcp != nil:
		key.Proto = flowtable.ProtoTCP
		key.SrcPort = uint16(tcp.SrcPort)
		key.DstPort = uint16(tcp.DstPort)
	case udp != nil:
		key.Proto = flowtable.ProtoUDP
		key.SrcPort = uint16(udp.SrcPort)
		key.DstPort = uint16(udp.DstPort)
	default:
		key.Proto = flowtable.ProtoOther
	}

	nowSeconds := packetTS / 1000000
	return a.flowTable.Process(key, nowSeconds, uint64(fullLen))
}

// parseDNS extracts A/CNAME answers from a DNS response and appends them to
// this period's DNS tables, linking each to packetID and the querying
// client's address-table slot (the response's destination IP and MAC).
func (a *Agent) parseDNS(udp *layers.UDP, ipv4 *layers.IPv4, clientMac uint64, packetID int) {
	macID := a.addrTable.Lookup(network.IPAddrToUint32(ipv4.DstIP), clientMac)

	result := dnsparse.Parse(udp.Payload)
	for _, ans := range result.Answers {
		var ok bool
		if ans.IsA {
			ok = a.dnsTable.AddA(packetID, macID, ans.Name, ans.IPv4)
		} else {
			ok = a.dnsTable.AddCNAME(packetID, macID, ans.Name, ans.Target)
		}
		if !ok {
			return // table full; remaining answers in this message are dropped too
		}
	}
}

// Flush implements the write_update() ordering from the original
// implementation: (1) optionally write the flow-thresholding side log, (2)
// mark_unanonymized, (3) write every section, (4) rename, (5) only then
// reset and rotate the tables. now is the wall-clock time of this flush.
func (a *Agent) Flush(now time.Time) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.thresholdW != nil {
		perIP := a.flowTable.PerIPBytes()
		if err := a.thresholdW.Write(a.startTSMicros, a.sequenceNumber, perIP); err != nil {
			a.log.Warnw("failed to write thresholded-ips log", "error", err)
		}
	}

	pendingFlows := a.flowTable.PendingWrites()
	doNotAnon := a.dnsTable.MarkUnanonymized(pendingFlows, a.cfg.Whitelist)

	var pcap *update.PcapStats
	if a.pcapStats != nil {
		pcap = a.pcapStats()
	}

	var whitelistNames []string
	if a.sequenceNumber == 0 {
		whitelistNames = a.cfg.Whitelist.Names()
	}

	dropped, expired, _ := a.flowTable.Stats()
	metrics.FlowTableDropped.Add(float64(dropped))
	metrics.FlowTableExpired.Add(float64(expired))
	metrics.FlowTableOccupancy.Set(float64(a.flowTable.Occupancy()))
	metrics.DNSTableOccupancyA.Set(float64(len(a.dnsTable.A())))
	metrics.DNSTableOccupancyCNAME.Set(float64(len(a.dnsTable.CNAME())))

	dropBuckets := a.drops.Buckets()
	snap := &update.Snapshot{
		BismarkID:       a.cfg.BismarkID,
		BuildID:         a.cfg.BuildID,
		StartTSMicros:   a.startTSMicros,
		SequenceNumber:  a.sequenceNumber,
		WallSeconds:     now.Unix(),
		Pcap:            pcap,
		WhitelistNames:  whitelistNames,
		Anon:            a.anon,
		SeriesBase:      a.series.BaseMicros(),
		SeriesRecords:   a.series.Records(),
		FlowWrites:      pendingFlows,
		DNSUnanonymized: doNotAnon,
		DNSA:            a.dnsTable.A(),
		DNSCNAME:        a.dnsTable.CNAME(),
		AddrSlots:       a.addrTable.Slots(),
		DropBuckets:     dropBuckets[:],
	}

	path, err := update.Write(a.cfg.DataDir, snap)
	if err != nil {
		return "", err
	}

	a.sequenceNumber++
	a.series.Reset()
	a.flowTable.AdvanceBaseTimestamp()
	a.flowTable.ResetStats()
	a.dnsTable.Reset()
	a.drops.Reset()

	return path, nil
}

// FlushFrequent writes the smaller, high-cadence update file containing only
// the device-throughput table. It is a no-op, returning ("", nil), unless
// frequent updates are enabled.
func (a *Agent) FlushFrequent(now time.Time) (string, error) {
	if !a.cfg.FrequentUpdates {
		return "", nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path, err := update.WriteFrequent(a.cfg.DataDir, &update.FrequentSnapshot{
		BismarkID:      a.cfg.BismarkID,
		BuildID:        a.cfg.BuildID,
		StartTSMicros:  a.startTSMicros,
		SequenceNumber: a.frequentSequence,
		WallSeconds:    now.Unix(),
		Anon:           a.anon,
		Throughput:     a.throughput.Snapshot(),
	})
	if err != nil {
		return "", err
	}

	a.frequentSequence++
	a.throughput.Reset()
	return path, nil
}
