/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package update implements the agent's update formatter: it renders one
// period's worth of table deltas into the gzip-compressed, newline-delimited
// text format the collection server expects, staging the output under a
// PENDING name and atomically renaming it into place.
package update

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"bismark/ap_common/network"
	"bismark/passive/addrtable"
	"bismark/passive/dnstable"
	"bismark/passive/dropstats"
	"bismark/passive/flowtable"
	"bismark/passive/packetseries"
)

// FileFormatVersion identifies the wire format this writer emits.
const FileFormatVersion = 4

// Anonymizer is the subset of passive/anon's interface the formatter needs.
type Anonymizer interface {
	Enabled() bool
	SaltID() string
	AnonymizeDomainName(name string) string
	AnonymizeIPv4(ipv4 string) string
}

// PcapStats are the optional capture-collaborator counters from pcap_stats;
// a nil pointer means they were unavailable and the line is omitted.
type PcapStats struct {
	Recv   uint32
	Drop   uint32
	IfDrop uint32
}

// Snapshot bundles everything one flush needs to render an update. The
// caller (passive/agent) is responsible for calling MarkUnanonymized on the
// DNS table, and for fetching flow-table pending writes, before building
// this snapshot, since both of those calls mutate state that must not be
// fetched twice in the same period.
type Snapshot struct {
	BismarkID       string
	BuildID         string
	StartTSMicros   int64
	SequenceNumber  uint64
	WallSeconds     int64
	Pcap            *PcapStats
	WhitelistNames  []string // only emitted when SequenceNumber == 0
	Anon            Anonymizer
	SeriesBase      int64
	SeriesRecords   []packetseries.Record
	FlowWrites      []flowtable.WrittenRecord
	DNSUnanonymized map[uint32]bool
	DNSA            []dnstable.ARecord
	DNSCNAME        []dnstable.CNAMERecord
	AddrSlots       [addrtable.Capacity]addrtable.Entry
	DropBuckets     []uint64
}

// flowIDString renders a flow-id the way the packet series and DNS sections
// reference it: a non-negative integer for a real flow-table slot, or the
// literal sentinel name for one of the reserved values.
func flowIDString(id int) string {
	switch id {
	case flowtable.FlowIDError:
		return "ERROR"
	case flowtable.SentinelARP:
		return "ARP"
	case flowtable.SentinelAARP:
		return "AARP"
	case flowtable.SentinelAT:
		return "AT"
	case flowtable.SentinelIPX:
		return "IPX"
	case flowtable.SentinelREVARP:
		return "REVARP"
	case flowtable.SentinelIPv6:
		return "IPV6"
	default:
		return fmt.Sprintf("%d", id)
	}
}

func ipv4String(ipv4 uint32) string {
	if ip := network.Uint32ToIPAddr(ipv4); ip != nil {
		return ip.String()
	}
	return "0.0.0.0"
}

func macString(mac uint64) string {
	return fmt.Sprintf("%x", []byte(network.Uint64ToHWAddr(mac)))
}

func protoString(p flowtable.Protocol) string {
	switch p {
	case flowtable.ProtoTCP:
		return "tcp"
	case flowtable.ProtoUDP:
		return "udp"
	default:
		return "other"
	}
}

func write(w *bufio.Writer, format string, args ...interface{}) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("writing update: %w", err)
	}
	return nil
}

func writeHeader(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n%s\n", FileFormatVersion, s.BuildID); err != nil {
		return err
	}
	if err := write(w, "%s %d %d %d\n", s.BismarkID, s.StartTSMicros, s.SequenceNumber, s.WallSeconds); err != nil {
		return err
	}
	if s.Pcap != nil {
		if err := write(w, "%d %d %d\n", s.Pcap.Recv, s.Pcap.Drop, s.Pcap.IfDrop); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeWhitelistSection(w *bufio.Writer, s *Snapshot) error {
	if s.SequenceNumber != 0 {
		return write(w, "\n")
	}
	if err := write(w, "%d\n", len(s.WhitelistNames)); err != nil {
		return err
	}
	for _, name := range s.WhitelistNames {
		if err := write(w, "%s\n", name); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeAnonymizationSection(w *bufio.Writer, s *Snapshot) error {
	if !s.Anon.Enabled() {
		return write(w, "UNANONYMIZED\n\n")
	}
	return write(w, "%s\n\n", s.Anon.SaltID())
}

func writePacketSeriesSection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", s.SeriesBase); err != nil {
		return err
	}
	if err := write(w, "%d\n", len(s.SeriesRecords)); err != nil {
		return err
	}
	for _, rec := range s.SeriesRecords {
		if err := write(w, "%d %d %s\n", rec.DeltaMicros, rec.SizeBytes, flowIDString(rec.FlowID)); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeFlowTableSection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", len(s.FlowWrites)); err != nil {
		return err
	}
	for _, rec := range s.FlowWrites {
		src, dst := ipv4String(rec.Key.SrcIP), ipv4String(rec.Key.DstIP)
		if s.Anon.Enabled() && !s.DNSUnanonymized[rec.Key.SrcIP] {
			src = s.Anon.AnonymizeIPv4(src)
		}
		if s.Anon.Enabled() && !s.DNSUnanonymized[rec.Key.DstIP] {
			dst = s.Anon.AnonymizeIPv4(dst)
		}
		err := write(w, "%d %s %s %s %d %d %d\n",
			rec.Slot, src, dst, protoString(rec.Key.Proto), rec.Key.SrcPort, rec.Key.DstPort, rec.Bytes)
		if err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func anonymizedName(s *Snapshot, name string, anonymized bool) string {
	if !anonymized || !s.Anon.Enabled() {
		return name
	}
	return s.Anon.AnonymizeDomainName(name)
}

func writeDNSASection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", len(s.DNSA)); err != nil {
		return err
	}
	for _, rec := range s.DNSA {
		name := anonymizedName(s, rec.Name, rec.Anonymized)
		ip := ipv4String(rec.IPv4)
		if rec.Anonymized && s.Anon.Enabled() {
			ip = s.Anon.AnonymizeIPv4(ip)
		}
		if err := write(w, "%d %d %s %s %t\n", rec.PacketID, rec.MacID, name, ip, !rec.Anonymized); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeDNSCNAMESection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", len(s.DNSCNAME)); err != nil {
		return err
	}
	for _, rec := range s.DNSCNAME {
		name := anonymizedName(s, rec.Name, rec.Anonymized)
		target := anonymizedName(s, rec.Target, rec.Anonymized)
		if err := write(w, "%d %d %s %s %t\n", rec.PacketID, rec.MacID, name, target, !rec.Anonymized); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeAddressTableSection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", addrtable.Capacity); err != nil {
		return err
	}
	for _, e := range s.AddrSlots {
		if !e.Occupied {
			if err := write(w, "-\n"); err != nil {
				return err
			}
			continue
		}
		ip := ipv4String(e.IPv4)
		mac := macString(e.Mac)
		if s.Anon.Enabled() {
			ip = s.Anon.AnonymizeIPv4(ip)
			mac = s.Anon.AnonymizeDomainName(mac)
		}
		if err := write(w, "%s %s\n", ip, mac); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

func writeDropStatsSection(w *bufio.Writer, s *Snapshot) error {
	if err := write(w, "%d\n", len(s.DropBuckets)); err != nil {
		return err
	}
	for _, c := range s.DropBuckets {
		if err := write(w, "%d\n", c); err != nil {
			return err
		}
	}
	return write(w, "\n")
}

// Render writes the full update stream to w, uncompressed. It is exported
// separately from Write so tests can inspect the plaintext form directly.
func Render(w io.Writer, s *Snapshot) error {
	bw := bufio.NewWriter(w)

	writers := []func(*bufio.Writer, *Snapshot) error{
		writeHeader,
		writeWhitelistSection,
		writeAnonymizationSection,
		writePacketSeriesSection,
		writeFlowTableSection,
		writeDNSASection,
		writeDNSCNAMESection,
		writeAddressTableSection,
		writeDropStatsSection,
	}
	for _, fn := range writers {
		if err := fn(bw, s); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Write renders the snapshot, gzip-compresses it, stages it at a PENDING_*
// path inside dir, and atomically renames it to its final name
// (bismark_id, start_ts_micros, sequence_number). Any failure along the way
// is returned for the caller to treat as fatal, per spec.md §7.
func Write(dir string, s *Snapshot) (string, error) {
	pendingPath := filepath.Join(dir, "PENDING_bismark-passive-update.gz")
	finalName := fmt.Sprintf("bismark-passive-update_%s_%d_%d.gz", s.BismarkID, s.StartTSMicros, s.SequenceNumber)
	finalPath := filepath.Join(dir, finalName)

	f, err := os.OpenFile(pendingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("opening pending update file: %w", err)
	}

	gz := gzip.NewWriter(f)
	if err := Render(gz, s); err != nil {
		gz.Close()
		f.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return "", fmt.Errorf("closing gzip stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("syncing pending update file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing pending update file: %w", err)
	}
	if err := os.Rename(pendingPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming update file into place: %w", err)
	}
	return finalPath, nil
}

// FrequentFileFormatVersion identifies the wire format of the high-cadence
// device-throughput update, independent of the main update's version.
const FrequentFileFormatVersion = 1

// FrequentSnapshot bundles what one frequent-update tick needs to render.
type FrequentSnapshot struct {
	BismarkID      string
	BuildID        string
	StartTSMicros  int64
	SequenceNumber uint64
	WallSeconds    int64
	Anon           Anonymizer
	Throughput     map[uint64]uint64 // MAC -> cumulative bytes this tick
}

// RenderFrequent writes the device-throughput-only update stream to w. Unlike
// the main update, the original implementation writes this file uncompressed,
// so callers should not wrap w in a gzip writer.
func RenderFrequent(w io.Writer, s *FrequentSnapshot) error {
	bw := bufio.NewWriter(w)

	if err := write(bw, "%d\n", FrequentFileFormatVersion); err != nil {
		return err
	}
	if err := write(bw, "%s %d\n\n", s.BuildID, s.WallSeconds); err != nil {
		return err
	}
	if !s.Anon.Enabled() {
		if err := write(bw, "UNANONYMIZED\n\n"); err != nil {
			return err
		}
	} else {
		if err := write(bw, "%s\n\n", s.Anon.SaltID()); err != nil {
			return err
		}
	}

	if err := write(bw, "%d\n", len(s.Throughput)); err != nil {
		return err
	}
	for mac, bytes := range s.Throughput {
		macStr := macString(mac)
		if s.Anon.Enabled() {
			macStr = s.Anon.AnonymizeDomainName(macStr)
		}
		if err := write(bw, "%s %d\n", macStr, bytes); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFrequent stages and atomically renames a frequent-update file,
// uncompressed, at dir. The final name carries (bismark_id, start_ts_micros,
// sequence_number) exactly like the main update's filename scheme.
func WriteFrequent(dir string, s *FrequentSnapshot) (string, error) {
	pendingPath := filepath.Join(dir, "PENDING_bismark-passive-frequent-update")
	finalName := fmt.Sprintf("bismark-passive-frequent-update_%s_%d_%d", s.BismarkID, s.StartTSMicros, s.SequenceNumber)
	finalPath := filepath.Join(dir, finalName)

	f, err := os.OpenFile(pendingPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("opening pending frequent update file: %w", err)
	}
	if err := RenderFrequent(f, s); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return "", fmt.Errorf("syncing pending frequent update file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing pending frequent update file: %w", err)
	}
	if err := os.Rename(pendingPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming frequent update file into place: %w", err)
	}
	return finalPath, nil
}
