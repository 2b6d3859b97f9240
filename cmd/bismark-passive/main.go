/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// bismark-passive captures traffic on an interface and periodically emits
// anonymized measurement snapshots for upload to the collection service.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/spf13/cobra"

	"bismark/ap_common/aputil"
	"bismark/ap_common/network"
	"bismark/passive/agent"
	"bismark/passive/metrics"
	"bismark/passive/threshold"
	"bismark/passive/update"
	"bismark/passive/whitelist"
)

const (
	pname = "bismark-passive"

	flushPeriod    = 60 * time.Second
	frequentPeriod = 5 * time.Second

	promAddr = ":3220"
)

var (
	whitelistPath           string
	identityPath            string
	dataDir                 string
	frequentUpdates         bool
	disableAnonymization    bool
	disableFlowThresholding bool
)

func openInterface(iface string) (*pcap.Handle, error) {
	if err := network.WaitForDevice(iface, time.Minute); err != nil {
		return nil, fmt.Errorf("%s: %v", iface, err)
	}

	handle, err := pcap.OpenLive(iface, 65536, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("pcap.OpenLive(%s): %v", iface, err)
	}
	return handle, nil
}

func captureLoop(handle *pcap.Handle, a *agent.Agent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		data, ci, err := handle.ReadPacketData()
		if err != nil {
			if err == pcap.NextErrorTimeoutExpired {
				continue
			}
			return
		}

		a.Ingest(ci.Timestamp.UnixNano()/1000, ci.Length, data)
	}
}

func run(cmd *cobra.Command, args []string) error {
	iface := args[0]

	log := aputil.NewLogger(pname)
	defer log.Sync()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir %s: %v", dataDir, err)
	}

	bismarkID, err := aputil.ReadNodeIdentity(identityPath)
	if err != nil {
		return fmt.Errorf("startup failed: %v", err)
	}
	aputil.ReportInit(log, pname, bismarkID, dataDir)

	wl, err := whitelist.Load(whitelistPath)
	if err != nil {
		log.Warnf("loading whitelist %s: %v (continuing with an empty whitelist)", whitelistPath, err)
	}

	var threshBytes uint64
	if !disableFlowThresholding {
		threshBytes = threshold.DefaultBytes
	}

	a, err := agent.New(agent.Config{
		BismarkID:               bismarkID,
		BuildID:                 pname,
		DataDir:                 dataDir,
		FrequentUpdates:         frequentUpdates,
		DisableAnonymization:    disableAnonymization,
		DisableFlowThresholding: disableFlowThresholding,
		ThresholdBytes:          threshBytes,
		Whitelist:               wl,
	}, log)
	if err != nil {
		aputil.ReportFatal("constructing agent: %v", err)
		return fmt.Errorf("constructing agent: %v", err)
	}

	if _, err := net.InterfaceByName(iface); err != nil {
		aputil.ReportFatal("interface %s: %v", iface, err)
		return fmt.Errorf("interface %s: %v", iface, err)
	}

	handle, err := openInterface(iface)
	if err != nil {
		aputil.ReportFatal("%v", err)
		return err
	}
	defer handle.Close()

	a.SetPcapStatsFunc(func() *update.PcapStats {
		stats, err := handle.Stats()
		if err != nil {
			return nil
		}
		return &update.PcapStats{
			Recv:   uint32(stats.PacketsReceived),
			Drop:   uint32(stats.PacketsDropped),
			IfDrop: uint32(stats.PacketsIfDropped),
		}
	})

	metrics.Register()
	metrics.Serve(promAddr)

	done := make(chan struct{})
	go captureLoop(handle, a, done)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	flushTicker := time.NewTicker(flushPeriod)
	defer flushTicker.Stop()

	var frequentTicker *time.Ticker
	var frequentChan <-chan time.Time
	if frequentUpdates {
		frequentTicker = time.NewTicker(frequentPeriod)
		defer frequentTicker.Stop()
		frequentChan = frequentTicker.C
	}

	flush := func(now time.Time) {
		start := time.Now()
		path, err := a.Flush(now)
		metrics.FlushDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			log.Errorw("flush failed", "error", err)
			aputil.ReportFatal("flush failed: %v", err)
			os.Exit(1)
		}
		log.Infow("wrote update", "path", path)
	}

	for {
		select {
		case now := <-flushTicker.C:
			flush(now)
		case now := <-frequentChan:
			if _, err := a.FlushFrequent(now); err != nil {
				log.Errorw("frequent flush failed", "error", err)
			}
		case received := <-sig:
			log.Infow("signal received, flushing and exiting", "signal", received)
			close(done)
			flush(time.Now())
			return nil
		}
	}
}

func main() {
	root := &cobra.Command{
		Use:   pname,
		Short: "Passive network measurement agent",
	}

	runCmd := &cobra.Command{
		Use:   "run <interface>",
		Short: "Capture on an interface and emit periodic anonymized snapshots",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
	runCmd.Flags().StringVar(&whitelistPath, "whitelist", "", "path to the domain whitelist file")
	runCmd.Flags().StringVar(&identityPath, "identity", "", "path to the node identity file")
	runCmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory in which update files are staged and written")
	runCmd.Flags().BoolVar(&frequentUpdates, "frequent-updates", false, "also emit the device-throughput-only frequent update")
	runCmd.Flags().BoolVar(&disableAnonymization, "disable-anonymization", false, "disable BLAKE2b anonymization of IPs and domain names")
	runCmd.Flags().BoolVar(&disableFlowThresholding, "disable-flow-thresholding", false, "disable the thresholded-ips.log side output")
	runCmd.MarkFlagRequired("identity")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
