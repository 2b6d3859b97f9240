/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 */

// Package metrics registers and serves the Prometheus collectors exposing
// the agent's table occupancy, drop counts, and flush latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FlowTableOccupancy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bismark_flow_table_occupancy",
			Help: "Number of occupied slots in the flow table.",
		})
	FlowTableDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bismark_flow_table_dropped_total",
			Help: "Number of flows dropped because the table was full with no TTL-eviction candidate.",
		})
	FlowTableExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bismark_flow_table_expired_total",
			Help: "Number of flow-table slots reclaimed via TTL eviction.",
		})
	PacketSeriesDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bismark_packet_series_discarded_total",
			Help: "Number of packets dropped because the packet series was full.",
		})
	DNSTableOccupancyA = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bismark_dns_a_table_occupancy",
			Help: "Number of A records held in the current period's DNS table.",
		})
	DNSTableOccupancyCNAME = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bismark_dns_cname_table_occupancy",
			Help: "Number of CNAME records held in the current period's DNS table.",
		})
	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "bismark_flush_duration_seconds",
			Help: "Wall-clock time spent writing and rotating an update file.",
		})
)

// Register adds every collector to the default Prometheus registry. Call
// once at startup.
func Register() {
	prometheus.MustRegister(
		FlowTableOccupancy,
		FlowTableDropped,
		FlowTableExpired,
		PacketSeriesDiscarded,
		DNSTableOccupancyA,
		DNSTableOccupancyCNAME,
		FlushDuration,
	)
}

// Serve exposes the registered collectors at /metrics on addr. It runs the
// HTTP server in its own goroutine and returns immediately.
func Serve(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, nil)
}
