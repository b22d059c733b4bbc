// MITMWatch - MITM Traffic Simulation and Anomaly Detection Lab
// Copyright 2026 M. Reveil (mreveil)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreveil/mitmwatch

// Package metrics provides Prometheus instrumentation for the MITMWatch
// pipeline: traffic volumes on each hop, relay manipulations, and the alerts
// raised by the detection engine. All metrics are registered on the default
// registry and exposed by the ops server at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sender metrics
	MessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitmwatch_messages_sent_total",
			Help: "Total number of messages emitted by the sender",
		},
	)

	// Relay metrics
	RelayForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitmwatch_relay_forwarded_total",
			Help: "Total number of lines forwarded by the relay",
		},
		[]string{"mode", "direction"}, // direction: "upstream", "downstream"
	)

	RelayDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitmwatch_relay_dropped_total",
			Help: "Total number of lines discarded by drop mode",
		},
	)

	RelayDelaySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mitmwatch_relay_delay_seconds",
			Help:    "Artificial lag injected by delay mode",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10, 15}, // delay mode defaults to 3s
		},
	)

	RelayActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitmwatch_relay_active_sessions",
			Help: "Current number of client sessions piped through the relay",
		},
	)

	RelayUpstreamDialErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitmwatch_relay_upstream_dial_errors_total",
			Help: "Total number of failed dials to the upstream receiver",
		},
	)

	// Receiver / detection metrics
	MessagesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mitmwatch_messages_processed_total",
			Help: "Total number of lines processed by the detection engine",
		},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mitmwatch_alerts_total",
			Help: "Total number of alerts raised, by kind",
		},
		[]string{"kind"}, // "replay", "reorder", "delay_attack", "integrity_violation"
	)

	ReceiverActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mitmwatch_receiver_active_sessions",
			Help: "Current number of connected sender sessions on the receiver",
		},
	)

	ObservedTransitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mitmwatch_observed_transit_seconds",
			Help:    "Sender-timestamp to arrival deltas observed by the receiver",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 3, 5, 10, 15},
		},
	)
)
