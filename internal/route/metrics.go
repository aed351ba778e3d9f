// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package route

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RoutedMessages counts messages handed to the router by addressing mode.
var RoutedMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adchub_routed_messages_total",
		Help: "Total number of messages routed by addressing mode",
	},
	[]string{"mode"},
)

// Deliveries counts per-recipient delivery outcomes.
var Deliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adchub_deliveries_total",
		Help: "Total number of per-recipient deliveries by outcome",
	},
	[]string{"outcome"},
)

// QueuedBytes observes a send queue's size each time a message is queued.
var QueuedBytes = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "adchub_send_queue_bytes",
		Help:    "Send queue size in bytes after a message was queued",
		Buckets: prometheus.ExponentialBuckets(512, 4, 8),
	},
)

// RegisterMetrics registers the routing metrics with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RoutedMessages)
	reg.MustRegister(Deliveries)
	reg.MustRegister(QueuedBytes)
}
