// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package metrics exposes the runtime's Prometheus collectors. It is
// ambient observability, not a core component: no exposition server
// ships with the core runtime (a host process registers these
// collectors and serves them however it serves its own metrics), but
// the coordinator and subscriber registry call into it to record
// activity as it happens.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// EnvelopesDispatched counts every envelope the subscriber registry has
// fanned out, labeled by monitor id and tag (monitor_data|monitor_error).
var EnvelopesDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argos",
		Name:      "envelopes_dispatched_total",
		Help:      "Total number of envelopes dispatched through the subscriber registry.",
	},
	[]string{"monitor_id", "tag"},
)

// MonitorsActive tracks the number of coordinators currently supervised
// (i.e., monitors that have not yet exhausted their retry budget).
var MonitorsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "argos",
		Name:      "monitors_active",
		Help:      "Number of monitor coordinators currently running.",
	},
)

// RetryCount tracks the current retry_count of each active monitor.
var RetryCount = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "argos",
		Name:      "monitor_retry_count",
		Help:      "Current retry_count for each active monitor.",
	},
	[]string{"monitor_id"},
)

// MonitorsShutdown counts monitors that have terminated after
// exhausting their retry budget, labeled by monitor id.
var MonitorsShutdown = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argos",
		Name:      "monitors_shutdown_total",
		Help:      "Total number of monitors that terminated after exhausting retries.",
	},
	[]string{"monitor_id"},
)

// SubscriberDeliveries counts successful deliveries into a subscriber's
// inbox, labeled by subscriber name. A dropped delivery (full inbox) is
// not counted here; it is intentionally invisible to a dispatcher by
// design (spec §4.2 "non-blocking and best-effort").
var SubscriberDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "argos",
		Name:      "subscriber_deliveries_total",
		Help:      "Total number of envelopes delivered into a subscriber's inbox.",
	},
	[]string{"name"},
)

// Register adds every collector in this package to reg. Call once at
// startup with a dedicated registry (or prometheus.DefaultRegisterer).
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		EnvelopesDispatched, MonitorsActive, RetryCount, MonitorsShutdown, SubscriberDeliveries,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
