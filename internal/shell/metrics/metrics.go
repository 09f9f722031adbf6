// Package metrics registers the agent's Prometheus collectors, exposed
// alongside the Control Surface at /metrics for operators already running
// a Prometheus scraper.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MonitoredContainers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "watchtower",
		Name:      "monitored_containers",
		Help:      "Number of containers currently tracked in the registry.",
	})

	UpdatesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchtower",
		Name:      "updates_applied_total",
		Help:      "Total number of update apply procedures that completed successfully.",
	})

	UpdatesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchtower",
		Name:      "updates_failed_total",
		Help:      "Total number of update apply procedures that failed.",
	})

	RuntimeOutages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "watchtower",
		Name:      "runtime_outages_total",
		Help:      "Total number of times the runtime adapter was observed unavailable.",
	})

	CheckCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "watchtower",
		Name:      "check_cycle_duration_seconds",
		Help:      "Duration of one monitor loop reconciliation tick.",
		Buckets:   prometheus.DefBuckets,
	})
)
