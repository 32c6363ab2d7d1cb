// Package metrics defines the gateway's Prometheus instruments on top of
// the shared collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"moorgate/pkg/monitoring"
)

// Metrics holds the gateway-specific instruments.
type Metrics struct {
	Collector *monitoring.MetricsCollector

	EventsAppended    *prometheus.CounterVec
	EventsBroadcast   *prometheus.CounterVec
	RateLimited       *prometheus.CounterVec
	EventsPruned      *prometheus.CounterVec
	PresenceUpdates   *prometheus.CounterVec
	ActiveConnections *prometheus.GaugeVec
	FramesTotal       *prometheus.CounterVec
}

// New registers the gateway instruments with the shared collector.
func New(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		Collector: collector,

		EventsAppended: collector.NewCounter(
			"events_appended_total",
			"Conversation events appended, by transport",
			[]string{"transport"},
		),
		EventsBroadcast: collector.NewCounter(
			"events_broadcast_total",
			"Conversation events handed to the subscription hub",
			[]string{},
		),
		RateLimited: collector.NewCounter(
			"rate_limited_total",
			"Requests rejected by the fixed-window limiter, by action",
			[]string{"action"},
		),
		EventsPruned: collector.NewCounter(
			"events_pruned_total",
			"Events removed by the retention sweeper",
			[]string{},
		),
		PresenceUpdates: collector.NewCounter(
			"presence_updates_total",
			"Presence updates fanned out to watchers",
			[]string{"status"},
		),
		ActiveConnections: collector.NewGauge(
			"stream_connections",
			"Open streaming connections, by kind",
			[]string{"kind"},
		),
		FramesTotal: collector.NewCounter(
			"frames_total",
			"Duplex frames processed, by direction and type",
			[]string{"direction", "type"},
		),
	}
}
