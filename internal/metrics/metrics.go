// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors for the supervisor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts judge verdicts by verdict and source.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_decisions_total",
		Help: "Judge decisions by verdict and source.",
	}, []string{"verdict", "source"})

	// Interventions counts blocked playbacks that triggered a replacement.
	Interventions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_interventions_total",
		Help: "Playback interventions by outcome.",
	}, []string{"outcome"})

	// SponsorSkips counts attempted SponsorBlock segment skips.
	SponsorSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_sponsorblock_skips_total",
		Help: "SponsorBlock skip attempts by status.",
	}, []string{"status"})

	// BusDrops counts live events dropped from full subscriber queues.
	BusDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_bus_dropped_events_total",
		Help: "Live events dropped because a subscriber queue was full.",
	})

	// DevicesConnected tracks workers currently in the connected state.
	DevicesConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_devices_connected",
		Help: "Devices with an active lounge subscription.",
	})

	// MonitoringActive is 1 while enforcement is effectively on.
	MonitoringActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_monitoring_active",
		Help: "Whether enforcement is effectively active.",
	})

	// JudgeFatalErrors counts fatal LLM failures (auth, quota).
	JudgeFatalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_judge_fatal_errors_total",
		Help: "Fatal judge failures that degraded the service.",
	})

	// MQTTPublishes counts MQTT state publishes by result.
	MQTTPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_mqtt_publishes_total",
		Help: "MQTT publishes by result.",
	}, []string{"result"})
)

// SetBoolGauge writes 0/1 to a gauge.
func SetBoolGauge(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
		return
	}
	g.Set(0)
}
