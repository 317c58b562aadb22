package pacing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsPerMinuteGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialer",
		Subsystem: "pacing",
		Name:      "calls_per_minute",
		Help:      "Current pacing rate after throttling and the concurrency ceiling.",
	}, []string{"campaign"})

	callsPlacedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialer",
		Subsystem: "pacing",
		Name:      "calls_placed_total",
		Help:      "Calls dispatched to the gateway by the pacing loop.",
	}, []string{"campaign"})

	availableAgentsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialer",
		Subsystem: "pacing",
		Name:      "available_agents",
		Help:      "Agents available for the campaign at the last tick.",
	}, []string{"campaign"})

	abandonRateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dialer",
		Subsystem: "pacing",
		Name:      "abandon_rate",
		Help:      "Smoothed abandon rate at the last tick.",
	}, []string{"campaign"})

	throttleCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dialer",
		Subsystem: "pacing",
		Name:      "throttle_events_total",
		Help:      "Ticks on which the abandon threshold forced a throttle.",
	}, []string{"campaign"})
)
