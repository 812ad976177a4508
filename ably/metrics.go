package ably

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the client collectors. They are always live; registration
// happens only when a Registerer is configured.
type metrics struct {
	restRequests       *prometheus.CounterVec
	fallbackAttempts   prometheus.Counter
	channelTransitions *prometheus.CounterVec
	queuedMessages     prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	collectors := &metrics{
		restRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ably",
			Name:      "rest_requests_total",
			Help:      "REST request attempts by host and outcome.",
		}, []string{"host", "outcome"}),
		fallbackAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ably",
			Name:      "rest_fallback_attempts_total",
			Help:      "REST attempts made against a fallback host.",
		}),
		channelTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ably",
			Name:      "channel_state_transitions_total",
			Help:      "Channel state transitions by target state.",
		}, []string{"state"}),
		queuedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ably",
			Name:      "channel_queued_messages",
			Help:      "Outbound messages awaiting send or acknowledgment.",
		}),
	}
	if registerer != nil {
		collectors.restRequests = registerOrExisting(registerer, collectors.restRequests)
		collectors.fallbackAttempts = registerOrExisting(registerer, collectors.fallbackAttempts)
		collectors.channelTransitions = registerOrExisting(registerer, collectors.channelTransitions)
		collectors.queuedMessages = registerOrExisting(registerer, collectors.queuedMessages)
	}
	return collectors
}

// registerOrExisting registers collector, reusing an identical collector
// registered by an earlier client.
func registerOrExisting[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return collector
}
