package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serverMetrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	accepted    prometheus.Counter
	resumed     prometheus.Counter
	framesIn    *prometheus.CounterVec
	framesOut   *prometheus.CounterVec
	published   *prometheus.CounterVec
	restCalls   *prometheus.CounterVec
}

func newServerMetrics() *serverMetrics {
	metrics := &serverMetrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fakeably", Name: "connections",
			Help: "Realtime connections with an open socket.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "connections_accepted_total",
			Help: "Realtime connections accepted, resumed ones included.",
		}),
		resumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "connections_resumed_total",
			Help: "Realtime connections resumed by connection key.",
		}),
		framesIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "frames_received_total",
			Help: "Protocol messages received, by action.",
		}, []string{"action"}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "frames_sent_total",
			Help: "Protocol messages written, by action.",
		}, []string{"action"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "messages_published_total",
			Help: "Messages accepted for publishing, by transport.",
		}, []string{"transport"}),
		restCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fakeably", Name: "rest_requests_total",
			Help: "REST requests served, by route and status code.",
		}, []string{"route", "code"}),
	}
	metrics.registry.MustRegister(
		metrics.connections, metrics.accepted, metrics.resumed,
		metrics.framesIn, metrics.framesOut, metrics.published, metrics.restCalls,
	)
	return metrics
}

func (metrics *serverMetrics) handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}
