// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus collectors for the proxy executor and
// the chat subsystem.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ServiceCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_service_calls_total",
		Help: "Total number of proxied service executions by service type and outcome",
	}, []string{"service_type", "outcome"})

	ServiceCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "echo_service_call_duration_seconds",
		Help:    "Wall-clock duration of proxied service executions",
		Buckets: prometheus.DefBuckets,
	}, []string{"service_type"})

	ServiceCallRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_service_call_retries_total",
		Help: "Total number of retried upstream attempts by service type",
	}, []string{"service_type"})

	ChatConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "echo_chat_connections_active",
		Help: "Number of live WebSocket connections",
	})

	ChatFramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "echo_chat_frames_total",
		Help: "Total number of inbound chat frames by operation",
	}, []string{"op"})

	BusReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "echo_bus_reconnects_total",
		Help: "Total number of distribution-bus listener reconnects",
	})
)

// ObserveServiceCall records one completed execution.
func ObserveServiceCall(serviceType, outcome string, elapsed time.Duration) {
	if serviceType == "" {
		serviceType = "unknown"
	}
	ServiceCallsTotal.WithLabelValues(serviceType, outcome).Inc()
	ServiceCallDuration.WithLabelValues(serviceType).Observe(elapsed.Seconds())
}
