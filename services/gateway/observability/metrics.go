// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the gateway.
//
// # Description
//
// Metrics cover connection lifecycle, room fan-out, and streaming session
// performance. They are observational only; nothing in the gateway's control
// flow reads a metric back.
//
// # Integration
//
// Exposed via the /metrics endpoint. Use with Prometheus + Grafana.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all gateway metrics.
const metricsNamespace = "streamgate"

// Subsystem for gateway metrics.
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the streaming chat
// gateway. Initialize once at startup via NewGatewayMetrics().
type GatewayMetrics struct {
	// ConnectionsTotal counts accepted WebSocket connections.
	ConnectionsTotal prometheus.Counter

	// ActiveConnections tracks currently registered connections.
	ActiveConnections prometheus.Gauge

	// AuthFailuresTotal counts rejected connection attempts.
	AuthFailuresTotal prometheus.Counter

	// EventsTotal counts outbound events by event name.
	EventsTotal *prometheus.CounterVec

	// ActiveStreams tracks currently streaming sessions.
	ActiveStreams prometheus.Gauge

	// StreamDurationSeconds measures total session duration by outcome
	// (completed, errored, cancelled).
	StreamDurationSeconds *prometheus.HistogramVec

	// TimeToFirstChunkSeconds measures latency from session start to the
	// first streamed chunk.
	TimeToFirstChunkSeconds prometheus.Histogram

	// SessionConflictsTotal counts start attempts rejected because the room
	// already had an active session.
	SessionConflictsTotal prometheus.Counter

	// DeliveryFailuresTotal counts per-recipient broadcast write failures.
	DeliveryFailuresTotal prometheus.Counter
}

// NewGatewayMetrics creates and registers all gateway metrics with the
// given registerer. Pass prometheus.DefaultRegisterer in production.
func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	factory := promauto.With(reg)
	return &GatewayMetrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "connections_total",
			Help:      "Accepted WebSocket connections.",
		}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "active_connections",
			Help:      "Currently registered connections.",
		}),
		AuthFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "auth_failures_total",
			Help:      "Connection attempts rejected at authentication.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "events_total",
			Help:      "Outbound events by event name.",
		}, []string{"event"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "active_streams",
			Help:      "Currently streaming sessions.",
		}),
		StreamDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "stream_duration_seconds",
			Help:      "Total streaming session duration by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"outcome"}),
		TimeToFirstChunkSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "time_to_first_chunk_seconds",
			Help:      "Latency from session start to first chunk.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		SessionConflictsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "session_conflicts_total",
			Help:      "Session starts rejected due to an active session.",
		}),
		DeliveryFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "delivery_failures_total",
			Help:      "Per-recipient broadcast write failures.",
		}),
	}
}

// ObserveStream records the outcome and duration of a finished session.
// Nil-safe so components can run without metrics in tests.
func (m *GatewayMetrics) ObserveStream(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveFirstChunk records time-to-first-chunk. Nil-safe.
func (m *GatewayMetrics) ObserveFirstChunk(latency time.Duration) {
	if m == nil {
		return
	}
	m.TimeToFirstChunkSeconds.Observe(latency.Seconds())
}

// StreamStarted increments the active stream gauge. Nil-safe.
func (m *GatewayMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamFinished decrements the active stream gauge. Nil-safe.
func (m *GatewayMetrics) StreamFinished() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// SessionConflict counts a rejected start. Nil-safe.
func (m *GatewayMetrics) SessionConflict() {
	if m == nil {
		return
	}
	m.SessionConflictsTotal.Inc()
}

// EventSent counts one outbound event by name. Nil-safe.
func (m *GatewayMetrics) EventSent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

// DeliveryFailed counts one per-recipient write failure. Nil-safe.
func (m *GatewayMetrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.DeliveryFailuresTotal.Inc()
}
