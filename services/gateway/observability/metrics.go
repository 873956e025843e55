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
// Metrics are registered on an injected registry rather than the
// package default, so separate gateway instances (and tests) never
// collide.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "userplane"
	gatewaySubsystem = "gateway"
)

// UpstreamStatusError is the status label recorded when the upstream
// call failed before producing a status code.
const UpstreamStatusError = "error"

// Metrics holds all Prometheus collectors for the gateway.
//
// # Thread Safety
//
// Safe for concurrent use; Prometheus collectors synchronize
// internally.
type Metrics struct {
	// HTTPRequestsTotal counts completed requests by method, matched
	// route (or raw path when unmatched), and final status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDurationSeconds observes request latency with the
	// same labels as HTTPRequestsTotal.
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// UpstreamLatencySeconds observes round trips to the user
	// service, labeled by method and upstream status code ("error"
	// when the transport failed).
	UpstreamLatencySeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all gateway collectors on reg.
//
// # Inputs
//
//   - reg: Target registry. Must not be nil.
//
// # Outputs
//
//   - *Metrics: Registered collectors ready for use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "http_requests_total",
				Help:      "Completed HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method, route, and status.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),
		UpstreamLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "upstream_latency_seconds",
				Help:      "User service round-trip latency by method and upstream status.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "status"},
		),
	}
}

// RecordRequest observes one completed request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

// RecordUpstream observes one upstream round trip. Pass
// UpstreamStatusError as the status when no response was received.
func (m *Metrics) RecordUpstream(method, status string, duration time.Duration) {
	m.UpstreamLatencySeconds.WithLabelValues(method, status).Observe(duration.Seconds())
}

// UpstreamStatus renders an HTTP status code as an upstream label.
func UpstreamStatus(code int) string {
	return strconv.Itoa(code)
}
