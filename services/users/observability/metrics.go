// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the user service.
//
// # Description
//
// This package implements the user-service metric surface:
//   - Request counters and duration histograms (by method, route, status)
//   - Store-operation latency (by operation, outcome)
//   - A business gauge tracking the current record count
//
// # Integration
//
// Metrics register against an injected prometheus.Registerer and are
// exposed via the /metrics endpoint of the owning service. Nothing in
// this package touches the default registry, so tests and multiple
// service instances can each hold an isolated registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "userplane"

// Subsystem for user-service metrics
const usersSubsystem = "users"

// Outcome classifies how a store operation ended, for latency labeling.
type Outcome string

const (
	// OutcomeSuccess indicates the operation completed and found what
	// it was asked for.
	OutcomeSuccess Outcome = "success"

	// OutcomeMiss indicates the operation completed but the key was
	// absent (a GET on a missing record, a DELETE that removed nothing).
	OutcomeMiss Outcome = "miss"

	// OutcomeError indicates the operation failed.
	OutcomeError Outcome = "error"
)

// Metrics holds all Prometheus metrics for the user service.
//
// Initialize once per service instance via NewMetrics with the
// service's registry.
type Metrics struct {
	// HTTPRequestsTotal counts completed requests.
	// Labels: method, route (pattern, or raw path when unmatched), status
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDurationSeconds measures request latency.
	// Labels: method, route, status
	HTTPRequestDurationSeconds *prometheus.HistogramVec

	// StoreOpDurationSeconds measures individual store command latency.
	// Labels: operation (get, set, del, sadd, srem, smembers, mget, ping),
	// outcome (success, miss, error)
	StoreOpDurationSeconds *prometheus.HistogramVec

	// UsersTotal tracks the current number of user records: incremented
	// on create, decremented on delete, set to the authoritative count
	// on every list.
	UsersTotal prometheus.Gauge
}

// NewMetrics creates and registers all user-service metrics against
// the given registerer.
//
// # Inputs
//
//   - reg: Registry for this service instance. Must not be nil.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
//
// # Examples
//
//	reg := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(reg)
//
// # Limitations
//
//   - Panics if the same registerer sees NewMetrics twice (duplicate
//     registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: usersSubsystem,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by method, route, and status",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: usersSubsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method, route, and status",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "route", "status"},
		),

		StoreOpDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: usersSubsystem,
				Name:      "store_op_duration_seconds",
				Help:      "Store operation duration in seconds by operation and outcome",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "outcome"},
		),

		UsersTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				// No subsystem: "userplane_users_users_total" would stutter.
				Namespace: metricsNamespace,
				Name:      "users_total",
				Help:      "Current number of user records",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records one completed HTTP request. Satisfies
// httpware.RequestRecorder.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDurationSeconds.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

// RecordStoreOp records the latency of one store command.
func (m *Metrics) RecordStoreOp(operation string, outcome Outcome, duration time.Duration) {
	m.StoreOpDurationSeconds.WithLabelValues(operation, string(outcome)).Observe(duration.Seconds())
}

// UserCreated increments the record gauge.
func (m *Metrics) UserCreated() {
	m.UsersTotal.Inc()
}

// UserDeleted decrements the record gauge.
func (m *Metrics) UserDeleted() {
	m.UsersTotal.Dec()
}

// SetUserCount sets the record gauge to an authoritative count
// (observed during list operations).
func (m *Metrics) SetUserCount(n int) {
	m.UsersTotal.Set(float64(n))
}
