// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "llmgateway"

// Metrics holds all Prometheus instruments this gateway exposes on /metrics.
//
// # Description
//
// Provides gauges and counters for monitoring model residency, queue
// pressure, and tool execution. Initialize once at startup via
// NewMetrics().
//
// # Fields
//
//   - LoadedModels: Gauge of models currently resident in the generator
//   - QueueDepth: Gauge of requests submitted to the scheduler and not
//     yet completed (queued or running)
//   - ToolInvocations: Counter of tool invocations by outcome
//
// # Thread Safety
//
// All operations are thread-safe via Prometheus's internal locking.
type Metrics struct {
	// LoadedModels tracks models currently resident in the generator.
	LoadedModels prometheus.Gauge

	// QueueDepth tracks requests submitted to the scheduler and not yet
	// completed, whether still queued or running.
	QueueDepth prometheus.Gauge

	// ToolInvocations counts tool invocations by outcome.
	// Labels: outcome (success, failure)
	ToolInvocations *prometheus.CounterVec
}

// NewMetrics creates and registers all gateway metrics.
//
// # Description
//
// Registers every instrument against the default Prometheus registry
// via promauto. Call once at startup; a second call panics on
// duplicate registration.
//
// # Outputs
//
//   - *Metrics: Registered instruments ready for use.
func NewMetrics() *Metrics {
	return &Metrics{
		LoadedModels: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "loaded_models",
			Help:      "Number of models currently resident in the generator.",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "queue_depth",
			Help:      "Number of requests submitted to the scheduler and not yet completed.",
		}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "tool_invocations_total",
			Help:      "Total tool invocations by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
