// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability wires the bridge's ambient metrics and tracing
// stack: Prometheus counters/gauges for restart/stream/latency
// visibility, and an OpenTelemetry tracer around the RPC and streaming
// path, built on otelgin + otlptracegrpc.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the bridge exposes at /metrics.
type Metrics struct {
	ChildRestarts    prometheus.Counter
	ActiveStreams    prometheus.GaugeFunc
	RpcLatency       prometheus.Histogram
	RequestsTotal    *prometheus.CounterVec
	CircuitOpenGauge prometheus.GaugeFunc
}

// NewMetrics registers every collector against reg. activeStreams and
// circuitOpen are callbacks so the gauges always reflect live state
// (the supervisor and registry, not a value Metrics itself tracks).
func NewMetrics(reg prometheus.Registerer, activeStreams func() float64, circuitOpen func() float64) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ChildRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "codexbridge_child_restarts_total",
			Help: "Number of times the codex child process has been restarted.",
		}),
		ActiveStreams: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "codexbridge_active_streams",
			Help: "Number of in-flight streaming chat completion requests.",
		}, activeStreams),
		RpcLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "codexbridge_rpc_latency_seconds",
			Help:    "Latency of tools/call round trips to the codex child.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "codexbridge_http_requests_total",
			Help: "Total chat completion HTTP requests by outcome.",
		}, []string{"outcome"}),
		CircuitOpenGauge: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "codexbridge_circuit_open",
			Help: "1 if the child-spawn circuit breaker is open, 0 otherwise.",
		}, circuitOpen),
	}
}
