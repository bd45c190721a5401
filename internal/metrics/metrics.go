// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decisions counts admission outcomes by label: allowed, rate_limited,
	// quota_exceeded, invalid_key.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_decisions_total",
		Help: "Admission decisions by outcome.",
	}, []string{"outcome"})

	// Refunds counts refund calls by whether anything was actually undone.
	Refunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_refunds_total",
		Help: "Refund calls by result.",
	}, []string{"result"})

	// RequestDuration observes HTTP handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)
