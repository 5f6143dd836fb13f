// Package metrics exposes advisory in-process counters. They are per
// instance and never authoritative; the shared counter store carries all
// cross-instance state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "fleetgate"

// Metrics bundles the gateway's prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	BlockedTotal     *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
	StoreErrorsTotal prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// New creates and registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests processed by the gateway, by endpoint and status class.",
		}, []string{"endpoint", "status"}),
		BlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocked_total",
			Help:      "Requests blocked by the threat detector, by reason.",
		}, []string{"reason"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
		StoreErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Counter store failures observed on the request path.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Gateway request processing duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	reg.MustRegister(
		m.RequestsTotal,
		m.BlockedTotal,
		m.RateLimitedTotal,
		m.StoreErrorsTotal,
		m.RequestDuration,
		collectors.NewGoCollector(),
	)
	return m
}
