// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WorkflowTransitions counts transition attempts by action and outcome.
	// outcome is one of: ok, validation, unauthorized, conflict, error.
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_workflow_transitions_total",
		Help: "Conversion workflow transition attempts by action and outcome.",
	}, []string{"action", "outcome"})

	// RateCacheLookups counts currency cache lookups by tier and result.
	RateCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currency_rate_cache_lookups_total",
		Help: "Exchange rate cache lookups by tier (near, far) and result (hit, miss).",
	}, []string{"tier", "result"})

	// RateSourceFallbacks counts times the static fallback table was used
	// because the external rate source failed.
	RateSourceFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "currency_rate_source_fallbacks_total",
		Help: "External rate source failures absorbed by the static fallback table.",
	})

	// RateSourceRequests counts outbound calls to the external rate source.
	RateSourceRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currency_rate_source_requests_total",
		Help: "Outbound exchange rate source requests by result (ok, error).",
	}, []string{"result"})
)
