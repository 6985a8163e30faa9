// Package metrics holds the Prometheus collectors for the API and the worker.
// Everything registers against the default registry, served at GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
	ResultAllowed = "allowed"
	ResultExpired = "expired"
	ResultInvalid = "invalid"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route pattern, and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route pattern.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// LoginAttemptsTotal is labelled by method (password, google) and result.
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Login attempts by method and result.",
		},
		[]string{"method", "result"},
	)

	TokenValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_validations_total",
			Help: "Access token validations by result (success, expired, invalid).",
		},
		[]string{"result"},
	)

	AuthorizationDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Organization authorization decisions by action and result.",
		},
		[]string{"action", "result"},
	)

	CorruptCredentialsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_corrupt_credentials_total",
			Help: "Stored password hashes that could not be parsed during verification.",
		},
	)

	UsageTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "usage_tasks_total",
			Help: "Usage accounting tasks processed by the worker, by task type and result.",
		},
		[]string{"type", "result"},
	)
)
