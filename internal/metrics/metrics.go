// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_http_requests_total",
			Help: "HTTP requests by route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundroom_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var (
	TemplateVersionsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_template_versions_saved_total",
			Help: "Template versions saved, by type and bump.",
		},
		[]string{"type", "bump"},
	)

	TemplateVersionsActivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_template_versions_activated_total",
			Help: "Activations and rollbacks, by type.",
		},
		[]string{"type"},
	)

	TemplateVersionsDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_template_versions_deleted_total",
			Help: "Deleted template versions, by type and whether another version was reactivated.",
		},
		[]string{"type", "reactivated"},
	)

	TemplateWriteConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_template_write_conflicts_total",
			Help: "Writes rejected by the single-active-version constraint.",
		},
		[]string{"operation"},
	)

	DiffsComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fundroom_template_diffs_total",
			Help: "Diffs computed between template versions.",
		},
	)

	DiffChanges = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fundroom_template_diff_changes",
			Help:    "Number of changes reported per diff.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)
)

var (
	DocumentsRendered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_documents_rendered_total",
			Help: "Generated documents by type, format and cache outcome.",
		},
		[]string{"type", "format", "cache"},
	)

	DocumentRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fundroom_document_render_duration_seconds",
			Help:    "Time spent generating documents, excluding cache hits.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"format"},
	)

	IntegrationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fundroom_integration_failures_total",
			Help: "Best-effort side effects that failed after a committed write.",
		},
		[]string{"integration"},
	)
)
