package saga

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagaRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_saga_runs_total",
			Help: "Total number of story creation runs by outcome.",
		},
		[]string{"outcome"},
	)

	compensationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_saga_compensation_failures_total",
			Help: "Total number of failed compensation steps by step.",
		},
		[]string{"step"},
	)

	uploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "story_saga_upload_duration_seconds",
			Help:    "Duration of segment video uploads.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"status"},
	)
)
