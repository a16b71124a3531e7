package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradecast_upstream_requests_total",
			Help: "Total upstream weather API requests",
		},
		[]string{"model", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradecast_upstream_latency_seconds",
			Help:    "Upstream weather API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	ModelFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradecast_model_failures_total",
			Help: "Total per-model fetch or parse failures",
		},
		[]string{"model"},
	)

	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradecast_cycles_total",
			Help: "Total update cycles by result",
		},
		[]string{"result"},
	)

	PendingStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gradecast_pending_forecasts_stored_total",
			Help: "Total pending forecast points stored",
		},
	)

	ForecastsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gradecast_forecasts_scored_total",
			Help: "Total pending forecasts reconciled into scores",
		},
	)

	PendingExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gradecast_pending_forecasts_expired_total",
			Help: "Total pending forecasts pruned unscored past the retention horizon",
		},
	)

	LeaderState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gradecast_leader",
			Help: "1 while this replica holds the cycle lease",
		},
	)
)
