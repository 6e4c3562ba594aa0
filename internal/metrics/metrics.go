package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebox_submissions_total",
			Help: "Total number of judged submissions",
		},
		[]string{"language", "result"},
	)

	TestCasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "judgebox_test_cases_total",
			Help: "Total number of judged test cases",
		},
		[]string{"language", "status"},
	)

	TestCaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgebox_test_case_duration_ms",
			Help:    "Per-test-case execution time in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"language"},
	)

	PeakMemory = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "judgebox_peak_memory_bytes",
			Help:    "Peak memory usage per test case in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
		},
		[]string{"language"},
	)

	SandboxCreation = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "judgebox_sandbox_creation_ms",
			Help:    "Time to create and start a sandbox container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	TeardownFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judgebox_sandbox_teardown_failures_total",
			Help: "Sandbox releases that did not complete cleanly",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "judgebox_queue_depth",
			Help: "Current number of submissions waiting in the queue",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "judgebox_active_workers",
			Help: "Number of workers currently judging submissions",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "judgebox_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
