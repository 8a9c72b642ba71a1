// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers, middleware, and the builder.
package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/riku-miura/wiki-rag/internal/query"
	"github.com/riku-miura/wiki-rag/internal/session"
)

// labelHandler partitions HTTP metrics by the logical endpoint name rather
// than the raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// buildsTotal counts completed ingestion runs, partitioned by the
	// session's terminal status: "ready" or "failed".
	buildsTotal *prometheus.CounterVec

	// buildDurationSeconds records the wall-clock duration of each
	// ingestion run from fetch to persisted index.
	buildDurationSeconds *prometheus.HistogramVec

	// buildChunks records how many chunks each successful build produced.
	buildChunks prometheus.Histogram

	// queriesTotal counts completed /api/chat/query requests, partitioned
	// by outcome: "ok" or the query's error code.
	queriesTotal *prometheus.CounterVec

	// queryDurationSeconds records the end-to-end latency of each query,
	// retrieval and generation included.
	queryDurationSeconds *prometheus.HistogramVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics. promauto.With(reg) is used so that each call
// registers into the provided registry rather than the global default —
// this keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		buildsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikirag",
			Subsystem: "build",
			Name:      "sessions_total",
			Help:      "Total number of ingestion runs completed, partitioned by terminal status.",
		}, []string{"status"}),

		buildDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wikirag",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingestion runs from fetch to persisted index.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"status"}),

		buildChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wikirag",
			Subsystem: "build",
			Name:      "chunks",
			Help:      "Number of chunks produced per successful build.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		queriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikirag",
			Subsystem: "query",
			Name:      "requests_total",
			Help:      "Total number of /api/chat/query requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		queryDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wikirag",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end latency of queries, retrieval and generation included.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wikirag",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wikirag",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// ObserveBuild records one completed ingestion run. It satisfies the
// builder's metrics hook.
func (m *serverMetrics) ObserveBuild(status session.Status, chunks int, elapsed time.Duration) {
	m.buildsTotal.WithLabelValues(string(status)).Inc()
	m.buildDurationSeconds.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	if status == session.StatusReady {
		m.buildChunks.Observe(float64(chunks))
	}
}

// observeQuery records one completed query.
func (m *serverMetrics) observeQuery(res *query.Result, elapsed time.Duration) {
	outcome := "ok"
	if res.Failed() {
		outcome = res.ErrorCode
	}
	m.queriesTotal.WithLabelValues(outcome).Inc()
	m.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
