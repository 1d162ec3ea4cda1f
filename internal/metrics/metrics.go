// Package metrics はジョブと HTTP の Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics はプロセスごとのレジストリとメトリクスをまとめたものです。
// jobs.Observer を実装しているので、キューにそのまま渡せます。
type Metrics struct {
	registry *prometheus.Registry

	// counters
	enqueued        *prometheus.CounterVec
	completed       *prometheus.CounterVec
	failed          *prometheus.CounterVec
	attemptFailures *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec

	// gauges
	inFlight prometheus.Gauge

	// histograms
	duration     *prometheus.HistogramVec
	httpDuration *prometheus.HistogramVec
}

// New はメトリクスを作成して新しいレジストリに登録します。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_jobs_enqueued_total",
			Help: "Total number of PDF jobs enqueued",
		}, []string{"operation"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_jobs_completed_total",
			Help: "Total number of PDF jobs completed successfully",
		}, []string{"operation"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_jobs_failed_total",
			Help: "Total number of PDF jobs that exhausted their attempts",
		}, []string{"operation"}),
		attemptFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_job_attempt_failures_total",
			Help: "Total number of failed job attempts, including ones that were retried",
		}, []string{"operation"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdf_jobs_in_flight",
			Help: "Number of job attempts currently running",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_job_duration_seconds",
			Help:    "Duration of job attempts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"operation"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.enqueued,
		m.completed,
		m.failed,
		m.attemptFailures,
		m.httpRequests,
		m.inFlight,
		m.duration,
		m.httpDuration,
	)
	return m
}

// JobEnqueued はジョブ投入を記録します。
func (m *Metrics) JobEnqueued(operation string) {
	m.enqueued.WithLabelValues(operation).Inc()
}

// AttemptStarted は試行の開始を記録します。
func (m *Metrics) AttemptStarted(string) {
	m.inFlight.Inc()
}

// AttemptFinished は試行の終了を記録します。final は最後の試行かどうかです。
func (m *Metrics) AttemptFinished(operation string, err error, final bool, seconds float64) {
	m.inFlight.Dec()
	m.duration.WithLabelValues(operation).Observe(seconds)
	switch {
	case err == nil:
		m.completed.WithLabelValues(operation).Inc()
	case final:
		m.attemptFailures.WithLabelValues(operation).Inc()
		m.failed.WithLabelValues(operation).Inc()
	default:
		m.attemptFailures.WithLabelValues(operation).Inc()
	}
}

// Handler は /metrics 用のハンドラーです。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware は HTTP リクエスト数と処理時間を記録する gin ミドルウェアです。
// ルートはパラメーターを展開する前のパターンで記録します。
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
