package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

var _ jobs.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New()

	m.JobEnqueued("watermark")
	m.AttemptStarted("watermark")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))

	m.AttemptFinished("watermark", errors.New("boom"), false, 0.2)
	m.AttemptStarted("watermark")
	m.AttemptFinished("watermark", errors.New("boom"), true, 0.2)
	m.AttemptStarted("noop")
	m.AttemptFinished("noop", nil, true, 0.1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("watermark")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.attemptFailures.WithLabelValues("watermark")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failed.WithLabelValues("watermark")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.completed.WithLabelValues("noop")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))
}

func TestHandlerAndMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/api/status/:jobId", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	m.JobEnqueued("noop")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `pdf_jobs_enqueued_total{operation="noop"} 1`), body)
	assert.Contains(t, body, `pdf_http_requests_total{method="GET",route="/api/status/:jobId",status="404"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
