package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/live"
	"github.com/yourusername/pdf-perfect/internal/metrics"
	"github.com/yourusername/pdf-perfect/internal/pdf/pdftest"
	"github.com/yourusername/pdf-perfect/internal/storage"
	"github.com/yourusername/pdf-perfect/internal/worker"
)

const testPollInterval = 50 * time.Millisecond

type countingQueue struct {
	jobs.Queue
	enqueued atomic.Int32
}

func (q *countingQueue) Enqueue(ctx context.Context, name string, data jobs.Data) (*jobs.Job, error) {
	q.enqueued.Add(1)
	return q.Queue.Enqueue(ctx, name, data)
}

type harness struct {
	ts      *httptest.Server
	handler http.Handler
	queue   *countingQueue
	files   *storage.LocalStore
}

func testConfig() *config.Config {
	return &config.Config{
		GinMode:            gin.TestMode,
		CORSAllowedOrigins: "*",
		MaxUploadBytes:     1 << 20,
		SignedURLTTL:       time.Hour,
	}
}

// newHarness は MemoryQueue と LocalStore を使った API を httptest サーバーで起動します。
// handler が nil なら実際のワーカー処理を使います。
func newHarness(t *testing.T, handler jobs.Handler, tweak func(*Options)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{}
	h.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.handler.ServeHTTP(w, r)
	}))
	t.Cleanup(h.ts.Close)

	files, err := storage.NewLocalStore(t.TempDir(), h.ts.URL, "file-secret", nil)
	require.NoError(t, err)
	h.files = files

	policy := jobs.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	mq := jobs.NewMemoryQueue(jobs.NewMemoryStore(), policy, 2)
	if handler == nil {
		handler = worker.NewProcessor(files, nil, nil).Handle
	}
	require.NoError(t, mq.Start(handler))
	t.Cleanup(mq.Shutdown)
	h.queue = &countingQueue{Queue: mq}

	opts := Options{
		Config:  testConfig(),
		Queue:   h.queue,
		Storage: files,
		Live:    live.NewPoller(mq, testPollInterval, nil),
		Files:   files,
	}
	if tweak != nil {
		tweak(&opts)
	}
	h.handler = New(opts).Handler()
	return h
}

func (h *harness) serve(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

type part struct {
	field    string
	filename string
	data     []byte
}

func uploadRequest(t *testing.T, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func pdfPart() part {
	return part{field: "file", filename: "input.pdf", data: pdftest.Minimal(1)}
}

type uploadResponse struct {
	JobID  string `json:"jobId"`
	FileID string `json:"fileId"`
}

func (h *harness) upload(t *testing.T, fields map[string]string, parts ...part) uploadResponse {
	t.Helper()
	w := h.serve(uploadRequest(t, fields, parts...))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.JobID)
	require.NotEmpty(t, resp.FileID)
	return resp
}

type statusBody struct {
	ID           string       `json:"id"`
	State        jobs.State   `json:"state"`
	Progress     int          `json:"progress"`
	Result       *jobs.Result `json:"result"`
	DownloadURL  *string      `json:"downloadUrl"`
	FailedReason string       `json:"failedReason"`
	AttemptsMade int          `json:"attemptsMade"`
}

func (h *harness) status(t *testing.T, jobID string) (int, statusBody) {
	t.Helper()
	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/status/"+jobID, nil))
	var body statusBody
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func (h *harness) waitForState(t *testing.T, jobID string, want jobs.State) statusBody {
	t.Helper()
	var last statusBody
	require.Eventually(t, func() bool {
		code, body := h.status(t, jobID)
		last = body
		return code == http.StatusOK && body.State == want
	}, 10*time.Second, 10*time.Millisecond, "job %s never reached %s", jobID, want)
	return last
}

// gate はハンドラーを止めておくためのチャネルです。
type gate struct {
	ch   chan struct{}
	once sync.Once
}

// newGatedHarness は gate で止まるハンドラーを使う harness を作ります。
// キューの Shutdown より先に gate が開くよう、Cleanup は harness の後に登録します。
func newGatedHarness(t *testing.T, tweak func(*Options)) (*harness, *gate) {
	t.Helper()
	g := &gate{ch: make(chan struct{})}
	h := newHarness(t, g.handler, tweak)
	t.Cleanup(g.open)
	return h, g
}

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

func (g *gate) handler(_ context.Context, job *jobs.Job, progress jobs.ProgressFunc) (*jobs.Result, error) {
	progress("dequeued", 10)
	<-g.ch
	return &jobs.Result{Key: storage.OutputKey(job.ID)}, nil
}

func TestUploadProcessAndDownload(t *testing.T) {
	h := newHarness(t, nil, nil)

	resp := h.upload(t, map[string]string{"operation": "noop"}, pdfPart())
	done := h.waitForState(t, resp.JobID, jobs.StateCompleted)

	assert.Equal(t, resp.JobID, done.ID)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Equal(t, "processed/"+resp.JobID, done.Result.Key)
	require.NotNil(t, done.DownloadURL)

	res, err := http.Get(*done.DownloadURL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/pdf", res.Header.Get("Content-Type"))
	assert.Contains(t, res.Header.Get("Content-Disposition"), resp.JobID+".pdf")
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}

func TestUploadDefaultsToProcessPDF(t *testing.T) {
	h, _ := newGatedHarness(t, nil)

	resp := h.upload(t, nil, pdfPart())
	job, err := h.queue.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, DefaultOperation, job.Name)
	assert.Equal(t, DefaultOperation, job.Data.Operation)
	assert.Equal(t, storage.InputKey(resp.FileID), job.Data.Key)
	assert.Equal(t, resp.FileID, job.Data.FileID)

	stored, err := h.files.Get(context.Background(), storage.InputKey(resp.FileID))
	require.NoError(t, err)
	assert.Equal(t, pdftest.Minimal(1), stored)
}

func TestUploadWithoutFile(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.serve(uploadRequest(t, map[string]string{"operation": "noop"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No PDF file uploaded","code":"INVALID_INPUT"}`, w.Body.String())
	assert.Equal(t, int32(0), h.queue.enqueued.Load())
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.serve(uploadRequest(t, nil, part{field: "file", filename: "fake.pdf", data: []byte("hello, not a pdf")}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Only PDF files are accepted")
	assert.Equal(t, int32(0), h.queue.enqueued.Load())
}

func TestUploadTooLarge(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Config.MaxUploadBytes = 64
	})

	w := h.serve(uploadRequest(t, nil, pdfPart()))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, int32(0), h.queue.enqueued.Load())
}

func TestUploadMalformedParamsAreIgnored(t *testing.T) {
	h, _ := newGatedHarness(t, nil)

	resp := h.upload(t, map[string]string{"operation": "watermark", "params": "{not json"}, pdfPart())
	job, err := h.queue.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Empty(t, job.Data.Params)
	assert.Equal(t, "watermark", job.Data.Operation)
}

func TestUploadStoresImageAndMergesKey(t *testing.T) {
	h, _ := newGatedHarness(t, nil)

	resp := h.upload(t,
		map[string]string{"operation": "sign", "params": `{"position":"bottom-right"}`},
		pdfPart(),
		part{field: "image", filename: "sig.png", data: pdftest.PNG},
	)

	job, err := h.queue.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "bottom-right", job.Data.Params["position"])
	assert.Equal(t, storage.ImageKey(resp.FileID), job.Data.Params[worker.ImageKeyParam])

	img, err := h.files.Get(context.Background(), storage.ImageKey(resp.FileID))
	require.NoError(t, err)
	assert.Equal(t, pdftest.PNG, img)
}

func TestStatusUnknownJob(t *testing.T) {
	h := newHarness(t, nil, nil)

	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/status/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Job not found","code":"JOB_NOT_FOUND"}`, w.Body.String())
}

func TestStatusFailedJobHasNoDownloadURL(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, func(context.Context, *jobs.Job, jobs.ProgressFunc) (*jobs.Result, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}, nil)

	resp := h.upload(t, nil, pdfPart())
	failed := h.waitForState(t, resp.JobID, jobs.StateFailed)

	assert.Nil(t, failed.DownloadURL)
	assert.Nil(t, failed.Result)
	assert.Equal(t, 3, failed.AttemptsMade)
	assert.Equal(t, "boom", failed.FailedReason)
	assert.Equal(t, int32(3), calls.Load())

	// downloadUrl は null として出力される
	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID, nil))
	assert.Contains(t, w.Body.String(), `"downloadUrl":null`)
}

func TestStatusActiveJobHasNoDownloadURL(t *testing.T) {
	h, g := newGatedHarness(t, nil)

	resp := h.upload(t, nil, pdfPart())
	active := h.waitForState(t, resp.JobID, jobs.StateActive)
	assert.Nil(t, active.DownloadURL)
	require.Eventually(t, func() bool {
		_, body := h.status(t, resp.JobID)
		return body.Progress == 10 && body.DownloadURL == nil
	}, 5*time.Second, 10*time.Millisecond)

	g.open()
	done := h.waitForState(t, resp.JobID, jobs.StateCompleted)
	assert.NotNil(t, done.DownloadURL)
}

func wsURL(h *harness, jobID string) string {
	return "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws/status/" + jobID
}

func TestWebSocketClosesAfterCompletion(t *testing.T) {
	h, g := newGatedHarness(t, nil)
	resp := h.upload(t, nil, pdfPart())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, resp.JobID), nil)
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Contains(t, []any{"waiting", "active"}, first["state"])

	g.open()
	completedAt := time.Now()

	var sawCompleted bool
	for !sawCompleted {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["state"] == string(jobs.StateCompleted) {
			sawCompleted = true
			assert.EqualValues(t, 100, msg["progress"])
		}
	}

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
	assert.Less(t, time.Since(completedAt), live.DefaultInterval)
}

func TestWebSocketUnknownJob(t *testing.T) {
	h := newHarness(t, nil, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(h, "missing"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"Job not found"}`, string(payload))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestServerSentEvents(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp := h.upload(t, map[string]string{"operation": "noop"}, pdfPart())
	h.waitForState(t, resp.JobID, jobs.StateCompleted)

	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/status/"+resp.JobID+"/events", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "event:status")
	assert.Contains(t, w.Body.String(), `"state":"completed"`)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil, nil)

	for _, path := range []string{"/health", "/api/health"} {
		w := h.serve(httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, ServiceName, body["service"])
		assert.Contains(t, body, "uptime")
		assert.Contains(t, body, "timestamp")
	}
}

func TestFileRejectsInvalidToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	require.NoError(t, h.files.Put(context.Background(), "processed/abc", pdftest.Minimal(1), "application/pdf"))

	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/files/processed/abc?token=nope", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
}

type panickingQueue struct{ jobs.Queue }

func (panickingQueue) GetJob(context.Context, string) (*jobs.Job, error) {
	panic("store exploded")
}

func TestPanicRendersInternalError(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Queue = panickingQueue{Queue: o.Queue}
	})

	w := h.serve(httptest.NewRequest(http.MethodGet, "/api/status/any", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":{"message":"Internal server error","statusCode":500,"code":"INTERNAL_ERROR"}}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) {
		o.Metrics = metrics.New()
	})

	h.serve(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	w := h.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pdf_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
}

func TestUploadIsRateLimited(t *testing.T) {
	h, _ := newGatedHarness(t, func(o *Options) {
		o.Limiter = NewRateLimiter(RateLimitConfig{Limit: 2, Window: time.Minute})
	})

	h.upload(t, nil, pdfPart())
	h.upload(t, nil, pdfPart())

	w := h.serve(uploadRequest(t, nil, pdfPart()))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, int32(2), h.queue.enqueued.Load())
}
