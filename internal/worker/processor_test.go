package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/pdf"
	"github.com/yourusername/pdf-perfect/internal/pdf/pdftest"
	"github.com/yourusername/pdf-perfect/internal/storage"
)

type progressRecorder struct {
	mu     sync.Mutex
	values []int
	stages []string
}

func (r *progressRecorder) report(stage string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, percent)
	r.stages = append(r.stages, stage)
}

func newJob(id, operation string, params map[string]any) *jobs.Job {
	if params == nil {
		params = map[string]any{}
	}
	return &jobs.Job{
		ID:   id,
		Name: operation,
		Data: jobs.Data{
			FileID:    "file-1",
			Key:       storage.InputKey("file-1"),
			Operation: operation,
			Params:    params,
		},
		State:        jobs.StateActive,
		AttemptsMade: 1,
	}
}

func seededStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore("")
	require.NoError(t, store.Put(context.Background(), storage.InputKey("file-1"), pdftest.Minimal(2), "application/pdf"))
	return store
}

func TestHandleWritesOutputAndReportsProgress(t *testing.T) {
	store := seededStore(t)
	p := NewProcessor(store, pdf.DefaultRegistry(), nil)
	rec := &progressRecorder{}

	result, err := p.Handle(context.Background(), newJob("job-1", "noop", nil), rec.report)
	require.NoError(t, err)
	assert.Equal(t, "processed/job-1", result.Key)
	assert.Equal(t, []int{10, 30, 80, 100}, rec.values)
	assert.Equal(t, []string{stageDequeued, stageDownloaded, stageSerialized, stageCompleted}, rec.stages)

	out, err := store.Get(context.Background(), "processed/job-1")
	require.NoError(t, err)
	doc, err := pdf.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount())

	ct, _ := store.ContentType("processed/job-1")
	assert.Equal(t, "application/pdf", ct)
}

func TestHandleIsIdempotent(t *testing.T) {
	store := seededStore(t)
	p := NewProcessor(store, nil, nil)
	job := newJob("job-2", "process-pdf", nil)

	first, err := p.Handle(context.Background(), job, nil)
	require.NoError(t, err)
	second, err := p.Handle(context.Background(), job, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Key, second.Key)
	// 入力 1 件と成果物 1 件のみ
	assert.Equal(t, 2, store.Len())
}

func TestHandleMissingInput(t *testing.T) {
	store := storage.NewMemoryStore("")
	p := NewProcessor(store, nil, nil)
	rec := &progressRecorder{}

	_, err := p.Handle(context.Background(), newJob("job-3", "noop", nil), rec.report)
	require.Error(t, err)

	var pdfErr *pdf.Error
	require.True(t, errors.As(err, &pdfErr))
	assert.Equal(t, pdf.CodeInputNotFound, pdfErr.Code)
	assert.Equal(t, []int{10}, rec.values)
	assert.Equal(t, 0, store.Len())
}

func TestHandleUnsupportedOperation(t *testing.T) {
	store := seededStore(t)
	p := NewProcessor(store, nil, nil)

	_, err := p.Handle(context.Background(), newJob("job-4", "merge", nil), nil)
	var pdfErr *pdf.Error
	require.True(t, errors.As(err, &pdfErr))
	assert.Equal(t, pdf.CodeUnsupportedOperation, pdfErr.Code)
	assert.Contains(t, err.Error(), "UNSUPPORTED_OPERATION: ")

	_, err = store.Get(context.Background(), "processed/job-4")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHandleFallsBackToJobName(t *testing.T) {
	store := seededStore(t)
	p := NewProcessor(store, nil, nil)
	job := newJob("job-5", "extract-pages", map[string]any{"pages": "2"})
	job.Data.Operation = ""

	_, err := p.Handle(context.Background(), job, nil)
	require.NoError(t, err)

	out, err := store.Get(context.Background(), "processed/job-5")
	require.NoError(t, err)
	doc, err := pdf.Load(out)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.PageCount())
}

func TestHandleLoadsUploadedImage(t *testing.T) {
	store := seededStore(t)
	require.NoError(t, store.Put(context.Background(), storage.ImageKey("file-1"), pdftest.PNG, "image/png"))
	p := NewProcessor(store, nil, nil)

	job := newJob("job-6", "sign", map[string]any{ImageKeyParam: storage.ImageKey("file-1")})
	_, err := p.Handle(context.Background(), job, nil)
	require.NoError(t, err)

	job = newJob("job-7", "sign", map[string]any{ImageKeyParam: "raw/missing_image.png"})
	_, err = p.Handle(context.Background(), job, nil)
	var pdfErr *pdf.Error
	require.True(t, errors.As(err, &pdfErr))
	assert.Equal(t, pdf.CodeInputNotFound, pdfErr.Code)
}

// キューと組み合わせた通しの動作: 投入から完了まで
func TestProcessorWithMemoryQueue(t *testing.T) {
	store := seededStore(t)
	p := NewProcessor(store, nil, nil)

	policy := jobs.DefaultRetryPolicy()
	policy.BaseDelay = time.Millisecond
	q := jobs.NewMemoryQueue(jobs.NewMemoryStore(), policy, 2)
	require.NoError(t, q.Start(p.Handle))
	defer q.Shutdown()

	ok, err := q.Enqueue(context.Background(), "watermark", jobs.Data{
		FileID:    "file-1",
		Key:       storage.InputKey("file-1"),
		Operation: "watermark",
		Params:    map[string]any{"text": "DRAFT"},
	})
	require.NoError(t, err)

	bad, err := q.Enqueue(context.Background(), "noop", jobs.Data{
		FileID:    "file-2",
		Key:       storage.InputKey("file-2"),
		Operation: "noop",
		Params:    map[string]any{},
	})
	require.NoError(t, err)

	var done, failed *jobs.Job
	require.Eventually(t, func() bool {
		done, _ = q.GetJob(context.Background(), ok.ID)
		failed, _ = q.GetJob(context.Background(), bad.ID)
		return done != nil && failed != nil &&
			done.State == jobs.StateCompleted && failed.State == jobs.StateFailed
	}, 10*time.Second, 10*time.Millisecond)

	require.NotNil(t, done.ReturnValue)
	assert.Equal(t, storage.OutputKey(ok.ID), done.ReturnValue.Key)
	assert.Equal(t, 100, done.Progress)

	assert.Equal(t, 3, failed.AttemptsMade)
	assert.Contains(t, failed.FailedReason, "INPUT_NOT_FOUND")
	_, err = store.Get(context.Background(), storage.OutputKey(bad.ID))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
