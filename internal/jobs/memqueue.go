package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryQueue は単一プロセス内で完結するキューです。
// 取り出しは FIFO、同じジョブが同時に 2 つのワーカーに渡ることはありません。
type MemoryQueue struct {
	lc          *lifecycle
	log         *zap.Logger
	concurrency int

	mu      sync.Mutex
	pending []string
	queued  map[string]struct{}
	timers  map[string]*time.Timer
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryQueue は MemoryQueue を作成します。
func NewMemoryQueue(store Store, policy RetryPolicy, concurrency int, opts ...Option) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 5
	}
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		lc:          newLifecycle(store, policy, o),
		log:         o.logger,
		concurrency: concurrency,
		queued:      make(map[string]struct{}),
		timers:      make(map[string]*time.Timer),
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Enqueue はジョブを保存し、待ち行列の末尾に追加します。
func (q *MemoryQueue) Enqueue(ctx context.Context, name string, data Data) (*Job, error) {
	job, err := q.lc.create(ctx, name, data)
	if err != nil {
		return nil, err
	}
	q.push(job.ID)
	return job, nil
}

// GetJob はジョブのスナップショットを返します。
func (q *MemoryQueue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.lc.get(ctx, id)
}

// Start は concurrency 個のワーカーゴルーチンを起動します。
func (q *MemoryQueue) Start(handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go q.work(i+1, handler)
	}
	q.log.Info("in-memory workers started", zap.Int("concurrency", q.concurrency))
	return nil
}

// Shutdown は新しい取り出しを止め、処理中のジョブの完了を待ちます。
func (q *MemoryQueue) Shutdown() {
	q.cancel()
	q.mu.Lock()
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *MemoryQueue) work(id int, handler Handler) {
	defer q.wg.Done()
	log := q.log.With(zap.Int("worker", id))

	for {
		jobID, ok := q.next()
		if !ok {
			return
		}

		// シャットダウン中でも処理中の試行は最後まで実行する
		err := q.lc.attempt(context.WithoutCancel(q.ctx), jobID, handler, func(j *Job) bool {
			return !q.lc.policy.ShouldRetry(j.AttemptsMade)
		})
		if err == nil {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			log.Warn("dropping job without record", zap.String("job_id", jobID))
			continue
		}
		q.scheduleRetry(jobID)
	}
}

// next は待ち行列の先頭を取り出します。空の場合は通知かシャットダウンまで待ちます。
func (q *MemoryQueue) next() (string, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending = q.pending[1:]
			delete(q.queued, id)
			more := len(q.pending) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-q.ctx.Done():
			return "", false
		case <-q.wake:
		}
	}
}

func (q *MemoryQueue) push(id string) {
	q.mu.Lock()
	if _, dup := q.queued[id]; !dup {
		q.queued[id] = struct{}{}
		q.pending = append(q.pending, id)
	}
	q.mu.Unlock()
	q.signal()
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// scheduleRetry は失敗したジョブを、記録済みの再試行時刻に待ち行列へ戻します。
func (q *MemoryQueue) scheduleRetry(id string) {
	job, err := q.lc.store.Get(q.ctx, id)
	if err != nil || job.State != StateDelayed {
		return
	}
	delay := time.Duration(0)
	if job.NextAttemptAt != nil {
		delay = job.NextAttemptAt.Sub(q.lc.now())
	}
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
		q.push(id)
	})
}
