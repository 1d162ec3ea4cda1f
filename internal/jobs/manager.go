package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	taskTypePDF      = "pdf:process"
	defaultQueueName = "pdf-processing"
)

// ManagerConfig は Asynq ベースのキューの設定です。
type ManagerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Policy      RetryPolicy
	// PollInterval は空キューと retry/scheduled の確認間隔です。0 なら Asynq の既定値を使います。
	PollInterval time.Duration
}

// Manager はジョブの投入と状態管理を Asynq と Store で行います。
type Manager struct {
	redisOpt    asynq.RedisConnOpt
	client      *asynq.Client
	server      *asynq.Server
	queue       string
	concurrency int
	poll        time.Duration
	lc          *lifecycle
	log         *zap.Logger
}

// taskPayload は Asynq に載せるペイロードです。ジョブ本体は Store 側にあります。
type taskPayload struct {
	JobID string `json:"jobId"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg ManagerConfig, store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if cfg.QueueName == "" {
		cfg.QueueName = defaultQueueName
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}

	o := buildOptions(opts)
	return &Manager{
		redisOpt:    opt,
		client:      asynq.NewClient(opt),
		queue:       cfg.QueueName,
		concurrency: cfg.Concurrency,
		poll:        cfg.PollInterval,
		lc:          newLifecycle(store, cfg.Policy, o),
		log:         o.logger,
	}, nil
}

// Enqueue はジョブを waiting として保存し、Asynq に投入します。
func (m *Manager) Enqueue(ctx context.Context, name string, data Data) (*Job, error) {
	job, err := m.lc.create(ctx, name, data)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(taskPayload{JobID: job.ID})
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(taskTypePDF, body, asynq.Queue(m.queue))
	_, err = m.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.ID),
		asynq.MaxRetry(m.lc.policy.MaxAttempts-1),
	)
	if err != nil {
		// 投入できなかったジョブが waiting のまま残らないよう失敗として記録する
		if _, markErr := m.lc.fail(context.WithoutCancel(ctx), job.ID, fmt.Errorf("enqueue failed: %w", err), true, 0); markErr != nil {
			m.log.Error("failed to mark unqueued job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return job, nil
}

// GetJob はジョブのスナップショットを返します。
func (m *Manager) GetJob(ctx context.Context, id string) (*Job, error) {
	return m.lc.get(ctx, id)
}

// Start は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) Start(handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}
	if m.server != nil {
		return errors.New("workers already started")
	}

	m.server = asynq.NewServer(m.redisOpt, asynq.Config{
		Concurrency: m.concurrency,
		Queues: map[string]int{
			m.queue: 1,
		},
		RetryDelayFunc:           retryDelay(m.lc.policy),
		TaskCheckInterval:        m.poll,
		DelayedTaskCheckInterval: m.poll,
		Logger:                   m.log.Sugar(),
		LogLevel:                 asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypePDF, m.taskHandler(handler))

	if err := m.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	m.log.Info("workers started", zap.String("queue", m.queue), zap.Int("concurrency", m.concurrency))
	return nil
}

// Shutdown は処理中のジョブを待ってからサーバーとクライアントを閉じます。
func (m *Manager) Shutdown() {
	if m.server != nil {
		m.server.Shutdown()
	}
	if err := m.client.Close(); err != nil {
		m.log.Warn("failed to close asynq client", zap.Error(err))
	}
}

func (m *Manager) taskHandler(handler Handler) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload taskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid task payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.JobID == "" {
			return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
		}

		err := m.lc.attempt(ctx, payload.JobID, handler, func(*Job) bool {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, ok := asynq.GetMaxRetry(ctx)
			if !ok {
				return true
			}
			return retried >= maxRetry
		})
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("job %s has no record: %w", payload.JobID, asynq.SkipRetry)
		}
		return err
	}
}

// retryDelay は Asynq のリトライ間隔を RetryPolicy のバックオフに合わせます。
// n はこれまでのリトライ回数なので、失敗した試行は n+1 回目です。
func retryDelay(policy RetryPolicy) asynq.RetryDelayFunc {
	return func(n int, _ error, _ *asynq.Task) time.Duration {
		return policy.Backoff(n + 1)
	}
}
