package main

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/config"
	"github.com/yourusername/pdf-perfect/internal/events"
	"github.com/yourusername/pdf-perfect/internal/jobs"
	"github.com/yourusername/pdf-perfect/internal/live"
	"github.com/yourusername/pdf-perfect/internal/metrics"
	"github.com/yourusername/pdf-perfect/internal/pdf"
	"github.com/yourusername/pdf-perfect/internal/storage"
	"github.com/yourusername/pdf-perfect/internal/worker"
)

// deps は設定から組み立てた実行時の依存関係です。
type deps struct {
	queue    jobs.Queue
	consumer jobs.Consumer
	store    storage.Store
	files    *storage.LocalStore
	live     live.Subscriber
	metrics  *metrics.Metrics
	rdb      redis.UniversalClient
	log      *zap.Logger
	closers  []func() error
}

func newRedisClient(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

func retryPolicy(cfg *config.Config) jobs.RetryPolicy {
	return jobs.RetryPolicy{
		MaxAttempts:        cfg.JobMaxAttempts,
		BaseDelay:          cfg.JobBackoffBase,
		CompletedRetention: cfg.JobCompletedRetention,
		FailedRetention:    cfg.JobFailedRetention,
	}
}

// buildDeps はキュー・ストレージ・通知・ライブステータスを設定どおりに組み立てます。
func buildDeps(ctx context.Context, cfg *config.Config, log *zap.Logger, concurrency int) (_ *deps, err error) {
	d := &deps{log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.store, d.files, err = newStorage(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if cfg.QueueDriver == config.QueueDriverRedis {
		rdb, err := newRedisClient(cfg.QueueRedisURL)
		if err != nil {
			return nil, err
		}
		d.rdb = rdb
		d.closers = append(d.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	notifier, err := d.newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	opts := []jobs.Option{
		jobs.WithLogger(log),
		jobs.WithObserver(d.metrics),
	}
	if notifier != nil {
		opts = append(opts, jobs.WithNotifier(notifier))
	}

	policy := retryPolicy(cfg)
	switch cfg.QueueDriver {
	case config.QueueDriverRedis:
		manager, err := jobs.NewManager(jobs.ManagerConfig{
			RedisURL:    cfg.QueueRedisURL,
			QueueName:   cfg.QueueName,
			Concurrency: concurrency,
			Policy:      policy,
		}, jobs.NewRedisStore(d.rdb), opts...)
		if err != nil {
			return nil, err
		}
		d.queue, d.consumer = manager, manager
	default:
		mq := jobs.NewMemoryQueue(jobs.NewMemoryStore(), policy, concurrency, opts...)
		d.queue, d.consumer = mq, mq
	}

	switch cfg.LiveStatusMode {
	case config.LiveModePubSub:
		d.live = live.NewPubSub(d.rdb, d.queue, live.DefaultSafetyInterval, log)
	default:
		d.live = live.NewPoller(d.queue, cfg.LiveStatusInterval, log)
	}
	return d, nil
}

// newNotifier は状態遷移の通知先をまとめます。通知先がなければ nil を返します。
func (d *deps) newNotifier(cfg *config.Config) (jobs.Notifier, error) {
	var notifiers events.Multi
	if d.rdb != nil {
		notifiers = append(notifiers, events.NewRedisPublisher(d.rdb, d.log))
	}
	if cfg.EventsAMQPURL != "" {
		publisher, err := events.DialAMQP(cfg.EventsAMQPURL, cfg.EventsExchange, d.log)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, publisher.Close)
		notifiers = append(notifiers, publisher)
	}
	switch len(notifiers) {
	case 0:
		return nil, nil
	case 1:
		return notifiers[0], nil
	default:
		return notifiers, nil
	}
}

func newStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, *storage.LocalStore, error) {
	switch cfg.StorageDriver {
	case config.StorageDriverLocal:
		local, err := storage.NewLocalStore(cfg.LocalStorageDir, cfg.PublicBaseURL, cfg.JWTSecret, log)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	case config.StorageDriverMinio:
		store, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}

// startWorkers は処理ハンドラーを登録してワーカーを起動します。
func (d *deps) startWorkers() error {
	processor := worker.NewProcessor(d.store, pdf.DefaultRegistry(), d.log)
	if err := d.consumer.Start(processor.Handle); err != nil {
		return err
	}
	return nil
}

// Close は処理中のジョブを待ってから接続を閉じます。
func (d *deps) Close() {
	if d.consumer != nil {
		d.consumer.Shutdown()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warn("failed to close resource", zap.Error(err))
		}
	}
	d.closers = nil
}
