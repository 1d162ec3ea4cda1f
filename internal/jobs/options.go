package jobs

import (
	"time"

	"go.uber.org/zap"
)

type options struct {
	logger   *zap.Logger
	notifier Notifier
	observer Observer
	now      func() time.Time
}

// Option はキュー実装の任意設定です。
type Option func(*options)

// WithLogger はロガーを設定します。
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithNotifier は状態遷移の通知先を設定します。
func WithNotifier(n Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// WithObserver はメトリクス用のフックを設定します。
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.String("component", "jobs"))
	return o
}
