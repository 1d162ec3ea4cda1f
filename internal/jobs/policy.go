package jobs

import "time"

const (
	defaultMaxAttempts        = 3
	defaultBaseDelay          = time.Second
	defaultCompletedRetention = time.Hour
	defaultFailedRetention    = 24 * time.Hour
	maxFailedReasonLength     = 500
)

// RetryPolicy は試行回数・バックオフ・保持期間をまとめたものです。
type RetryPolicy struct {
	MaxAttempts        int
	BaseDelay          time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// DefaultRetryPolicy は 3 回試行・1 秒起点の指数バックオフ・失敗 24 時間保持のポリシーです。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:        defaultMaxAttempts,
		BaseDelay:          defaultBaseDelay,
		CompletedRetention: defaultCompletedRetention,
		FailedRetention:    defaultFailedRetention,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.CompletedRetention <= 0 {
		p.CompletedRetention = defaultCompletedRetention
	}
	if p.FailedRetention <= 0 {
		p.FailedRetention = defaultFailedRetention
	}
	return p
}

// Backoff は attempt 回目の試行が失敗した後、次の試行までの待ち時間を返します。
// attempt=1 で BaseDelay、以降は倍々になります。
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	return p.BaseDelay << shift
}

// ShouldRetry は attempt 回目の失敗の後にもう一度試行するかどうかを返します。
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.normalized().MaxAttempts
}
