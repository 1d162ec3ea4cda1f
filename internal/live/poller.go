package live

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

// Poller は一定間隔でキューを読み、状態を届けます。最初の 1 回は即座に読みます。
type Poller struct {
	reader   jobs.Reader
	interval time.Duration
	log      *zap.Logger
}

// NewPoller は Poller を作成します。interval が 0 以下なら DefaultInterval を使います。
func NewPoller(reader jobs.Reader, interval time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{reader: reader, interval: interval, log: log.With(zap.String("component", "live.poller"))}
}

// Subscribe は Subscriber の実装です。
func (p *Poller) Subscribe(ctx context.Context, jobID string, fn func(Update) error) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		done, err := pollOnce(ctx, p.reader, jobID, fn, p.log)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
