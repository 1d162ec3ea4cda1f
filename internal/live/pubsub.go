package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/events"
	"github.com/yourusername/pdf-perfect/internal/jobs"
)

// DefaultSafetyInterval は pub/sub のメッセージを取りこぼした場合に備えた再読込の間隔です。
const DefaultSafetyInterval = 15 * time.Second

// PubSub は events.RedisPublisher が送るメッセージを購読して状態を届けます。
type PubSub struct {
	rdb    redis.UniversalClient
	reader jobs.Reader
	safety time.Duration
	log    *zap.Logger
}

// NewPubSub は PubSub を作成します。
func NewPubSub(rdb redis.UniversalClient, reader jobs.Reader, safety time.Duration, log *zap.Logger) *PubSub {
	if safety <= 0 {
		safety = DefaultSafetyInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PubSub{rdb: rdb, reader: reader, safety: safety, log: log.With(zap.String("component", "live.pubsub"))}
}

// Subscribe は Subscriber の実装です。
func (p *PubSub) Subscribe(ctx context.Context, jobID string, fn func(Update) error) error {
	sub := p.rdb.Subscribe(ctx, events.Channel(jobID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to job events: %w", err)
	}

	// 購読を確立してからスナップショットを送るので、その間の遷移も取りこぼさない
	done, err := pollOnce(ctx, p.reader, jobID, fn, p.log)
	if err != nil || done {
		return err
	}

	messages := sub.Channel()
	ticker := time.NewTicker(p.safety)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("job event subscription closed")
			}
			ev, err := events.Decode(msg.Payload)
			if err != nil {
				p.log.Warn("dropping malformed event", zap.String("job_id", jobID), zap.Error(err))
				continue
			}
			update := Update{State: ev.State, Progress: ev.Progress}
			if err := fn(update); err != nil {
				return err
			}
			if update.Terminal() {
				return nil
			}
		case <-ticker.C:
			done, err := pollOnce(ctx, p.reader, jobID, fn, p.log)
			if err != nil || done {
				return err
			}
		}
	}
}
