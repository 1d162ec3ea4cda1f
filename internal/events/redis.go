package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

const channelPrefix = "pdf:events:"

// Channel はジョブごとの pub/sub チャンネル名です。
func Channel(jobID string) string {
	return channelPrefix + jobID
}

// RedisPublisher は状態遷移を Redis の PUBLISH で配信します。
type RedisPublisher struct {
	rdb redis.UniversalClient
	log *zap.Logger
}

// NewRedisPublisher は RedisPublisher を作成します。
func NewRedisPublisher(rdb redis.UniversalClient, log *zap.Logger) *RedisPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPublisher{rdb: rdb, log: log.With(zap.String("component", "events.redis"))}
}

// Notify はジョブのチャンネルに Event を送ります。失敗はログに残すだけです。
func (p *RedisPublisher) Notify(ctx context.Context, job *jobs.Job) {
	payload, err := json.Marshal(FromJob(job))
	if err != nil {
		p.log.Warn("failed to encode event", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	ctx, cancel := publishContext(ctx)
	defer cancel()
	if err := p.rdb.Publish(ctx, Channel(job.ID), payload).Err(); err != nil {
		p.log.Warn("failed to publish event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Decode は pub/sub のメッセージを Event に戻します。
func Decode(payload string) (Event, error) {
	var ev Event
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
