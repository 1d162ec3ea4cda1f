package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix      = "pdf:job:"
	maxUpdateAttempts = 16
)

// Store はジョブレコードの永続化を担います。
// ttl が 0 の場合は期限なしで保存します。
type Store interface {
	Create(ctx context.Context, job *Job, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, ttl time.Duration, mutate func(*Job) error) (*Job, error)
}

// RedisStore はジョブ状態を Redis に JSON で保存します。
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore は RedisStore を作成します。
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Create はジョブを新規に保存します。同じ ID が既に存在する場合はエラーになります。
func (s *RedisStore) Create(ctx context.Context, job *Job, ttl time.Duration) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), payload, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

// Get はジョブ情報を取得します。
func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Update は WATCH による楽観ロックでジョブを読み込み、mutate を適用して書き戻します。
// 競合した場合は読み込みからやり直します。
func (s *RedisStore) Update(ctx context.Context, id string, ttl time.Duration, mutate func(*Job) error) (*Job, error) {
	key := jobKey(id)
	var updated *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		var job Job
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to decode job %s: %w", id, err)
		}
		if err := mutate(&job); err != nil {
			return err
		}
		payload, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, ttl)
			return nil
		})
		if err == nil {
			updated = &job
		}
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("job %s: too many concurrent updates", id)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
