package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memSweepInterval は期限切れレコードをまとめて削除する最短間隔です。
const memSweepInterval = time.Minute

type memRecord struct {
	job       *Job
	expiresAt time.Time
}

// MemoryStore はプロセス内でジョブを保持する Store です。
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]memRecord
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryStore は MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memRecord),
		now:     time.Now,
	}
}

// Create はジョブを新規に保存します。
func (s *MemoryStore) Create(_ context.Context, job *Job, ttl time.Duration) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	if _, ok := s.lookup(job.ID); ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.records[job.ID] = memRecord{job: job.Clone(), expiresAt: s.expiry(ttl)}
	return nil
}

// Get はジョブのコピーを返します。
func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.job.Clone(), nil
}

// Update はロックを保持したまま mutate を適用します。
func (s *MemoryStore) Update(_ context.Context, id string, ttl time.Duration, mutate func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	rec, ok := s.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	job := rec.job.Clone()
	if err := mutate(job); err != nil {
		return nil, err
	}
	s.records[id] = memRecord{job: job, expiresAt: s.expiry(ttl)}
	return job.Clone(), nil
}

// lookup は期限切れのレコードを削除しつつ検索します。呼び出し側でロックを取得してください。
func (s *MemoryStore) lookup(id string) (memRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return memRecord{}, false
	}
	if rec.expired(s.now()) {
		delete(s.records, id)
		return memRecord{}, false
	}
	return rec, true
}

// sweep は誰も読まなくなった期限切れレコードを削除します。書き込みのたびに呼ばれますが、
// 走査は memSweepInterval に 1 回までです。呼び出し側でロックを取得してください。
func (s *MemoryStore) sweep() {
	now := s.now()
	if !s.lastSweep.IsZero() && now.Sub(s.lastSweep) < memSweepInterval {
		return
	}
	s.lastSweep = now
	for id, rec := range s.records {
		if rec.expired(now) {
			delete(s.records, id)
		}
	}
}

func (r memRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}
