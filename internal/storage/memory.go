package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore はプロセス内で完結する Store です。テストと単一バイナリでの動作確認に使います。
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	baseURL string
	now     func() time.Time
}

// NewMemoryStore は MemoryStore を作成します。署名付きURLは baseURL を基に組み立てます。
func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://objects"
	}
	return &MemoryStore{
		objects: make(map[string]memObject),
		baseURL: baseURL,
		now:     time.Now,
	}
}

// Put はデータのコピーを保存します。
func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	cp := append([]byte(nil), data...)
	s.mu.Lock()
	s.objects[key] = memObject{data: cp, contentType: contentType}
	s.mu.Unlock()
	return nil
}

// Get はデータのコピーを返します。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// SignedURL は有効期限をクエリに含む疑似的な署名付きURLを返します。
func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprint(s.now().Add(ttl).Unix()))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, key, q.Encode()), nil
}

// ContentType は保存時の Content-Type を返します。
func (s *MemoryStore) ContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.contentType, ok
}

// Len は保存済みのオブジェクト数を返します。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
