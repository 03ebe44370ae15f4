// FILE: srpauth/src/internal/session/store.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("refresh data not found")

// Store persists refresh data between process runs.
type Store interface {
	Save(ctx context.Context, data RefreshData) error
	Load(ctx context.Context, uid string) (RefreshData, error)
	Delete(ctx context.Context, uid string) error
}

// MemoryStore keeps refresh data for the lifetime of the process.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Save(_ context.Context, data RefreshData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[data.UID] = data.RefreshToken
	return nil
}

func (m *MemoryStore) Load(_ context.Context, uid string) (RefreshData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	token, exists := m.data[uid]
	if !exists {
		return RefreshData{}, ErrNotFound
	}
	return RefreshData{UID: uid, RefreshToken: token}, nil
}

func (m *MemoryStore) Delete(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[uid]; !exists {
		return ErrNotFound
	}
	delete(m.data, uid)
	return nil
}

// RedisStore keeps refresh tokens under prefix+UID with an optional TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. A zero ttl keeps keys until
// they are deleted.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "srpauth:session:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) Save(ctx context.Context, data RefreshData) error {
	if err := s.client.Set(ctx, s.prefix+data.UID, data.RefreshToken, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save refresh data: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, uid string) (RefreshData, error) {
	token, err := s.client.Get(ctx, s.prefix+uid).Result()
	if errors.Is(err, redis.Nil) {
		return RefreshData{}, ErrNotFound
	}
	if err != nil {
		return RefreshData{}, fmt.Errorf("failed to load refresh data: %w", err)
	}
	return RefreshData{UID: uid, RefreshToken: token}, nil
}

func (s *RedisStore) Delete(ctx context.Context, uid string) error {
	n, err := s.client.Del(ctx, s.prefix+uid).Result()
	if err != nil {
		return fmt.Errorf("failed to delete refresh data: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
