// Package idempotency replays the stored response of a request retried with
// the same Idempotency-Key, so a retried media generation is never charged twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInProgress = errors.New("request with this idempotency key is in progress")
)

const pendingMarker = "pending"

// Entry is a stored response.
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// Store claims keys and keeps completed responses.
type Store interface {
	// Begin claims key. It returns the stored entry when the key already
	// completed, ErrInProgress when another request holds it, and (nil, nil)
	// when the caller now owns the key.
	Begin(ctx context.Context, key string) (*Entry, error)

	// Complete stores the response for an owned key.
	Complete(ctx context.Context, key string, e *Entry) error

	// Release drops an owned key so the request can be retried.
	Release(ctx context.Context, key string) error
}

// RedisStore keeps keys in Redis with a TTL.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl, prefix: "idempotency:"}
}

func (s *RedisStore) Begin(ctx context.Context, key string) (*Entry, error) {
	k := s.prefix + key
	ok, err := s.redis.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("idempotency claim: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.redis.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Begin(ctx, key)
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency read: %w", err)
	}
	if string(raw) == pendingMarker {
		return nil, ErrInProgress
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("idempotency decode: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.prefix+key).Err()
}

// MemoryStore is an in-process Store used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	entry   *Entry
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl}
}

func (s *MemoryStore) Begin(_ context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expires) {
		if e.entry == nil {
			return nil, ErrInProgress
		}
		return e.entry, nil
	}
	s.entries[key] = memoryEntry{expires: now.Add(s.ttl)}
	return nil, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{entry: e, expires: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
