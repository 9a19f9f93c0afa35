package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps conversation context in one Redis hash per key.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionStore constructs a Redis backed session store.
func NewRedisSessionStore(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = "bot:session"
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSessionStore) key(k string) string {
	return s.prefix + ":" + k
}

// Get returns all stored fields; a missing key yields an empty map.
func (s *RedisSessionStore) Get(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return fields, nil
}

// Update merges fields into the stored hash and refreshes its expiry.
func (s *RedisSessionStore) Update(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(key), values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(key), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

// Clear deletes the stored context.
func (s *RedisSessionStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

type memorySession struct {
	fields  map[string]string
	expires time.Time
}

// MemorySessionStore is a process-local session store for development and tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[string]*memorySession
}

// NewMemorySessionStore constructs an in-memory session store.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{ttl: ttl, now: time.Now, sessions: make(map[string]*memorySession)}
}

// Get returns a copy of the stored fields.
func (s *MemorySessionStore) Get(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	sess, ok := s.sessions[key]
	if !ok {
		return out, nil
	}
	if !sess.expires.IsZero() && s.now().After(sess.expires) {
		delete(s.sessions, key)
		return out, nil
	}
	for k, v := range sess.fields {
		out[k] = v
	}
	return out, nil
}

// Update merges fields into the stored context.
func (s *MemorySessionStore) Update(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || (!sess.expires.IsZero() && s.now().After(sess.expires)) {
		sess = &memorySession{fields: make(map[string]string)}
		s.sessions[key] = sess
	}
	for k, v := range fields {
		sess.fields[k] = v
	}
	if s.ttl > 0 {
		sess.expires = s.now().Add(s.ttl)
	}
	return nil
}

// Clear removes the stored context.
func (s *MemorySessionStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}
