package reqcore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCacheStorage is the optional persistent CacheStorage adapter: JSON
// marshal/unmarshal over a *redis.Client, plus a companion set tracking
// every key under Namespace so Keys() doesn't need the KEYS command.
type RedisCacheStorage struct {
	client    *redis.Client
	namespace string
}

// NewRedisCacheStorage wraps client, namespacing every key under
// namespace (e.g. "reqcore:cache:").
func NewRedisCacheStorage(client *redis.Client, namespace string) *RedisCacheStorage {
	if namespace == "" {
		namespace = "reqcore:cache:"
	}
	return &RedisCacheStorage{client: client, namespace: namespace}
}

func (s *RedisCacheStorage) dataKey(key string) string {
	return s.namespace + key
}

func (s *RedisCacheStorage) indexKey() string {
	return s.namespace + "__keys__"
}

func (s *RedisCacheStorage) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	raw, err := s.client.Get(ctx, s.dataKey(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError(ErrCache, "redis get failed", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, NewError(ErrCache, "redis cache entry corrupt", err)
	}
	return &entry, true, nil
}

func (s *RedisCacheStorage) Set(ctx context.Context, key string, entry *CacheEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return NewError(ErrCache, "redis cache entry marshal failed", err)
	}

	var ttl time.Duration
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	if err := s.client.Set(ctx, s.dataKey(key), b, ttl).Err(); err != nil {
		return NewError(ErrCache, "redis set failed", err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), key).Err(); err != nil {
		return NewError(ErrCache, "redis index update failed", err)
	}
	return nil
}

func (s *RedisCacheStorage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.dataKey(key)).Err(); err != nil {
		return NewError(ErrCache, "redis delete failed", err)
	}
	return s.client.SRem(ctx, s.indexKey(), key).Err()
}

func (s *RedisCacheStorage) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, NewError(ErrCache, "redis key index read failed", err)
	}
	return keys, nil
}

func (s *RedisCacheStorage) Len(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, NewError(ErrCache, "redis key index count failed", err)
	}
	return int(n), nil
}

// RedisIdempotencyStorage persists idempotency results so a coalesced
// result survives past the in-process pending-promise map's lifetime,
// same rationale as RedisCacheStorage.
type RedisIdempotencyStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisIdempotencyStorage wraps client; entries expire after ttl
// (defaulting to 10 minutes, generous enough to outlive any realistic
// coalescing window).
func NewRedisIdempotencyStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisIdempotencyStorage {
	if namespace == "" {
		namespace = "reqcore:idempotency:"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisIdempotencyStorage{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisIdempotencyStorage) key(k string) string { return s.namespace + k }

// Load returns a previously stored result for key, if any.
func (s *RedisIdempotencyStorage) Load(ctx context.Context, key string) (*IdempotencyResult, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewError(ErrCache, "redis idempotency load failed", err)
	}
	var result IdempotencyResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, false, NewError(ErrCache, "redis idempotency entry corrupt", err)
	}
	return &result, true, nil
}

// Store persists result under key with the storage's configured TTL.
func (s *RedisIdempotencyStorage) Store(ctx context.Context, key string, result *IdempotencyResult) error {
	b, err := json.Marshal(result)
	if err != nil {
		return NewError(ErrCache, "redis idempotency entry marshal failed", err)
	}
	if err := s.client.Set(ctx, s.key(key), b, s.ttl).Err(); err != nil {
		return NewError(ErrCache, "redis idempotency store failed", err)
	}
	return nil
}

// Ping verifies connectivity to the backing Redis instance.
func (s *RedisCacheStorage) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
