package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Claim(ctx context.Context, key string) (string, error) {
	ok, err := s.rdb.SetNX(ctx, key, pending, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return "", nil
	}

	value, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return s.Claim(ctx, key)
	}
	if err != nil {
		return "", fmt.Errorf("read idempotency key: %w", err)
	}
	if value == pending {
		return "", ErrInFlight
	}
	return value, nil
}

func (s *RedisStore) Complete(ctx context.Context, key, orderID string) error {
	if err := s.rdb.Set(ctx, key, orderID, s.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
