package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/custody-ledger/internal/core/domain"
	"github.com/rl1809/custody-ledger/internal/port"
)

const (
	resultKeyPrefix = "custody:result:"
	lockKeyPrefix   = "custody:lock:"
	resultKeyTTL    = 24 * time.Hour
)

var _ port.CacheRepository = (*RedisAdapter)(nil)
var _ port.Locker = (*RedisAdapter)(nil)

// RedisAdapter caches committed results by request key and hands out
// advisory locks. Neither is authoritative: the database decides.
type RedisAdapter struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{
		client: client,
		locker: redislock.New(client),
		ttl:    resultKeyTTL,
	}
}

func (r *RedisAdapter) GetResult(ctx context.Context, key string) (*domain.Result, error) {
	raw, err := r.client.Get(ctx, resultKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var result domain.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode cached result: %w", err)
	}
	return &result, nil
}

func (r *RedisAdapter) PutResult(ctx context.Context, key string, result domain.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return r.client.SetNX(ctx, resultKeyPrefix+key, raw, r.ttl).Err()
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := r.locker.Obtain(ctx, lockKeyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, port.ErrLockNotObtained
	}
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
