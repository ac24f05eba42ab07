package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/custody-ledger/internal/core/domain"
)

var ErrLockNotObtained = errors.New("lock not obtained")

type CacheRepository interface {
	// GetResult returns a previously committed result for key, nil on miss
	GetResult(ctx context.Context, key string) (*domain.Result, error)

	// PutResult remembers a committed result; an existing entry is kept
	PutResult(ctx context.Context, key string, result domain.Result) error
}

type Locker interface {
	// Acquire takes an advisory lock, ErrLockNotObtained if someone else holds it
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
