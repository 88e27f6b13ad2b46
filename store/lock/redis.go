// Package lock provides a Redis-backed finance.Locker for running several
// server instances against one database.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/freight-core/finance"
)

// DefaultTTL bounds how long a crashed holder can block a document or batch.
const DefaultTTL = 30 * time.Second

// Redis obtains keys with SET NX and a TTL. Obtain never retries: a held key
// is reported as finance.ErrLockHeld straight away.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	log    *zap.Logger
}

var _ finance.Locker = (*Redis)(nil)

// NewRedis builds a locker. A nil log discards release failures.
func NewRedis(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{locker: redislock.New(client), ttl: ttl, log: log}
}

func (r *Redis) Obtain(ctx context.Context, key string) (func(), error) {
	l, err := r.locker.Obtain(ctx, key, r.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, finance.ErrLockHeld
	}
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
	return func() {
		// Release uses a fresh context: the request may already be done.
		// A lock that expired mid-operation shows up here as ErrLockNotHeld.
		if err := l.Release(context.Background()); err != nil {
			r.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
