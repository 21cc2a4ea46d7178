package corebank

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	redlock "github.com/blnkfinance/corebank/internal/lock"
)

// RequestGuard keeps two instances from racing on the same request key. It
// guards a request, never an account. Acquire returns an error wrapping
// redlock.ErrLockHeld when another holder is active.
type RequestGuard interface {
	Acquire(ctx context.Context, requestKey string) (release func(), err error)
}

type redisRequestGuard struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisRequestGuard(client redis.UniversalClient, ttl time.Duration) RequestGuard {
	return &redisRequestGuard{client: client, ttl: ttl}
}

func (g *redisRequestGuard) Acquire(ctx context.Context, requestKey string) (func(), error) {
	locker := redlock.NewLocker(g.client, "corebank:request:"+requestKey, uuid.NewString())
	if err := locker.Lock(ctx, g.ttl); err != nil {
		return nil, err
	}
	return func() {
		if err := locker.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithField("key", locker.Key()).Warnf("release request guard: %v", err)
		}
	}, nil
}
