package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps prediction requests per caller with github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, perMinute int) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(perMinute),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func key(subject string) string {
	return fmt.Sprintf("ratelimit:predictions:%s", subject)
}

// Allow consumes one request from the subject's budget.
func (l *Limiter) Allow(ctx context.Context, subject string) (bool, error) {
	res, err := l.store.Allow(ctx, key(subject))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// AllowN consumes n requests at once, as a multi-type prediction does.
func (l *Limiter) AllowN(ctx context.Context, subject string, n int) (bool, error) {
	res, err := l.store.AllowN(ctx, key(subject), n)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, subject string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, key(subject))
}
