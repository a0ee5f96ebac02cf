// Package retry runs fallible operations under an explicit backoff policy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultFloor      = 2 * time.Second
	DefaultCap        = 10 * time.Second
	DefaultMultiplier = 2.0
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The zero value makes a single attempt.
type Policy struct {
	MaxAttempts int
	Floor       time.Duration
	Cap         time.Duration
	Multiplier  float64
}

// DefaultPolicy waits 2s, 4s, 8s and then 10s between attempts.
func DefaultPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		Floor:       DefaultFloor,
		Cap:         DefaultCap,
		Multiplier:  DefaultMultiplier,
	}
}

// Attempts returns the effective attempt budget, never less than one.
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait that follows failed attempt k (1-based).
func (p Policy) Delay(k int) time.Duration {
	b := p.newBackOff()
	d := b.NextBackOff()
	for i := 1; i < k; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	floor := p.Floor
	if floor < 0 {
		floor = 0
	}
	ceiling := p.Cap
	if ceiling < floor {
		ceiling = floor
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     floor,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         ceiling,
	}
	b.Reset()
	return b
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, next time.Duration)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do calls op until it succeeds, the attempt budget is spent, op returns a
// Permanent error, or ctx is done. The error from the last attempt is
// returned as-is.
func Do[T any](ctx context.Context, p Policy, op func(attempt int) (T, error), notify Notify) (T, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(attempt)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(uint(p.Attempts())),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			notify(attempt, err, next)
		}))
	}

	res, err := backoff.Retry(ctx, operation, opts...)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return res, permanent.Err
	}
	return res, err
}
