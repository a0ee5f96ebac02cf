package provider

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker wraps a Generator with a circuit breaker that opens after
// consecutive failures.
type Breaker struct {
	next Generator
	cb   *gobreaker.CircuitBreaker
}

func NewBreaker(next Generator) *Breaker {
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *Breaker) Generate(ctx context.Context, req *Request) (*Response, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Generate(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (b *Breaker) Name() string {
	return b.next.Name()
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
