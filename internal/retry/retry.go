// Package retry is the retry policy shared by the network call sites that
// re-attempt an operation within one pass.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how far apart an operation is attempted.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Delay is the wait between tries. With Exponential it is the initial
	// interval and doubles up to MaxDelay.
	Delay       time.Duration
	Exponential bool
	MaxDelay    time.Duration
}

// Fixed returns a policy with attempts tries spaced delay apart.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

func (p Policy) backOff() backoff.BackOff {
	if !p.Exponential {
		return backoff.NewConstantBackOff(p.Delay)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Delay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	if p.MaxDelay > 0 {
		bo.MaxInterval = p.MaxDelay
	}
	return bo
}

// Do calls op until it succeeds, returns a Permanent error, the attempts
// run out or ctx ends. The last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.Retry(ctx,
		func() (T, error) { return op(ctx) },
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)
}

// Permanent wraps err so that Do stops retrying immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
