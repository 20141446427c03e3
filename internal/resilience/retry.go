// Package resilience bounds every collaborator call with a per-attempt
// timeout, a small retry budget with exponential backoff and an optional
// rate limit. Exhausting the budget surfaces model.ExternalTimeoutError.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/claimgate/internal/model"
	"golang.org/x/time/rate"
)

// Policy is a retry budget
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Timeout   time.Duration // Per attempt; 0 means no extra timeout
}

// DefaultPolicy returns 3 attempts, 200ms base delay, 2s cap, 5s per call
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  3,
		BaseDelay: 200 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Timeout:   5 * time.Second,
	}
}

// PolicyFromConfig converts the retry config section
func PolicyFromConfig(cfg model.RetryConfig) Policy {
	return Policy{
		Attempts:  cfg.Attempts,
		BaseDelay: cfg.BaseDelay,
		MaxDelay:  cfg.MaxDelay,
		Timeout:   cfg.CallTimeout,
	}
}

// Backoff returns the delay after the given zero-based attempt
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay * time.Duration(1<<uint(attempt))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// sleepFunc waits between attempts (injectable for tests)
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier runs calls under a Policy and an optional rate limiter
type Retrier struct {
	policy  Policy
	limiter *rate.Limiter
}

// NewRetrier creates a retrier; limiter may be nil
func NewRetrier(policy Policy, limiter *rate.Limiter) *Retrier {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	return &Retrier{policy: policy, limiter: limiter}
}

// NewRetrierFromConfig builds a retrier with a token bucket limiter
func NewRetrierFromConfig(cfg model.RetryConfig) *Retrier {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return NewRetrier(PolicyFromConfig(cfg), limiter)
}

// Policy returns the retry budget
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, fails permanently, or the budget runs out.
// NotFound errors and Permanent errors are returned unchanged (unwrapped).
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var last error
	attempts := 0

	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}

		attempts++
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		last = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if attempt < r.policy.Attempts-1 {
			if err := sleepFunc(ctx, r.policy.Backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
	}

	return &model.ExternalTimeoutError{Operation: op, Attempts: attempts, Err: last}
}

func (r *Retrier) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.policy.Timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
	defer cancel()
	return fn(callCtx)
}

// Call is Do for functions that return a value
func Call[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
