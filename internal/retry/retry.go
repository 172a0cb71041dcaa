// Package retry runs operations against remote collaborators with a bounded
// number of attempts and a fixed delay between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt bound used when a Policy leaves it unset.
	DefaultMaxAttempts = 3
	// DefaultDelay is the pause between a failed attempt and the next one.
	DefaultDelay = time.Second
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy configures a bounded retry loop. The zero value is usable and
// retries every error DefaultMaxAttempts times with DefaultDelay between tries.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first one.
	MaxAttempts int

	// Delay is the fixed pause between attempts. Negative disables waiting.
	Delay time.Duration

	// AttemptTimeout bounds each individual attempt. Zero means the attempt
	// only ends with the caller's context.
	AttemptTimeout time.Duration

	// Retryable decides whether a failed attempt may be repeated. Nil means
	// every error is retryable.
	Retryable func(error) bool

	// OnRetry is invoked after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Default returns the policy used by the session and role components.
func Default() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultDelay}
}

// WithRetryable returns a copy of p that consults fn before retrying.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) delay() time.Duration {
	switch {
	case p.Delay < 0:
		return 0
	case p.Delay == 0:
		return DefaultDelay
	default:
		return p.Delay
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// ExhaustedError reports the number of attempts made before giving up.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrExhausted, e.Attempts, e.Err)
}

// Unwrap exposes both ErrExhausted and the last attempt's error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// Attempts returns how many attempts an exhausted retry loop performed, or
// zero when err did not come from an exhausted loop.
func Attempts(err error) int {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts
	}
	return 0
}

// Do runs op until it succeeds, returns an error the policy refuses to
// retry, or the attempt bound is reached. The first success is returned
// immediately. Context cancellation stops the loop between attempts.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.attempts()
	delay := p.delay()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
	}

	return zero, &ExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}
