// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy configures Do.
type Policy struct {
	// Attempts is the total number of tries, including the first. Values
	// below one are treated as one.
	Attempts int
	// BaseDelay is the wait before the second attempt; it doubles after each
	// subsequent failure.
	BaseDelay time.Duration
	// MaxDelay caps the backoff. Zero means uncapped.
	MaxDelay time.Duration
	// Retryable classifies errors. A nil func retries every error.
	Retryable func(error) bool
}

// DefaultPolicy is three attempts starting at 50ms.
var DefaultPolicy = Policy{
	Attempts:  3,
	BaseDelay: 50 * time.Millisecond,
	MaxDelay:  2 * time.Second,
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last failure.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Delay returns the backoff before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << (attempt - 1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is cancelled, or the attempt budget is spent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}
