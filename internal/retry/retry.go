// Package retry provides a bounded exponential-backoff policy shared by the
// HTTP client and the fact store's batch write path.
package retry

import (
	"context"
	"time"
)

// Policy describes how many attempts to make and how long to wait between
// them. Delay doubles after every failed attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries everything.
	Retryable func(error) bool

	// sleep is overridable in tests.
	sleep func(context.Context, time.Duration) error
}

// Default mirrors the upstream sources' tolerance: three attempts, one
// second base delay.
var Default = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// Do runs fn until it succeeds, the attempts are exhausted, the error is not
// retryable, or the context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = wait
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
	}
	return err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
