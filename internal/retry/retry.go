// Package retry runs remote calls with a fixed backoff schedule and drives
// poll loops for asynchronous remote jobs.
package retry

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rs/zerolog"

	"scenecast/internal/domain"
	"scenecast/internal/infra"
)

// DefaultDelays is the wait before each retry. Its length is the retry budget.
var DefaultDelays = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// Policy controls Do. A nil Delays slice means DefaultDelays; an empty
// non-nil slice disables retries.
type Policy struct {
	Delays []time.Duration
	Logger *infra.Logger
	// Wait suspends the caller between attempts. Defaults to Sleep.
	Wait func(ctx context.Context, d time.Duration) error
}

// Attempt performs a single network round-trip. attempt starts at 1.
type Attempt[T any] func(ctx context.Context, attempt int) (T, error)

// Do calls op until it succeeds, returns a non-transient error, or the
// schedule is exhausted. Attempts are strictly sequential. The returned
// RemoteError (when op produced one) carries the number of attempts made.
func Do[T any](ctx context.Context, p Policy, op Attempt[T]) (T, error) {
	delays := p.Delays
	if delays == nil {
		delays = DefaultDelays
	}
	wait := p.Wait
	if wait == nil {
		wait = Sleep
	}
	logger := loggerOrDiscard(p.Logger)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= len(delays)+1; attempt++ {
		if attempt > 1 {
			delay := delays[attempt-2]
			logger.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("retry: transient failure, backing off")
			if err := wait(ctx, delay); err != nil {
				return zero, withAttempts(lastErr, attempt-1)
			}
		}
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !domain.IsTransient(err) || ctx.Err() != nil {
			return zero, withAttempts(err, attempt)
		}
	}
	return zero, withAttempts(lastErr, len(delays)+1)
}

// Sleep waits for d or until ctx is done, without blocking other goroutines.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withAttempts(err error, attempts int) error {
	var re *domain.RemoteError
	if errors.As(err, &re) {
		re.Attempts = attempts
	}
	return err
}

func loggerOrDiscard(l *infra.Logger) *infra.Logger {
	if l != nil {
		return l
	}
	discard := zerolog.New(io.Discard)
	return &discard
}
