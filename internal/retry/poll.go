package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scenecast/internal/domain"
	"scenecast/internal/infra"
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultPollTimeout     = 5 * time.Minute
	DefaultPollMaxFailures = 5
)

// PollPolicy controls Poll.
type PollPolicy struct {
	Interval time.Duration
	// MaxConsecutiveFailures is how many transient poll failures in a row are
	// tolerated. One more aborts the loop.
	MaxConsecutiveFailures int
	// Timeout is the wall-clock ceiling measured from the first poll.
	Timeout time.Duration
	Service string
	Logger  *infra.Logger
}

// Check performs one status query. done reports that a terminal success was
// reached. A non-transient error ends the loop immediately.
type Check[T any] func(ctx context.Context) (result T, done bool, err error)

// Poll runs check immediately and then once per interval until it reports
// done, returns a permanent error, fails transiently more than
// MaxConsecutiveFailures times in a row, or the timeout elapses. The second
// return value is the number of polls issued.
func Poll[T any](ctx context.Context, p PollPolicy, check Check[T]) (T, int, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	maxFailures := p.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = DefaultPollMaxFailures
	}
	logger := loggerOrDiscard(p.Logger)

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var zero T
	polls := 0
	failures := 0
	timedOut := func() error {
		return &domain.RemoteError{
			Kind:     domain.ErrTimeout,
			Service:  p.Service,
			Attempts: polls,
			Message:  fmt.Sprintf("no terminal state after %s", timeout),
			Err:      context.DeadlineExceeded,
		}
	}

	for {
		polls++
		result, done, err := check(pollCtx)
		switch {
		case err == nil && done:
			return result, polls, nil
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return zero, polls, ctx.Err()
		case pollCtx.Err() != nil:
			return zero, polls, timedOut()
		case !domain.IsTransient(err):
			return zero, polls, err
		default:
			failures++
			logger.Warn().
				Err(err).
				Int("consecutive_failures", failures).
				Int("poll", polls).
				Msg("retry: poll failed")
			if failures > maxFailures {
				return zero, polls, exhausted(err, p.Service, failures)
			}
		}

		if err := Sleep(pollCtx, interval); err != nil {
			if ctx.Err() != nil {
				return zero, polls, ctx.Err()
			}
			return zero, polls, timedOut()
		}
	}
}

func exhausted(err error, service string, failures int) error {
	re := &domain.RemoteError{
		Kind:     domain.ErrTransient,
		Service:  service,
		Attempts: failures,
		Message:  fmt.Sprintf("status polling failed %d consecutive times", failures),
		Err:      err,
	}
	var last *domain.RemoteError
	if errors.As(err, &last) {
		re.StatusCode = last.StatusCode
	}
	return re
}
