package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"scenecast/internal/domain"
)

func transient(status int) error {
	return &domain.RemoteError{Kind: domain.ErrTransient, Service: "test", StatusCode: status}
}

type recordedWaits struct {
	delays []time.Duration
}

func (r *recordedWaits) wait(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDoRetriesTransientFailuresOnSchedule(t *testing.T) {
	for failures := 0; failures <= 3; failures++ {
		waits := &recordedWaits{}
		calls := 0
		got, err := Do(context.Background(), Policy{Wait: waits.wait}, func(ctx context.Context, attempt int) (string, error) {
			calls++
			if attempt <= failures {
				return "", transient(503)
			}
			return "ok", nil
		})
		if err != nil {
			t.Fatalf("failures=%d: unexpected error %v", failures, err)
		}
		if got != "ok" {
			t.Fatalf("failures=%d: got %q", failures, got)
		}
		if calls != failures+1 {
			t.Fatalf("failures=%d: calls = %d", failures, calls)
		}
		if len(waits.delays) != failures {
			t.Fatalf("failures=%d: waits = %v", failures, waits.delays)
		}
		for i, d := range waits.delays {
			if d != DefaultDelays[i] {
				t.Fatalf("failures=%d: delay[%d] = %s, want %s", failures, i, d, DefaultDelays[i])
			}
		}
	}
}

func TestDoReturnsLastTransientErrorWhenExhausted(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Delays: []time.Duration{0, 0, 0}}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, transient(500 + attempt)
	})
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	re, ok := domain.AsRemote(err)
	if !ok {
		t.Fatalf("expected RemoteError, got %T", err)
	}
	if re.StatusCode != 504 {
		t.Fatalf("status = %d, want last observed 504", re.StatusCode)
	}
	if re.Attempts != 4 {
		t.Fatalf("attempts = %d, want 4", re.Attempts)
	}
}

func TestDoAbortsOnClientError(t *testing.T) {
	waits := &recordedWaits{}
	calls := 0
	start := time.Now()
	_, err := Do(context.Background(), Policy{Wait: waits.wait}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, &domain.RemoteError{Kind: domain.ErrClientError, StatusCode: 400}
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if len(waits.delays) != 0 {
		t.Fatalf("expected no backoff, got %v", waits.delays)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("client error should not wait")
	}
	if !errors.Is(err, domain.ErrClientError) {
		t.Fatalf("expected client error, got %v", err)
	}
	re, _ := domain.AsRemote(err)
	if re.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", re.Attempts)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{Delays: []time.Duration{time.Hour}}, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, transient(502)
	})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep = %v, want context.Canceled", err)
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep = %v", err)
	}
}
