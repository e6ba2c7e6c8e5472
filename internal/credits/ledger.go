// Package credits tracks credit consumption against a fixed starting balance
// and persists the running total after every charge.
package credits

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scenecast/internal/domain"
	"scenecast/internal/infra"
)

// DefaultStartingBalance is the balance used when none is configured.
const DefaultStartingBalance int64 = 20_000_000

// State is the persisted ledger record. It is always written as a whole.
type State struct {
	StartingBalance int64     `json:"startingBalance"`
	ConsumedTotal   int64     `json:"consumedTotal"`
	Remaining       int64     `json:"remaining"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

var (
	// ErrNoState reports that nothing has been persisted yet.
	ErrNoState = errors.New("ledger: no persisted state")
	// ErrCorruptState reports a persisted record that cannot be decoded.
	ErrCorruptState = errors.New("ledger: persisted state is corrupt")
)

// Store persists ledger state durably. Load wraps ErrNoState or
// ErrCorruptState when the record is missing or unreadable.
type Store interface {
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, state State) error
}

// Charger is the write side used by generation clients.
type Charger interface {
	Charge(ctx context.Context, amount int64) (domain.CreditSnapshot, error)
}

// Ledger is process-wide credit state shared by concurrent pipeline runs.
// Charges are serialized: each one is persisted before the next is accepted.
type Ledger struct {
	mu       sync.Mutex
	store    Store
	starting int64
	consumed int64
	logger   *infra.Logger
	now      func() time.Time
}

// NewLedger builds a ledger over store. Call Load before serving traffic.
func NewLedger(store Store, startingBalance int64, logger *infra.Logger) *Ledger {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Ledger{
		store:    store,
		starting: startingBalance,
		logger:   logger,
		now:      time.Now,
	}
}

// Load reads persisted state. A missing or corrupt record is treated as zero
// consumed and only logged. Any other store failure is returned and leaves
// the ledger untouched, so a transient outage cannot overwrite the real total.
func (l *Ledger) Load(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, err := l.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoState), errors.Is(err, ErrCorruptState):
		l.logger.Warn().Err(err).Msg("ledger: persisted state unavailable, starting from zero consumed")
		l.consumed = 0
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("ledger: load: %w", err)
	}
	if state.ConsumedTotal < 0 {
		l.logger.Warn().Int64("consumed", state.ConsumedTotal).Msg("ledger: negative consumed total ignored")
		state.ConsumedTotal = 0
	}
	l.consumed = state.ConsumedTotal
	l.logger.Info().
		Int64("consumed", l.consumed).
		Int64("starting_balance", l.starting).
		Msg("ledger: loaded")
	return l.consumed, nil
}

// Charge adds amount to the consumed total and persists the full record
// before returning. The in-memory total is never rolled back, so a failed
// write is reported to the caller while the charge still stands. The write
// ignores cancellation of ctx: a charge is only made for work that already
// succeeded remotely.
func (l *Ledger) Charge(ctx context.Context, amount int64) (domain.CreditSnapshot, error) {
	if amount < 0 {
		return l.Snapshot(), domain.InvalidInput("charge amount %d is negative", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.consumed += amount
	state := State{
		StartingBalance: l.starting,
		ConsumedTotal:   l.consumed,
		Remaining:       remaining(l.starting, l.consumed),
		LastUpdated:     l.now().UTC(),
	}
	snap := snapshotOf(state)
	if err := l.store.Save(context.WithoutCancel(ctx), state); err != nil {
		l.logger.Error().Err(err).Int64("amount", amount).Msg("ledger: persist charge failed")
		return snap, fmt.Errorf("ledger: persist charge: %w", err)
	}
	l.logger.Info().
		Int64("amount", amount).
		Int64("consumed", state.ConsumedTotal).
		Int64("remaining", state.Remaining).
		Msg("ledger: charged")
	return snap, nil
}

// Snapshot returns the current balance view.
func (l *Ledger) Snapshot() domain.CreditSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.CreditSnapshot{
		StartingBalance: l.starting,
		ConsumedTotal:   l.consumed,
		Remaining:       remaining(l.starting, l.consumed),
	}
}

func snapshotOf(s State) domain.CreditSnapshot {
	return domain.CreditSnapshot{
		StartingBalance: s.StartingBalance,
		ConsumedTotal:   s.ConsumedTotal,
		Remaining:       s.Remaining,
	}
}

// remaining never goes below zero; spending past the balance is allowed.
func remaining(starting, consumed int64) int64 {
	if r := starting - consumed; r > 0 {
		return r
	}
	return 0
}

var _ Charger = (*Ledger)(nil)
