package credits

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"scenecast/internal/domain"
)

func newFileLedger(t *testing.T, path string, starting int64) *Ledger {
	t.Helper()
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ledger := NewLedger(store, starting, nil)
	if _, err := ledger.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ledger
}

func TestLedgerPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credits.json")
	ledger := newFileLedger(t, path, DefaultStartingBalance)
	if _, err := ledger.Charge(context.Background(), 1000); err != nil {
		t.Fatalf("Charge: %v", err)
	}

	restarted := newFileLedger(t, path, DefaultStartingBalance)
	snap := restarted.Snapshot()
	if snap.ConsumedTotal != 1000 {
		t.Fatalf("ConsumedTotal = %d, want 1000", snap.ConsumedTotal)
	}
	if snap.Remaining != DefaultStartingBalance-1000 {
		t.Fatalf("Remaining = %d", snap.Remaining)
	}

	store, _ := NewFileStore(path)
	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.LastUpdated.IsZero() || state.StartingBalance != DefaultStartingBalance || state.Remaining != snap.Remaining {
		t.Fatalf("persisted record incomplete: %#v", state)
	}
}

func TestLedgerTreatsMissingOrCorruptStoreAsZero(t *testing.T) {
	dir := t.TempDir()
	missing := newFileLedger(t, filepath.Join(dir, "missing.json"), 10)
	if got := missing.Snapshot().ConsumedTotal; got != 0 {
		t.Fatalf("missing store consumed = %d", got)
	}

	corruptPath := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corruptPath, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	corrupt := newFileLedger(t, corruptPath, 10)
	if got := corrupt.Snapshot().ConsumedTotal; got != 0 {
		t.Fatalf("corrupt store consumed = %d", got)
	}
}

func TestLedgerRemainingNeverNegative(t *testing.T) {
	ledger := newFileLedger(t, filepath.Join(t.TempDir(), "credits.json"), 100)
	snap, err := ledger.Charge(context.Background(), 250)
	if err != nil {
		t.Fatalf("Charge: %v", err)
	}
	if snap.Remaining != 0 || snap.ConsumedTotal != 250 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}
}

func TestLedgerRejectsNegativeCharge(t *testing.T) {
	ledger := newFileLedger(t, filepath.Join(t.TempDir(), "credits.json"), 100)
	if _, err := ledger.Charge(context.Background(), -1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if got := ledger.Snapshot().ConsumedTotal; got != 0 {
		t.Fatalf("consumed = %d after rejected charge", got)
	}
}

func TestLedgerConcurrentChargesAreNotLost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.json")
	ledger := newFileLedger(t, path, DefaultStartingBalance)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Charge(context.Background(), 3); err != nil {
				t.Errorf("Charge: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := ledger.Snapshot().ConsumedTotal; got != 150 {
		t.Fatalf("in-memory consumed = %d, want 150", got)
	}
	if got := newFileLedger(t, path, DefaultStartingBalance).Snapshot().ConsumedTotal; got != 150 {
		t.Fatalf("persisted consumed = %d, want 150", got)
	}
}

type failingStore struct {
	saves int
}

func (f *failingStore) Load(ctx context.Context) (State, error) { return State{}, ErrNoState }

func (f *failingStore) Save(ctx context.Context, state State) error {
	f.saves++
	return errors.New("disk full")
}

func TestLedgerKeepsChargeWhenPersistFails(t *testing.T) {
	store := &failingStore{}
	ledger := NewLedger(store, 100, nil)
	ledger.Load(context.Background())
	if _, err := ledger.Charge(context.Background(), 40); err == nil {
		t.Fatalf("expected persist error")
	}
	if store.saves != 1 {
		t.Fatalf("saves = %d", store.saves)
	}
	if got := ledger.Snapshot().ConsumedTotal; got != 40 {
		t.Fatalf("consumed = %d, want 40", got)
	}
}

func TestLedgerPersistsChargeAfterCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.json")
	ledger := newFileLedger(t, path, DefaultStartingBalance)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ledger.Charge(ctx, 1000); err != nil {
		t.Fatalf("Charge with cancelled ctx: %v", err)
	}

	if got := newFileLedger(t, path, DefaultStartingBalance).Snapshot().ConsumedTotal; got != 1000 {
		t.Fatalf("consumed after restart = %d, want 1000", got)
	}
}

type unreachableStore struct {
	saves int
}

func (u *unreachableStore) Load(ctx context.Context) (State, error) {
	return State{}, errors.New("connection refused")
}

func (u *unreachableStore) Save(ctx context.Context, state State) error {
	u.saves++
	return nil
}

func TestLedgerLoadReturnsStoreFailure(t *testing.T) {
	store := &unreachableStore{}
	ledger := NewLedger(store, 100, nil)
	if _, err := ledger.Load(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if store.saves != 0 {
		t.Fatalf("load failure must not write state, saves = %d", store.saves)
	}
}
