package credits

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNoState) {
		t.Fatalf("expected ErrNoState for empty ledger table, got %v", err)
	}

	ledger := NewLedger(store, 5000, nil)
	if _, err := ledger.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	for _, amount := range []int64{1000, 250} {
		if _, err := ledger.Charge(context.Background(), amount); err != nil {
			t.Fatalf("Charge(%d): %v", amount, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	state, err := reopened.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.ConsumedTotal != 1250 || state.Remaining != 3750 || state.StartingBalance != 5000 {
		t.Fatalf("unexpected state %#v", state)
	}
	if state.LastUpdated.IsZero() {
		t.Fatalf("expected last updated timestamp")
	}
}
