package credits

import (
	"context"
	"fmt"

	"scenecast/internal/infra"
)

const (
	qCreateLedgerTable = `
CREATE TABLE IF NOT EXISTS credit_ledger (
	id SMALLINT PRIMARY KEY CHECK (id = 1),
	starting_balance BIGINT NOT NULL,
	consumed_total BIGINT NOT NULL,
	remaining BIGINT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
)`

	qSelectLedger = `
SELECT starting_balance, consumed_total, remaining, last_updated
FROM credit_ledger
WHERE id = 1`

	qUpsertLedger = `
INSERT INTO credit_ledger (id, starting_balance, consumed_total, remaining, last_updated)
VALUES (1, $1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
	starting_balance = EXCLUDED.starting_balance,
	consumed_total = EXCLUDED.consumed_total,
	remaining = EXCLUDED.remaining,
	last_updated = EXCLUDED.last_updated`
)

// PostgresStore keeps the ledger as a single row in Postgres.
type PostgresStore struct {
	sql infra.SQLExecutor
}

func NewPostgresStore(sql infra.SQLExecutor) *PostgresStore {
	return &PostgresStore{sql: sql}
}

// Migrate creates the ledger table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, qCreateLedgerTable); err != nil {
		return fmt.Errorf("ledger: migrate schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (State, error) {
	var state State
	row := s.sql.QueryRow(ctx, qSelectLedger)
	if err := row.Scan(&state.StartingBalance, &state.ConsumedTotal, &state.Remaining, &state.LastUpdated); err != nil {
		if infra.IsNoRows(err) {
			return State{}, fmt.Errorf("%w: %w", ErrNoState, err)
		}
		return State{}, fmt.Errorf("ledger: load state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state State) error {
	if _, err := s.sql.Exec(ctx, qUpsertLedger, state.StartingBalance, state.ConsumedTotal, state.Remaining, state.LastUpdated); err != nil {
		return fmt.Errorf("ledger: save state: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
