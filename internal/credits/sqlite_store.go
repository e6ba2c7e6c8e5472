package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the ledger as a single row in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		starting_balance INTEGER NOT NULL,
		consumed_total INTEGER NOT NULL,
		remaining INTEGER NOT NULL,
		last_updated TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("ledger: migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT starting_balance, consumed_total, remaining, last_updated FROM credit_ledger WHERE id = 1`)
	var state State
	var updated string
	if err := row.Scan(&state.StartingBalance, &state.ConsumedTotal, &state.Remaining, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, fmt.Errorf("%w: %w", ErrNoState, err)
		}
		return State{}, fmt.Errorf("ledger: load state: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, updated)
	if err != nil {
		return State{}, fmt.Errorf("%w: parse last_updated: %w", ErrCorruptState, err)
	}
	state.LastUpdated = ts
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state State) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO credit_ledger (id, starting_balance, consumed_total, remaining, last_updated)
	VALUES (1, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		starting_balance = excluded.starting_balance,
		consumed_total = excluded.consumed_total,
		remaining = excluded.remaining,
		last_updated = excluded.last_updated`,
		state.StartingBalance, state.ConsumedTotal, state.Remaining, state.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("ledger: save state: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
