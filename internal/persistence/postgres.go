package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/riskcore/internal/ledger"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id         BIGSERIAL PRIMARY KEY,
	taken_at   TIMESTAMPTZ NOT NULL,
	version    INT NOT NULL DEFAULT 1,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_snapshots_taken_at ON ledger_snapshots (taken_at DESC);
`

// PostgresStore persists snapshots as versioned JSON rows.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to Postgres and prepares the snapshot schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save inserts the snapshot as a new row.
func (s *PostgresStore) Save(ctx context.Context, snap ledger.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ledger_snapshots (taken_at, payload) VALUES ($1, $2)`,
		snap.TakenAt, payload)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns the most recent snapshot by taken_at.
func (s *PostgresStore) Load(ctx context.Context) (ledger.Snapshot, bool, error) {
	var payload []byte
	err := s.db.GetContext(ctx, &payload,
		`SELECT payload FROM ledger_snapshots ORDER BY taken_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Snapshot{}, false, nil
	}
	if err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("select snapshot: %w", err)
	}

	var snap ledger.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return ledger.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Prune deletes all but the newest keep snapshots.
func (s *PostgresStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM ledger_snapshots
		WHERE id NOT IN (
			SELECT id FROM ledger_snapshots ORDER BY taken_at DESC, id DESC LIMIT $1
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
