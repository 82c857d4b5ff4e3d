package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/quotabar/internal/cache"
	"github.com/tokligence/quotabar/internal/usage"
)

// Store implements cache.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// New opens (or creates) a SQLite cache at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	source TEXT PRIMARY KEY,
	payload TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted aggregate. Rows that fail to decode and rows
// keyed by a source this build does not know are dropped, never fatal.
func (s *Store) Load(ctx context.Context) (usage.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, payload FROM aggregate_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	agg := make(usage.Aggregate)
	for rows.Next() {
		var src, raw string
		if err := rows.Scan(&src, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if snap, ok := cache.DecodeSnapshot(src, []byte(raw)); ok {
			agg[snap.Source] = snap
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return agg, nil
}

// Save replaces the persisted aggregate wholesale in one transaction, so a
// crash mid-save leaves the previous aggregate intact.
func (s *Store) Save(ctx context.Context, agg usage.Aggregate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM aggregate_snapshots`); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	for src, snap := range agg {
		raw, err := cache.EncodeSnapshot(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", src, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aggregate_snapshots(source, payload, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)`,
			string(src), string(raw),
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", src, err)
		}
	}
	return tx.Commit()
}
