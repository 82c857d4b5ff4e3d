package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// register pgx stdlib driver
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/quotabar/internal/cache"
	"github.com/tokligence/quotabar/internal/usage"
)

// Store implements cache.Store backed by PostgreSQL, for deployments that
// centralize several machines' caches in one database.
type Store struct {
	db *sql.DB
	// namespace keys this writer's rows so multiple hosts can share a table
	namespace string
}

var _ cache.Store = (*Store)(nil)

// New opens a PostgreSQL-backed cache using the provided DSN. The namespace
// distinguishes writers sharing one database; empty means "default".
func New(dsn, namespace string, maxOpen, maxIdle int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(time.Hour)

	if namespace == "" {
		namespace = "default"
	}
	s := &Store{db: db, namespace: namespace}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS aggregate_snapshots (
	namespace TEXT NOT NULL,
	source TEXT NOT NULL,
	payload JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (namespace, source)
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

// Load returns the persisted aggregate for this namespace, skipping rows
// that fail to decode.
func (s *Store) Load(ctx context.Context) (usage.Aggregate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, payload FROM aggregate_snapshots WHERE namespace = $1`, s.namespace)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	agg := make(usage.Aggregate)
	for rows.Next() {
		var src string
		var raw []byte
		if err := rows.Scan(&src, &raw); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if snap, ok := cache.DecodeSnapshot(src, raw); ok {
			agg[snap.Source] = snap
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return agg, nil
}

// Save replaces this namespace's aggregate in one transaction.
func (s *Store) Save(ctx context.Context, agg usage.Aggregate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM aggregate_snapshots WHERE namespace = $1`, s.namespace); err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	for src, snap := range agg {
		raw, err := cache.EncodeSnapshot(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", src, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aggregate_snapshots(namespace, source, payload, updated_at) VALUES($1, $2, $3, NOW())`,
			s.namespace, string(src), raw,
		); err != nil {
			return fmt.Errorf("insert snapshot %s: %w", src, err)
		}
	}
	return tx.Commit()
}
