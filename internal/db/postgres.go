package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store and applies migrations
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS advisory_cache (
			ecosystem TEXT NOT NULL,
			package TEXT NOT NULL,
			payload TEXT NOT NULL,
			fetched_at BIGINT NOT NULL,
			PRIMARY KEY (ecosystem, package)
		);`,
		`CREATE INDEX IF NOT EXISTS advisory_cache_fetched_at ON advisory_cache (fetched_at);`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetAdvisories returns the cached entry for a package.
func (s *PostgresStore) GetAdvisories(ctx context.Context, ecosystem, pkg string) (*AdvisoryEntry, error) {
	var payload string
	var fetched int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM advisory_cache WHERE ecosystem = $1 AND package = $2`,
		ecosystem, pkg).Scan(&payload, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &AdvisoryEntry{
		Ecosystem: ecosystem,
		Package:   pkg,
		Payload:   []byte(payload),
		FetchedAt: time.Unix(0, fetched).UTC(),
	}, nil
}

// PutAdvisories inserts or refreshes an entry.
func (s *PostgresStore) PutAdvisories(ctx context.Context, e AdvisoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO advisory_cache (ecosystem, package, payload, fetched_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (ecosystem, package) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		e.Ecosystem, e.Package, string(e.Payload), e.FetchedAt.UnixNano())
	return err
}

// Prune removes entries fetched before the cutoff.
func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM advisory_cache WHERE fetched_at < $1`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
