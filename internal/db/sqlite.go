package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and applies migrations
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection serialises writers from concurrent lookups
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS advisory_cache (
		ecosystem TEXT NOT NULL,
		package TEXT NOT NULL,
		payload TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		PRIMARY KEY (ecosystem, package)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAdvisories returns the cached entry for a package.
func (s *SQLiteStore) GetAdvisories(ctx context.Context, ecosystem, pkg string) (*AdvisoryEntry, error) {
	query := `SELECT payload, fetched_at FROM advisory_cache WHERE ecosystem = ? AND package = ?`
	var payload string
	var fetched int64
	err := s.db.QueryRowContext(ctx, query, ecosystem, pkg).Scan(&payload, &fetched)
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
func (s *SQLiteStore) PutAdvisories(ctx context.Context, e AdvisoryEntry) error {
	query := `INSERT INTO advisory_cache (ecosystem, package, payload, fetched_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(ecosystem, package) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`
	_, err := s.db.ExecContext(ctx, query, e.Ecosystem, e.Package, string(e.Payload), e.FetchedAt.UnixNano())
	return err
}

// Prune removes entries fetched before the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM advisory_cache WHERE fetched_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
