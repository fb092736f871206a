package db

import (
	"context"
	"time"
)

// AdvisoryEntry is one cached advisory response for a package.
type AdvisoryEntry struct {
	Ecosystem string
	Package   string
	// Payload is the JSON encoded advisory list as returned by the feed.
	Payload   []byte
	FetchedAt time.Time
}

// Store interface defines the methods for the advisory cache
type Store interface {
	Close() error
	// GetAdvisories returns nil, nil when the package was never cached.
	GetAdvisories(ctx context.Context, ecosystem, pkg string) (*AdvisoryEntry, error)
	PutAdvisories(ctx context.Context, entry AdvisoryEntry) error
	// Prune deletes entries fetched before the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}
