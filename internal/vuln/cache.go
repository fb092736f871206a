package vuln

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vulnvault/internal/db"
	"vulnvault/internal/versions"
)

// CachedIndex puts a persistent cache in front of another index. Fresh
// entries are served from the store; when the inner index fails, a stale
// entry is better than nothing.
type CachedIndex struct {
	inner  Index
	store  db.Store
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCachedIndex wraps inner with store. A non-positive ttl never expires
// entries.
func NewCachedIndex(inner Index, store db.Store, ttl time.Duration, logger *slog.Logger) *CachedIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedIndex{inner: inner, store: store, ttl: ttl, logger: logger, now: time.Now}
}

// Lookup implements Index.
func (c *CachedIndex) Lookup(ctx context.Context, eco versions.Ecosystem, name string) ([]Advisory, error) {
	key := NormalizeName(eco, name)
	entry, err := c.store.GetAdvisories(ctx, string(eco), key)
	if err != nil {
		c.logger.Warn("advisory cache read failed", "ecosystem", eco, "package", name, "error", err)
		entry = nil
	}
	var cached []Advisory
	if entry != nil {
		if err := json.Unmarshal(entry.Payload, &cached); err != nil {
			c.logger.Warn("discarding corrupt advisory cache entry", "ecosystem", eco, "package", name, "error", err)
			entry = nil
		} else if c.ttl <= 0 || c.now().Sub(entry.FetchedAt) < c.ttl {
			return cached, nil
		}
	}

	advs, err := c.inner.Lookup(ctx, eco, name)
	if err != nil {
		if entry != nil {
			c.logger.Warn("advisory feed failed, serving stale cache entry",
				"ecosystem", eco, "package", name, "fetched_at", entry.FetchedAt, "error", err)
			return cached, nil
		}
		return nil, err
	}

	payload, err := json.Marshal(advs)
	if err == nil {
		err = c.store.PutAdvisories(ctx, db.AdvisoryEntry{
			Ecosystem: string(eco),
			Package:   key,
			Payload:   payload,
			FetchedAt: c.now(),
		})
	}
	if err != nil {
		c.logger.Warn("advisory cache write failed", "ecosystem", eco, "package", name, "error", err)
	}
	return advs, nil
}
