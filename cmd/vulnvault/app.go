package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vulnvault/internal/collector"
	"vulnvault/internal/config"
	"vulnvault/internal/db"
	"vulnvault/internal/engine"
	verrors "vulnvault/internal/errors"
	"vulnvault/internal/git"
	"vulnvault/internal/metrics"
	"vulnvault/internal/security"
	"vulnvault/internal/vuln"
)

// newIndex builds the advisory index selected by configuration. The returned
// cleanup closes the cache store, if any.
func newIndex(ctx context.Context, cfg config.AdvisoriesConfig, m *metrics.Metrics, logger *slog.Logger) (vuln.Index, func(), error) {
	noop := func() {}

	switch cfg.Source {
	case "snapshot":
		idx, err := vuln.LoadSnapshotIndex(cfg.SnapshotPath, logger)
		if err != nil {
			return nil, noop, err
		}
		if cfg.Watch {
			go func() {
				if err := idx.Watch(ctx, cfg.SnapshotPath); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("snapshot watch stopped", "path", cfg.SnapshotPath, "error", err)
				}
			}()
		}
		return idx, noop, nil
	}

	feed := vuln.NewOSVFeed(vuln.OSVOptions{
		BaseURL: cfg.OSVURL,
		Retries: cfg.Retries,
		Backoff: cfg.Backoff,
		QPS:     float32(cfg.QPS),
		Burst:   cfg.Burst,
		Logger:  logger,
		Observe: m.ObserveFeed,
	})
	if strings.EqualFold(cfg.CacheType, "none") {
		return feed, noop, nil
	}

	store, err := db.NewStore(db.StoreConfig{Type: cfg.CacheType, ConnectionString: cfg.CacheDSN})
	if err != nil {
		logger.Warn("advisory cache unavailable, querying the feed directly", "type", cfg.CacheType, "error", err)
		return feed, noop, nil
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Debug("failed to close advisory cache", "error", err)
		}
	}
	return vuln.NewCachedIndex(feed, store, cfg.CacheTTL, logger), cleanup, nil
}

// newEngine wires a scan engine from configuration.
func newEngine(ctx context.Context, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (*engine.Engine, func(), error) {
	idx, cleanup, err := newIndex(ctx, cfg.Advisories, m, logger)
	if err != nil {
		return nil, cleanup, err
	}

	secretOpts := security.DefaultSecretOptions()
	secretOpts.Placeholders = cfg.Placeholders
	var reg *security.Registry
	if len(cfg.Placeholders) > 0 {
		reg, err = security.NewRegistry(security.DefaultDetectors(secretOpts)...)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to build detector registry: %w", err)
		}
	}

	e := engine.New(engine.Options{
		Limits: collector.Limits{
			MaxFileBytes:  cfg.Scan.MaxFileBytes,
			MaxTotalBytes: cfg.Scan.MaxTotalBytes,
			MaxFiles:      cfg.Scan.MaxFiles,
		},
		Timeouts: cfg.Scan.Timeouts,
		Workers:  cfg.Scan.Workers,
		Policy:   cfg.Score,
		Registry: reg,
		Index:    idx,
		Resolver: vuln.ResolverOptions{
			Concurrency: cfg.Advisories.Concurrency,
			CallTimeout: cfg.Advisories.CallTimeout,
			Logger:      logger,
		},
		Cloner:       git.NewClient(),
		AllowedHosts: cfg.AllowedHosts,
		Metrics:      m,
		Logger:       logger,
	})
	return e, cleanup, nil
}

const (
	exitError     = 1
	exitThreshold = 2
	exitUnsafe    = 3
)

// errThreshold is returned when findings reach the --fail-on severity.
var errThreshold = errors.New("findings at or above the failure threshold")

func exitCode(err error) int {
	switch {
	case errors.Is(err, errThreshold):
		return exitThreshold
	case errors.Is(err, verrors.ErrUnsafeArchiveEntry):
		return exitUnsafe
	}
	return exitError
}
