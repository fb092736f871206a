// Package engine runs one scan end to end: collect the input, apply the rule
// engine and the dependency resolver in parallel, and aggregate the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"vulnvault/internal/collector"
	"vulnvault/internal/config"
	verrors "vulnvault/internal/errors"
	"vulnvault/internal/git"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"
	"vulnvault/internal/score"
	"vulnvault/internal/security"
	"vulnvault/internal/vuln"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Kind selects how a Request is collected.
type Kind string

const (
	KindFile       Kind = "file"
	KindArchive    Kind = "archive"
	KindDirectory  Kind = "directory"
	KindRepository Kind = "repository"
	KindManifest   Kind = "manifest"
)

// ParseKind accepts the names used on the command line.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "file":
		return KindFile, nil
	case "zip", "archive":
		return KindArchive, nil
	case "dir", "directory":
		return KindDirectory, nil
	case "repo", "repository":
		return KindRepository, nil
	case "deps", "manifest":
		return KindManifest, nil
	}
	return "", fmt.Errorf("unknown scan kind %q", s)
}

// Request is one scan input.
type Request struct {
	Kind Kind
	// Name is the declared file name for file and manifest scans.
	Name string
	// Data holds file, manifest or ZIP bytes.
	Data    []byte
	RepoURL string
	Dir     string
	// Project is opaque to the engine; it only appears in logs.
	Project string
}

// Options wires an Engine. Zero values fall back to defaults.
type Options struct {
	Limits       collector.Limits
	Timeouts     config.Timeouts
	Workers      int
	Policy       score.Policy
	Registry     *security.Registry
	Index        vuln.Index
	Resolver     vuln.ResolverOptions
	Cloner       git.Cloner
	AllowedHosts []string
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Engine is safe for concurrent scans; it holds no per-scan state.
type Engine struct {
	collector    *collector.Collector
	rules        *security.Engine
	resolver     *vuln.Resolver
	cloner       git.Cloner
	allowedHosts []string
	timeouts     config.Timeouts
	policy       score.Policy
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New builds an Engine. A nil Index resolves against an empty snapshot, so
// every dependency comes back clean.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(nil)
	}
	if opts.Limits == (collector.Limits{}) {
		opts.Limits = collector.DefaultLimits()
	}
	if opts.Policy == (score.Policy{}) {
		opts.Policy = score.DefaultPolicy()
	}
	if opts.Index == nil {
		opts.Index = vuln.NewSnapshotIndex(vuln.Snapshot{}, opts.Logger)
	}
	if opts.Cloner == nil {
		opts.Cloner = git.NewClient()
	}
	defaults := config.DefaultTimeouts()
	t := &opts.Timeouts
	for _, pair := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.File, defaults.File},
		{&t.Archive, defaults.Archive},
		{&t.Directory, defaults.Directory},
		{&t.Repository, defaults.Repository},
		{&t.Manifest, defaults.Manifest},
	} {
		if *pair.v <= 0 {
			*pair.v = pair.def
		}
	}
	if opts.Resolver.Logger == nil {
		opts.Resolver.Logger = opts.Logger
	}

	m := opts.Metrics
	return &Engine{
		collector: collector.New(opts.Limits, opts.Logger),
		rules: security.NewEngine(opts.Registry, security.Options{
			Workers: opts.Workers,
			Logger:  opts.Logger,
			OnFault: func(f *verrors.DetectorFault) {
				m.DetectorFaults.WithLabelValues(f.Detector).Inc()
			},
		}),
		resolver:     vuln.NewResolver(opts.Index, opts.Resolver),
		cloner:       opts.Cloner,
		allowedHosts: opts.AllowedHosts,
		timeouts:     opts.Timeouts,
		policy:       opts.Policy,
		metrics:      m,
		logger:       opts.Logger,
	}
}

// Timeout returns the whole-scan deadline for kind.
func (e *Engine) Timeout(kind Kind) time.Duration {
	switch kind {
	case KindFile:
		return e.timeouts.File
	case KindArchive:
		return e.timeouts.Archive
	case KindDirectory:
		return e.timeouts.Directory
	case KindRepository:
		return e.timeouts.Repository
	case KindManifest:
		return e.timeouts.Manifest
	}
	return e.timeouts.File
}

// Scan runs one request under its per-kind deadline.
//
// Input and unsafe-input errors return a nil result. When the deadline
// expires the scan stops cooperatively and returns what it finished, flagged
// as truncated. Cancellation by the caller returns the context error.
func (e *Engine) Scan(ctx context.Context, req Request) (*model.ScanResult, error) {
	start := time.Now()
	logger := e.logger.With("scan_id", uuid.NewString(), "kind", req.Kind, "project", req.Project)
	e.metrics.ScansInProgress.Inc()
	defer e.metrics.ScansInProgress.Dec()

	res, err := e.scan(ctx, req, logger)
	e.metrics.ObserveScan(string(req.Kind), res, time.Since(start))
	if err != nil {
		logger.Warn("scan failed", "error", err, "duration", time.Since(start))
		return nil, err
	}
	e.metrics.FilesScanned.Add(float64(res.FilesScanned))
	logger.Info("scan finished",
		"score", res.Score,
		"high", res.Summary.High,
		"medium", res.Summary.Medium,
		"low", res.Summary.Low,
		"files", res.FilesScanned,
		"truncated", res.Truncated,
		"partial", res.Partial,
		"duration", time.Since(start))
	return res, nil
}

func (e *Engine) scan(parent context.Context, req Request, logger *slog.Logger) (*model.ScanResult, error) {
	timeout := e.Timeout(req.Kind)
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	col, err := e.collect(ctx, req, logger)
	if err != nil {
		if col == nil || !errors.Is(err, context.DeadlineExceeded) || parent.Err() != nil {
			return nil, err
		}
		logger.Warn("collection stopped at deadline", "records", len(col.Records))
	}
	if err := col.Err(); err != nil {
		logger.Debug("some inputs were skipped", "error", err)
	}

	var (
		rules      *security.Result
		resolution *vuln.Resolution
	)
	var g errgroup.Group
	if req.Kind != KindManifest {
		g.Go(func() error {
			rules = e.rules.Scan(ctx, col.Records)
			return nil
		})
	}
	g.Go(func() error {
		resolution = e.resolver.Resolve(ctx, col.Records)
		return nil
	})
	_ = g.Wait()

	if parent.Err() != nil {
		return nil, parent.Err()
	}
	if rules == nil {
		rules = &security.Result{FilesScanned: len(col.Records)}
	}

	findings := make([]model.Finding, 0, len(rules.Findings)+len(resolution.Findings))
	findings = append(findings, rules.Findings...)
	findings = append(findings, resolution.Findings...)

	res := score.Aggregate(findings, e.policy)
	switch req.Kind {
	case KindFile, KindManifest:
		if len(col.Records) > 0 {
			res.FileName = col.Records[0].Path
		}
	default:
		res.FilesScanned = rules.FilesScanned
	}

	deadline := errors.Is(ctx.Err(), context.DeadlineExceeded)
	res.Truncated = col.Truncated || rules.Cancelled || deadline
	res.Partial = resolution.Partial() || len(rules.Faults) > 0

	var warnings []string
	if deadline {
		warnings = append(warnings, fmt.Sprintf("scan deadline of %s exceeded, results are incomplete", timeout))
	}
	warnings = append(warnings, col.Warnings...)
	warnings = append(warnings, resolution.Warnings...)
	for _, f := range rules.Faults {
		warnings = append(warnings, fmt.Sprintf("detector %s failed on %s", f.Detector, f.Path))
	}
	if len(warnings) > 0 {
		res.Warnings = warnings
	}
	return res, nil
}

// collect turns the request into source records. On deadline expiry it may
// return a partial collection together with the context error.
func (e *Engine) collect(ctx context.Context, req Request, logger *slog.Logger) (*collector.Collection, error) {
	switch req.Kind {
	case KindFile:
		return e.collector.FromFile(req.Name, req.Data)
	case KindManifest:
		if !collector.IsManifest(req.Name) {
			return nil, verrors.NewInputError(req.Name, verrors.ErrUnsupportedFileType,
				"expected package.json, requirements*.txt or go.mod")
		}
		return e.collector.FromFile(req.Name, req.Data)
	case KindArchive:
		return e.collector.FromZip(ctx, req.Data)
	case KindDirectory:
		return e.collector.FromDir(ctx, req.Dir)
	case KindRepository:
		return e.collectRepository(ctx, req.RepoURL, logger)
	}
	return nil, fmt.Errorf("unknown scan kind %q", req.Kind)
}

type headCommitter interface {
	HeadCommit(ctx context.Context, dir string) (string, error)
}

func (e *Engine) collectRepository(ctx context.Context, repoURL string, logger *slog.Logger) (*collector.Collection, error) {
	if err := git.ValidateRepoURL(repoURL, e.allowedHosts); err != nil {
		return nil, verrors.NewInputError(git.Redact(repoURL), verrors.ErrInvalidRepository, err.Error())
	}

	dest, err := os.MkdirTemp("", "vulnvault-clone-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create clone directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dest); err != nil {
			logger.Warn("failed to remove clone directory", "path", dest, "error", err)
		}
	}()

	logger.Info("cloning repository", "url", git.Redact(repoURL))
	if err := e.cloner.Clone(ctx, repoURL, dest); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &collector.Collection{
				Truncated: true,
				Warnings:  []string{"repository clone did not finish before the deadline"},
			}, ctx.Err()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, verrors.NewInputError(git.Redact(repoURL), verrors.ErrInvalidRepository, err.Error())
	}
	if hc, ok := e.cloner.(headCommitter); ok {
		if sha, err := hc.HeadCommit(ctx, dest); err == nil {
			logger.Info("repository cloned", "commit", sha)
		}
	}
	return e.collector.FromDir(ctx, dest)
}
