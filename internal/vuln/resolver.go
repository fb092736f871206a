package vuln

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"vulnvault/internal/model"
	"vulnvault/internal/versions"

	"golang.org/x/sync/errgroup"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

const (
	detectorAdvisory   = "dependency-advisory"
	detectorUnverified = "dependency-unverified"
)

// ResolverOptions bounds the load put on the advisory index.
type ResolverOptions struct {
	// Concurrency caps in-flight lookups.
	Concurrency int
	// CallTimeout bounds each lookup, retries included.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Resolution is the outcome of resolving every manifest of one scan.
type Resolution struct {
	Findings []model.Finding
	// Manifests counts manifests that parsed.
	Manifests int
	// FailedManifests lists manifests whose lookups failed; they contribute
	// no findings.
	FailedManifests []string
	// Warnings describe malformed manifests that were skipped.
	Warnings []string
	Lookups  int
	errs     []error
}

// Partial reports whether some manifest could not be evaluated.
func (r *Resolution) Partial() bool {
	return len(r.FailedManifests) > 0
}

// Err aggregates manifest parse errors and lookup failures.
func (r *Resolution) Err() error {
	return utilerrors.NewAggregate(r.errs)
}

// Resolver matches manifest declarations against an advisory index.
type Resolver struct {
	index  Index
	opts   ResolverOptions
	logger *slog.Logger
}

// NewResolver creates a resolver over index.
func NewResolver(index Index, opts ResolverOptions) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{index: index, opts: opts, logger: logger}
}

type lookupKey struct {
	eco  versions.Ecosystem
	name string
}

type lookupResult struct {
	advisories []Advisory
	err        error
}

type resolvedDecl struct {
	decl    Declaration
	version string
	ok      bool
}

type parsedManifest struct {
	manifest *Manifest
	cmp      versions.Comparator
	decls    []resolvedDecl
}

// Resolve parses every manifest among records and evaluates its
// declarations. Records that are not manifests are ignored. It never fails
// the scan: parse errors become warnings, lookup failures mark the manifest
// as failed.
func (r *Resolver) Resolve(ctx context.Context, records []model.SourceRecord) *Resolution {
	res := &Resolution{}
	var parsed []parsedManifest
	keys := map[lookupKey]int{}
	var order []lookupKey

	for _, rec := range records {
		if _, ok := DetectManifest(rec.Path); !ok {
			continue
		}
		m, err := ParseManifest(rec.Path, rec.Content)
		if err != nil {
			r.logger.Warn("skipping malformed manifest", "path", rec.Path, "error", err)
			res.Warnings = append(res.Warnings, "skipped "+err.Error())
			res.errs = append(res.errs, err)
			continue
		}
		c, err := versions.For(m.Ecosystem)
		if err != nil {
			res.errs = append(res.errs, err)
			continue
		}
		pm := parsedManifest{manifest: m, cmp: c}
		for _, d := range m.Declarations {
			v, ok := ResolveVersion(c, d.Spec)
			pm.decls = append(pm.decls, resolvedDecl{decl: d, version: v, ok: ok})
			if !ok {
				continue
			}
			k := lookupKey{m.Ecosystem, NormalizeName(m.Ecosystem, d.Name)}
			if _, seen := keys[k]; !seen {
				keys[k] = len(order)
				order = append(order, k)
			}
		}
		parsed = append(parsed, pm)
	}
	res.Manifests = len(parsed)
	res.Lookups = len(order)

	results := r.lookupAll(ctx, order)

	for _, pm := range parsed {
		var findings []model.Finding
		var failed error
		for _, rd := range pm.decls {
			if !rd.ok {
				findings = append(findings, unverifiedFinding(pm.manifest, rd.decl))
				continue
			}
			lr := results[keys[lookupKey{pm.manifest.Ecosystem, NormalizeName(pm.manifest.Ecosystem, rd.decl.Name)}]]
			if lr.err != nil {
				failed = lr.err
				break
			}
			if f, ok := advisoryFinding(pm.manifest, pm.cmp, rd, lr.advisories); ok {
				findings = append(findings, f)
			}
		}
		if failed != nil {
			res.FailedManifests = append(res.FailedManifests, pm.manifest.Path)
			res.Warnings = append(res.Warnings, fmt.Sprintf("advisory lookup failed for %s: %v", pm.manifest.Path, failed))
			res.errs = append(res.errs, fmt.Errorf("%s: %w", pm.manifest.Path, failed))
			continue
		}
		res.Findings = append(res.Findings, findings...)
	}
	return res
}

func (r *Resolver) lookupAll(ctx context.Context, keys []lookupKey) []lookupResult {
	results := make([]lookupResult, len(keys))
	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for i, k := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = lookupResult{err: err}
				return nil
			}
			callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
			defer cancel()
			advs, err := r.index.Lookup(callCtx, k.eco, k.name)
			results[i] = lookupResult{advisories: advs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func unverifiedFinding(m *Manifest, d Declaration) model.Finding {
	spec := d.Spec
	if spec == "" {
		spec = "unspecified"
	}
	return model.Finding{
		Category:       model.CategoryVulnerableDependency,
		Severity:       model.SeverityLow,
		Location:       model.Location{Path: m.Path, Line: d.Line},
		Description:    fmt.Sprintf("Unable to verify %s: version spec %q does not resolve to a concrete version", d.Name, spec),
		Suggestion:     fmt.Sprintf("Pin %s to an exact version so it can be checked against advisories", d.Name),
		Code:           declarationCode(d),
		Package:        d.Name,
		CurrentVersion: d.Spec,
		Ecosystem:      string(m.Ecosystem),
		Detector:       detectorUnverified,
	}
}

func advisoryFinding(m *Manifest, c versions.Comparator, rd resolvedDecl, advs []Advisory) (model.Finding, bool) {
	var matched []Advisory
	for _, a := range advs {
		if a.Affects(c, rd.version) {
			a.Severity = MapSeverity(string(a.Severity))
			matched = append(matched, a)
		}
	}
	if len(matched) == 0 {
		return model.Finding{}, false
	}
	slices.SortFunc(matched, func(a, b Advisory) int {
		if d := cmp.Compare(b.Severity.Rank(), a.Severity.Rank()); d != 0 {
			return d
		}
		return strings.Compare(a.ID, b.ID)
	})

	ids := make([]string, 0, len(matched))
	fixed := ""
	for _, a := range matched {
		ids = append(ids, a.ID)
		if f := a.FixedFor(c, rd.version); f != "" && (fixed == "" || c.Compare(f, fixed) > 0) {
			fixed = f
		}
	}

	top := matched[0]
	desc := fmt.Sprintf("%s %s is affected by %s", rd.decl.Name, rd.version, top.ID)
	if top.Summary != "" {
		desc += ": " + top.Summary
	}
	if n := len(matched) - 1; n > 0 {
		desc += fmt.Sprintf(" (and %d more)", n)
	}
	suggestion := fmt.Sprintf("Update %s to %s or later", rd.decl.Name, fixed)
	if fixed == "" {
		suggestion = fmt.Sprintf("No fixed release of %s is known; replace it or mitigate %s", rd.decl.Name, top.ID)
	}

	return model.Finding{
		Category:       model.CategoryVulnerableDependency,
		Severity:       top.Severity,
		Location:       model.Location{Path: m.Path, Line: rd.decl.Line},
		Description:    desc,
		Suggestion:     suggestion,
		Code:           declarationCode(rd.decl),
		Package:        rd.decl.Name,
		CurrentVersion: rd.version,
		Ecosystem:      string(m.Ecosystem),
		AdvisoryIDs:    ids,
		Detector:       detectorAdvisory,
	}, true
}

func declarationCode(d Declaration) string {
	if d.Spec == "" {
		return d.Name
	}
	return d.Name + " " + d.Spec
}
