package security

import (
	"context"
	"log/slog"
	"maps"
	"runtime"
	"sort"
	"sync"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/model"
)

// Options configures an Engine.
type Options struct {
	// Workers bounds the number of files evaluated concurrently. Zero means
	// runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
	// OnFault, if set, is called for every detector panic.
	OnFault func(*verrors.DetectorFault)
}

// Engine applies a registry to collected files with a bounded worker pool.
// An Engine holds no per-scan state and may serve concurrent scans.
type Engine struct {
	registry *Registry
	workers  int
	logger   *slog.Logger
	onFault  func(*verrors.DetectorFault)
}

// NewEngine returns an Engine over reg. A nil reg uses DefaultRegistry().
func NewEngine(reg *Registry, opts Options) *Engine {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		registry: reg,
		workers:  opts.Workers,
		logger:   opts.Logger,
		onFault:  opts.OnFault,
	}
}

// Registry returns the detectors the engine applies.
func (e *Engine) Registry() *Registry { return e.registry }

// Result is the outcome of applying the registry to a set of files.
type Result struct {
	// Findings are grouped by file in input order, then by detector
	// registration order.
	Findings []model.Finding
	Faults   []*verrors.DetectorFault
	// FilesScanned counts files every applicable detector ran on.
	FilesScanned int
	// Cancelled is set when the context ended before all files were scanned.
	Cancelled bool
}

type fileResult struct {
	idx      int
	findings []model.Finding
	faults   []*verrors.DetectorFault
	complete bool
}

// Scan evaluates every record. It never fails: detector panics are isolated
// per detector and per file, and cancellation yields whatever was finished.
func (e *Engine) Scan(ctx context.Context, records []model.SourceRecord) *Result {
	res := &Result{}
	if len(records) == 0 {
		return res
	}

	jobs := make(chan int)
	results := make(chan fileResult)

	var wg sync.WaitGroup
	for w := 0; w < min(e.workers, len(records)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- e.scanFile(ctx, idx, records[idx])
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range records {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	perFile := make([][]model.Finding, len(records))
	for r := range results {
		perFile[r.idx] = r.findings
		res.Faults = append(res.Faults, r.faults...)
		if r.complete {
			res.FilesScanned++
		}
	}

	for _, fs := range perFile {
		res.Findings = append(res.Findings, fs...)
	}
	sort.Slice(res.Faults, func(i, j int) bool {
		if res.Faults[i].Path != res.Faults[j].Path {
			return res.Faults[i].Path < res.Faults[j].Path
		}
		return res.Faults[i].Detector < res.Faults[j].Detector
	})
	res.Cancelled = res.FilesScanned < len(records)
	return res
}

func (e *Engine) scanFile(ctx context.Context, idx int, rec model.SourceRecord) fileResult {
	out := fileResult{idx: idx}
	src := NewSource(rec)
	detectors := e.registry.For(rec.Language)

	masks := map[string]string{}
	redacted := true
	for _, d := range detectors {
		if d.Secrets == nil {
			continue
		}
		found, fault := collectSecrets(d, src)
		if fault != nil {
			e.recordFault(&out, fault)
			redacted = false
			continue
		}
		maps.Copy(masks, found)
	}
	src.SetRedactions(masks)

	for _, d := range detectors {
		if ctx.Err() != nil {
			return out
		}
		findings, fault := runDetector(d, src)
		if fault != nil {
			e.recordFault(&out, fault)
			continue
		}
		out.findings = append(out.findings, findings...)
	}

	// Excerpts are masked at the source; matchers that build their own
	// text are covered here.
	for i := range out.findings {
		if !redacted {
			out.findings[i].Code = ""
			continue
		}
		out.findings[i].Code = src.Redact(out.findings[i].Code)
	}
	out.complete = true
	return out
}

func (e *Engine) recordFault(out *fileResult, fault *verrors.DetectorFault) {
	e.logger.Error("detector failed", "detector", fault.Detector, "path", fault.Path, "error", fault)
	if e.onFault != nil {
		e.onFault(fault)
	}
	out.faults = append(out.faults, fault)
}

func collectSecrets(d Detector, src *Source) (masks map[string]string, fault *verrors.DetectorFault) {
	defer func() {
		if r := recover(); r != nil {
			masks = nil
			fault = &verrors.DetectorFault{Detector: d.ID, Path: src.Path, Panic: r}
		}
	}()
	return d.Secrets(src), nil
}

func runDetector(d Detector, src *Source) (findings []model.Finding, fault *verrors.DetectorFault) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			fault = &verrors.DetectorFault{Detector: d.ID, Path: src.Path, Panic: r}
		}
	}()
	return d.Run(src), nil
}
