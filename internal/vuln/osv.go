package vuln

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/versions"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/flowcontrol"
)

const (
	DefaultOSVURL = "https://api.osv.dev"
	osvService    = "osv"
)

// OSVOptions configures an OSVFeed. Zero values fall back to defaults.
type OSVOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	// Retries is the number of extra attempts after the first one.
	Retries int
	Backoff time.Duration
	QPS     float32
	Burst   int
	Logger  *slog.Logger
	// Observe, if set, is called after every HTTP attempt with its outcome
	// ("ok", "error", "retry").
	Observe func(outcome string, elapsed time.Duration)
}

// OSVFeed is an Index backed by the OSV query API.
type OSVFeed struct {
	baseURL string
	client  *http.Client
	backoff wait.Backoff
	limiter flowcontrol.RateLimiter
	logger  *slog.Logger
	observe func(string, time.Duration)
}

// NewOSVFeed creates a feed client.
func NewOSVFeed(opts OSVOptions) *OSVFeed {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultOSVURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.QPS <= 0 {
		opts.QPS = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = max(1, int(opts.QPS))
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &OSVFeed{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.HTTPClient,
		backoff: wait.Backoff{
			Duration: opts.Backoff,
			Factor:   2,
			Jitter:   0.1,
			Steps:    opts.Retries + 1,
			Cap:      30 * time.Second,
		},
		limiter: flowcontrol.NewTokenBucketRateLimiter(opts.QPS, opts.Burst),
		logger:  opts.Logger,
		observe: opts.Observe,
	}
}

type osvQuery struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version,omitempty"`
}

type osvPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type osvResponse struct {
	Vulns         []osvVuln `json:"vulns"`
	NextPageToken string    `json:"next_page_token"`
}

type osvVuln struct {
	ID       string        `json:"id"`
	Summary  string        `json:"summary"`
	Details  string        `json:"details"`
	Affected []osvAffected `json:"affected"`
	// GitHub advisories carry a qualitative severity here.
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

type osvAffected struct {
	Package  osvPackage `json:"package"`
	Ranges   []osvRange `json:"ranges"`
	Versions []string   `json:"versions"`
	// Some databases put the severity on the affected entry instead.
	EcosystemSpecific struct {
		Severity string `json:"severity"`
	} `json:"ecosystem_specific"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

type osvRange struct {
	Type   string     `json:"type"`
	Events []osvEvent `json:"events"`
}

type osvEvent struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
}

// Lookup queries every advisory for a package. Only the package is sent;
// version matching happens locally so one response serves every declared
// version of the package.
func (f *OSVFeed) Lookup(ctx context.Context, eco versions.Ecosystem, name string) ([]Advisory, error) {
	q := osvQuery{Package: osvPackage{Name: name, Ecosystem: string(eco)}}

	var (
		vulns   []osvVuln
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, f.backoff, func(ctx context.Context) (bool, error) {
		if err := f.limiter.Wait(ctx); err != nil {
			return false, err
		}
		start := time.Now()
		got, err := f.query(ctx, q)
		if err == nil {
			f.record("ok", start)
			vulns = got
			return true, nil
		}
		lastErr = err
		if !verrors.IsRetryable(err) {
			f.record("error", start)
			return false, err
		}
		f.record("retry", start)
		f.logger.Debug("advisory query failed, retrying", "ecosystem", eco, "package", name, "error", err)
		return false, nil
	})
	if err != nil {
		if wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		f.logger.Warn("advisory lookup failed", "ecosystem", eco, "package", name, "error", err)
		return nil, fmt.Errorf("lookup %s/%s: %w", eco, name, err)
	}
	return toAdvisories(vulns, eco, name), nil
}

func (f *OSVFeed) record(outcome string, start time.Time) {
	if f.observe != nil {
		f.observe(outcome, time.Since(start))
	}
}

// query runs one logical query, following pagination.
func (f *OSVFeed) query(ctx context.Context, q osvQuery) ([]osvVuln, error) {
	var all []osvVuln
	token := ""
	for {
		body := map[string]any{"package": q.Package}
		if token != "" {
			body["page_token"] = token
		}
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/v1/query", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, &verrors.CollaboratorError{Service: osvService, Err: err}
		}
		var page osvResponse
		err = func() error {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return verrors.NewStatusError(osvService, resp, bodyBytes)
			}
			if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
				return &verrors.CollaboratorError{Service: osvService, Message: "invalid response", Err: err}
			}
			return nil
		}()
		if err != nil {
			return nil, err
		}
		all = append(all, page.Vulns...)
		if page.NextPageToken == "" {
			return all, nil
		}
		token = page.NextPageToken
	}
}

// toAdvisories keeps the affected entries for the queried package and turns
// their event lists into closed ranges.
func toAdvisories(vulns []osvVuln, eco versions.Ecosystem, name string) []Advisory {
	key := NormalizeName(eco, name)
	out := make([]Advisory, 0, len(vulns))
	for _, v := range vulns {
		adv := Advisory{ID: v.ID, Summary: v.Summary}
		if adv.Summary == "" {
			adv.Summary = firstLine(v.Details)
		}
		label := v.DatabaseSpecific.Severity
		for _, aff := range v.Affected {
			if !strings.EqualFold(aff.Package.Ecosystem, string(eco)) || NormalizeName(eco, aff.Package.Name) != key {
				continue
			}
			if label == "" {
				label = aff.DatabaseSpecific.Severity
			}
			if label == "" {
				label = aff.EcosystemSpecific.Severity
			}
			adv.Versions = append(adv.Versions, aff.Versions...)
			for _, r := range aff.Ranges {
				if r.Type == "GIT" {
					continue
				}
				adv.Ranges = append(adv.Ranges, eventsToRanges(r.Events)...)
			}
		}
		adv.Severity = MapSeverity(label)
		if len(adv.Ranges) == 0 && len(adv.Versions) == 0 {
			continue
		}
		out = append(out, adv)
	}
	return out
}

func eventsToRanges(events []osvEvent) []Range {
	var out []Range
	var cur *Range
	for _, e := range events {
		switch {
		case e.Introduced != "":
			if cur != nil {
				out = append(out, *cur)
			}
			cur = &Range{Introduced: e.Introduced}
		case e.Fixed != "" || e.LastAffected != "":
			if cur == nil {
				cur = &Range{Introduced: "0"}
			}
			cur.Fixed, cur.LastAffected = e.Fixed, e.LastAffected
			out = append(out, *cur)
			cur = nil
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
