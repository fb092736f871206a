package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vulnvault/internal/collector"
	"vulnvault/internal/config"
	verrors "vulnvault/internal/errors"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"
	"vulnvault/internal/report"
	"vulnvault/internal/security"
	"vulnvault/internal/versions"
	"vulnvault/internal/vuln"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const appJS = `const API_KEY = "sk-1234567890abcdef";

function getUserById(userId) {
    const query = "SELECT * FROM users WHERE id = " + userId;
    db.query(query);
}

function calculateExpression(expression) {
    return eval(expression);
}
`

const packageJSON = `{
  "name": "demo",
  "dependencies": {
    "lodash": "4.17.20"
  }
}
`

func testSnapshot() vuln.Snapshot {
	return vuln.Snapshot{
		versions.NPM: {
			"lodash": {{
				ID:       "GHSA-35jh-r3h4-6jhm",
				Summary:  "Command injection in lodash",
				Severity: model.SeverityHigh,
				Ranges:   []vuln.Range{{Introduced: "0", Fixed: "4.17.21"}},
			}},
		},
		versions.PyPI: {
			"django": {{
				ID:       "PYSEC-2021-98",
				Summary:  "SQL injection in Django",
				Severity: model.SeverityMedium,
				Ranges:   []vuln.Range{{Introduced: "3.2", Fixed: "3.2.4"}},
			}},
		},
	}
}

func newTestEngine(t *testing.T, mod func(*Options)) *Engine {
	t.Helper()
	opts := Options{
		Workers: 2,
		Index:   vuln.NewSnapshotIndex(testSnapshot(), nil),
		Metrics: metrics.NewMetrics(nil),
	}
	if mod != nil {
		mod(&opts)
	}
	return New(opts)
}

func projectZip(t *testing.T) []byte {
	t.Helper()
	data, err := collector.BuildZip(map[string][]byte{
		"demo/src/app.js":       []byte(appJS),
		"demo/package.json":     []byte(packageJSON),
		"demo/README.md":        []byte("# demo\n"),
		"demo/node_modules/x.js": []byte("eval(x)"),
	}, []string{"demo/src/app.js", "demo/package.json", "demo/README.md", "demo/node_modules/x.js"})
	require.NoError(t, err)
	return data
}

func categories(res *model.ScanResult) map[model.Category]int {
	out := map[model.Category]int{}
	for _, f := range res.Findings {
		out[f.Category]++
	}
	return out
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"file", KindFile},
		{"zip", KindArchive},
		{"dir", KindDirectory},
		{"repo", KindRepository},
		{"deps", KindManifest},
		{"manifest", KindManifest},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
	_, err := ParseKind("tarball")
	assert.Error(t, err)
}

func TestScan_Archive(t *testing.T) {
	m := metrics.NewMetrics(nil)
	e := newTestEngine(t, func(o *Options) { o.Metrics = m })

	res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: projectZip(t), Project: "demo"})
	require.NoError(t, err)

	cats := categories(res)
	assert.Equal(t, 1, cats[model.CategoryHardcodedSecret])
	assert.Equal(t, 1, cats[model.CategorySQLInjection])
	assert.Equal(t, 1, cats[model.CategoryUnsafeEval])
	assert.Equal(t, 1, cats[model.CategoryVulnerableDependency])

	assert.Equal(t, 3, res.FilesScanned)
	assert.Empty(t, res.FileName)
	assert.True(t, res.Complete())
	assert.Equal(t, len(res.Findings), res.TotalIssues)
	assert.Equal(t, res.Summary.Total(), res.TotalIssues)

	dep := res.Findings[len(res.Findings)-1]
	assert.Equal(t, "lodash", dep.Package)
	assert.Equal(t, "4.17.20", dep.CurrentVersion)
	assert.Equal(t, "demo/package.json", dep.Location.Path)

	for _, f := range res.Findings {
		assert.NotContains(t, f.Code, "sk-1234567890abcdef")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("archive", "complete")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FilesScanned))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ScansInProgress))
}

func TestScan_ZipSlipFailsWholeScan(t *testing.T) {
	data, err := collector.BuildZip(map[string][]byte{
		"ok/app.js":        []byte(appJS),
		"../../etc/cron.d": []byte("* * * * * root sh"),
	}, []string{"ok/app.js", "../../etc/cron.d"})
	require.NoError(t, err)

	m := metrics.NewMetrics(nil)
	e := newTestEngine(t, func(o *Options) { o.Metrics = m })
	res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: data})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, verrors.ErrUnsafeArchiveEntry)
	var unsafe *verrors.UnsafeInputError
	assert.ErrorAs(t, err, &unsafe)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("archive", "failed")))
}

func TestScan_Idempotent(t *testing.T) {
	e := newTestEngine(t, nil)
	data := projectZip(t)

	render := func() []byte {
		res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: data})
		require.NoError(t, err)
		p, err := report.Assemble(res)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, report.WriteJSON(&buf, p))
		return buf.Bytes()
	}
	assert.Equal(t, string(render()), string(render()))
}

func TestScan_File(t *testing.T) {
	e := newTestEngine(t, nil)
	res, err := e.Scan(context.Background(), Request{Kind: KindFile, Name: "src/app.js", Data: []byte(appJS)})
	require.NoError(t, err)
	assert.Equal(t, "src/app.js", res.FileName)
	assert.Zero(t, res.FilesScanned)
	assert.Equal(t, 3, res.TotalIssues)
	assert.Equal(t, 3, res.Summary.High)
	assert.Equal(t, 55, res.Score)
}

func TestScan_FileErrors(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.Limits = collector.Limits{MaxFileBytes: 16, MaxTotalBytes: 1024, MaxFiles: 10}
	})

	_, err := e.Scan(context.Background(), Request{Kind: KindFile, Name: "big.js", Data: []byte(appJS)})
	assert.ErrorIs(t, err, verrors.ErrPayloadTooLarge)

	_, err = e.Scan(context.Background(), Request{Kind: KindFile, Name: "a.bin", Data: []byte("\x00\x01")})
	assert.ErrorIs(t, err, verrors.ErrUnsupportedFileType)
}

func TestScan_Manifest(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Scan(context.Background(), Request{
		Kind: KindManifest,
		Name: "requirements.txt",
		Data: []byte("django==3.2.0\nrequests==2.31.0\n"),
	})
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	f := res.Findings[0]
	assert.Equal(t, model.CategoryVulnerableDependency, f.Category)
	assert.Equal(t, model.SeverityMedium, f.Severity)
	assert.Equal(t, "django", f.Package)
	assert.Equal(t, "3.2.0", f.CurrentVersion)
	assert.Equal(t, "requirements.txt", res.FileName)

	res, err = e.Scan(context.Background(), Request{
		Kind: KindManifest,
		Name: "requirements.txt",
		Data: []byte("django==3.2.4\n"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.True(t, res.Clean())
}

func TestScan_ManifestRejectsOtherFiles(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Scan(context.Background(), Request{Kind: KindManifest, Name: "app.js", Data: []byte(appJS)})
	assert.ErrorIs(t, err, verrors.ErrUnsupportedFileType)
}

func TestScan_DeadlineTruncates(t *testing.T) {
	blocking := vuln.IndexFunc(func(ctx context.Context, _ versions.Ecosystem, _ string) ([]vuln.Advisory, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newTestEngine(t, func(o *Options) {
		o.Index = blocking
		o.Timeouts = config.Timeouts{Archive: 100 * time.Millisecond}
	})

	start := time.Now()
	res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: projectZip(t)})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.True(t, res.Truncated)
	assert.True(t, res.Partial)
	assert.False(t, res.Complete())
	assert.False(t, res.Clean())
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "deadline")
	assert.Zero(t, categories(res)[model.CategoryVulnerableDependency])
	assert.Equal(t, len(res.Findings), res.TotalIssues)
}

func TestScan_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, nil)
	res, err := e.Scan(ctx, Request{Kind: KindArchive, Data: projectZip(t)})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_CollectionCapTruncates(t *testing.T) {
	e := newTestEngine(t, func(o *Options) {
		o.Limits = collector.Limits{MaxFileBytes: 1 << 10, MaxTotalBytes: 1 << 20, MaxFiles: 1}
	})
	res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: projectZip(t)})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.False(t, res.Partial)
	assert.Equal(t, 1, res.FilesScanned)
}

func TestScan_DetectorFaultMarksPartial(t *testing.T) {
	boom := security.Detector{
		ID:       "boom",
		Category: model.CategoryUnsafeEval,
		Severity: model.SeverityHigh,
		Match: func(src *security.Source) []security.Match {
			panic("bad input")
		},
	}
	reg, err := security.NewRegistry(boom)
	require.NoError(t, err)

	m := metrics.NewMetrics(nil)
	e := newTestEngine(t, func(o *Options) {
		o.Registry = reg
		o.Metrics = m
	})
	res, err := e.Scan(context.Background(), Request{Kind: KindFile, Name: "a.js", Data: []byte("x")})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.False(t, res.Truncated)
	assert.Equal(t, []string{"detector boom failed on a.js"}, res.Warnings)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DetectorFaults.WithLabelValues("boom")))
}

func TestScan_FailedFeedMarksPartial(t *testing.T) {
	failing := vuln.IndexFunc(func(context.Context, versions.Ecosystem, string) ([]vuln.Advisory, error) {
		return nil, &verrors.CollaboratorError{Service: "osv", StatusCode: 503}
	})
	e := newTestEngine(t, func(o *Options) { o.Index = failing })

	res, err := e.Scan(context.Background(), Request{Kind: KindArchive, Data: projectZip(t)})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.False(t, res.Truncated)
	assert.Zero(t, categories(res)[model.CategoryVulnerableDependency])

	p, err := report.Assemble(res)
	require.NoError(t, err)
	assert.Equal(t, report.StatusIncomplete, p.Status)
}

type MockCloner struct {
	mock.Mock
}

func (m *MockCloner) Clone(ctx context.Context, repoURL, dest string) error {
	args := m.Called(ctx, repoURL, dest)
	return args.Error(0)
}

func TestScan_Repository(t *testing.T) {
	cloner := new(MockCloner)
	var cloneDir string
	cloner.On("Clone", mock.Anything, "https://github.com/acme/demo.git", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) {
			cloneDir = args.String(2)
			require.NoError(t, os.MkdirAll(filepath.Join(cloneDir, "src"), 0o755))
			require.NoError(t, os.MkdirAll(filepath.Join(cloneDir, ".git"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "src", "app.js"), []byte(appJS), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(cloneDir, "package.json"), []byte(packageJSON), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(cloneDir, ".git", "config"), []byte("[core]\n"), 0o644))
		}).
		Return(nil)

	e := newTestEngine(t, func(o *Options) {
		o.Cloner = cloner
		o.AllowedHosts = []string{"github.com"}
	})
	res, err := e.Scan(context.Background(), Request{Kind: KindRepository, RepoURL: "https://github.com/acme/demo.git"})
	require.NoError(t, err)
	cloner.AssertExpectations(t)

	assert.Equal(t, 2, res.FilesScanned)
	assert.Equal(t, 1, categories(res)[model.CategoryVulnerableDependency])
	for _, f := range res.Findings {
		assert.False(t, strings.HasPrefix(f.Location.Path, "/"), f.Location.Path)
	}

	_, statErr := os.Stat(cloneDir)
	assert.True(t, os.IsNotExist(statErr), "clone directory should be removed")
}

func TestScan_RepositoryRejectsDisallowedHost(t *testing.T) {
	cloner := new(MockCloner)
	e := newTestEngine(t, func(o *Options) {
		o.Cloner = cloner
		o.AllowedHosts = []string{"github.com"}
	})

	_, err := e.Scan(context.Background(), Request{Kind: KindRepository, RepoURL: "https://evil.example/acme/demo"})
	assert.ErrorIs(t, err, verrors.ErrInvalidRepository)
	cloner.AssertNotCalled(t, "Clone", mock.Anything, mock.Anything, mock.Anything)
}

func TestScan_RepositoryCloneFailure(t *testing.T) {
	cloner := new(MockCloner)
	cloner.On("Clone", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("git clone failed: repository not found"))

	e := newTestEngine(t, func(o *Options) {
		o.Cloner = cloner
		o.AllowedHosts = []string{"github.com"}
	})
	res, err := e.Scan(context.Background(), Request{Kind: KindRepository, RepoURL: "git@github.com:acme/missing.git"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, verrors.ErrInvalidRepository)
	assert.Contains(t, err.Error(), "repository not found")
}

func TestScan_RepositoryCloneDeadline(t *testing.T) {
	cloner := new(MockCloner)
	cloner.On("Clone", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(errors.New("signal: killed"))

	e := newTestEngine(t, func(o *Options) {
		o.Cloner = cloner
		o.AllowedHosts = []string{"github.com"}
		o.Timeouts = config.Timeouts{Repository: 50 * time.Millisecond}
	})
	res, err := e.Scan(context.Background(), Request{Kind: KindRepository, RepoURL: "https://github.com/acme/huge.git"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Truncated)
	assert.False(t, res.Complete())
	assert.Empty(t, res.Findings)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "deadline")
	assert.Contains(t, res.Warnings, "repository clone did not finish before the deadline")
}

func TestTimeout(t *testing.T) {
	e := New(Options{Timeouts: config.Timeouts{File: time.Second}})
	assert.Equal(t, time.Second, e.Timeout(KindFile))
	assert.Equal(t, config.DefaultTimeouts().Repository, e.Timeout(KindRepository))
	assert.Equal(t, config.DefaultTimeouts().Manifest, e.Timeout(KindManifest))
	assert.Equal(t, 3*time.Minute, e.Timeout(KindArchive))
	assert.Equal(t, 10*time.Minute, e.Timeout(KindRepository))
}
