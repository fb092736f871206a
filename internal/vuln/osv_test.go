package vuln

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	verrors "vulnvault/internal/errors"
	"vulnvault/internal/model"
	"vulnvault/internal/versions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lodashResponse = `{
  "vulns": [
    {
      "id": "GHSA-35jh-r3h4-6jhm",
      "summary": "Command Injection in lodash",
      "database_specific": {"severity": "HIGH"},
      "affected": [
        {
          "package": {"name": "lodash", "ecosystem": "npm"},
          "ranges": [{"type": "SEMVER", "events": [{"introduced": "0"}, {"fixed": "4.17.21"}]}]
        }
      ]
    },
    {
      "id": "GHSA-29mw-wpgm-hmr9",
      "details": "ReDoS in lodash\nlonger text",
      "database_specific": {"severity": "MODERATE"},
      "affected": [
        {
          "package": {"name": "lodash", "ecosystem": "npm"},
          "ranges": [
            {"type": "GIT", "events": [{"introduced": "abc"}, {"fixed": "def"}]},
            {"type": "SEMVER", "events": [{"introduced": "4.0.0"}, {"fixed": "4.17.21"}, {"introduced": "5.0.0"}, {"last_affected": "5.0.1"}]}
          ]
        },
        {
          "package": {"name": "lodash-es", "ecosystem": "npm"},
          "ranges": [{"type": "SEMVER", "events": [{"introduced": "0"}]}]
        }
      ]
    },
    {
      "id": "OTHER-ONLY",
      "affected": [{"package": {"name": "lodash.merge", "ecosystem": "npm"}, "versions": ["1.0.0"]}]
    }
  ]
}`

func newTestFeed(url string, retries int) *OSVFeed {
	return NewOSVFeed(OSVOptions{BaseURL: url, Retries: retries, Backoff: time.Millisecond, QPS: 1000})
}

func TestOSVFeed_Lookup(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Package osvPackage `json:"package"`
			Version string     `json:"version"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lodash", req.Package.Name)
		assert.Equal(t, "npm", req.Package.Ecosystem)
		assert.Empty(t, req.Version, "only the package is queried")

		w.Write([]byte(lodashResponse))
	}))
	defer ts.Close()

	advs, err := newTestFeed(ts.URL, 0).Lookup(context.Background(), versions.NPM, "lodash")
	require.NoError(t, err)
	require.Len(t, advs, 2, "advisories for other packages are dropped")

	assert.Equal(t, "GHSA-35jh-r3h4-6jhm", advs[0].ID)
	assert.Equal(t, model.SeverityHigh, advs[0].Severity)
	assert.Equal(t, []Range{{Introduced: "0", Fixed: "4.17.21"}}, advs[0].Ranges)

	assert.Equal(t, "ReDoS in lodash", advs[1].Summary)
	assert.Equal(t, model.SeverityMedium, advs[1].Severity)
	assert.Equal(t, []Range{
		{Introduced: "4.0.0", Fixed: "4.17.21"},
		{Introduced: "5.0.0", LastAffected: "5.0.1"},
	}, advs[1].Ranges)
}

func TestOSVFeed_Pagination(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) == 1 {
			assert.Nil(t, req["page_token"])
			w.Write([]byte(`{"vulns":[{"id":"A","affected":[{"package":{"name":"flask","ecosystem":"PyPI"},"versions":["0.1"]}]}],"next_page_token":"p2"}`))
			return
		}
		assert.Equal(t, "p2", req["page_token"])
		w.Write([]byte(`{"vulns":[{"id":"B","affected":[{"package":{"name":"Flask","ecosystem":"PyPI"},"versions":["0.2"]}]}]}`))
	}))
	defer ts.Close()

	advs, err := newTestFeed(ts.URL, 0).Lookup(context.Background(), versions.PyPI, "flask")
	require.NoError(t, err)
	require.Len(t, advs, 2)
	assert.Equal(t, "B", advs[1].ID)
	assert.Equal(t, model.SeverityHigh, advs[1].Severity, "unlabelled advisories default to HIGH")
	assert.EqualValues(t, 2, calls.Load())
}

func TestOSVFeed_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	var outcomes []string
	feed := NewOSVFeed(OSVOptions{
		BaseURL: ts.URL, Retries: 3, Backoff: time.Millisecond, QPS: 1000,
		Observe: func(outcome string, _ time.Duration) { outcomes = append(outcomes, outcome) },
	})
	advs, err := feed.Lookup(context.Background(), versions.Go, "golang.org/x/net")
	require.NoError(t, err)
	assert.Empty(t, advs)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []string{"retry", "retry", "ok"}, outcomes)
}

func TestOSVFeed_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	_, err := newTestFeed(ts.URL, 2).Lookup(context.Background(), versions.NPM, "express")
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())

	var collabErr *verrors.CollaboratorError
	require.True(t, errors.As(err, &collabErr))
	assert.Equal(t, http.StatusTooManyRequests, collabErr.StatusCode)
	assert.Equal(t, time.Second, collabErr.RetryAfter)
}

func TestOSVFeed_PermanentFailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad ecosystem", http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := newTestFeed(ts.URL, 3).Lookup(context.Background(), versions.NPM, "express")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, verrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "bad ecosystem")
}

func TestOSVFeed_ContextCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFeed(ts.URL, 3).Lookup(ctx, versions.NPM, "express")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventsToRanges(t *testing.T) {
	assert.Equal(t,
		[]Range{{Introduced: "0", Fixed: "1.0"}},
		eventsToRanges([]osvEvent{{Fixed: "1.0"}}))
	assert.Equal(t,
		[]Range{{Introduced: "2.0"}},
		eventsToRanges([]osvEvent{{Introduced: "2.0"}}))
	assert.Equal(t,
		[]Range{{Introduced: "1.0"}, {Introduced: "2.0", Fixed: "2.1"}},
		eventsToRanges([]osvEvent{{Introduced: "1.0"}, {Introduced: "2.0"}, {Fixed: "2.1"}}))
}
