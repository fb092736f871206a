package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vulnvault/internal/config"
	verrors "vulnvault/internal/errors"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sqlFinding = model.Finding{
	Category:    model.CategorySQLInjection,
	Severity:    model.SeverityHigh,
	Description: "SQL query built by string concatenation",
	Code:        `cursor.execute("SELECT * FROM users WHERE id = " + user_id)`,
}

func TestPrompt(t *testing.T) {
	p := Prompt(sqlFinding)
	assert.Contains(t, p, "Type: sql_injection\n")
	assert.Contains(t, p, "Issue: SQL query built by string concatenation\n")
	assert.Contains(t, p, `Vulnerable code: cursor.execute(`)
	assert.Contains(t, p, "Be brief and educational.")

	long := model.Finding{Code: strings.Repeat("é", 400)}
	p = Prompt(long)
	assert.Contains(t, p, "Vulnerable code: "+strings.Repeat("é", 150)+"\n")
	assert.NotContains(t, p, strings.Repeat("é", 151))
	assert.Contains(t, p, "Type: Unknown")
	assert.Contains(t, p, "Issue: No description")

	assert.Contains(t, Prompt(model.Finding{}), "Vulnerable code: N/A")
}

func TestGeminiClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "contents")

		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"Use "},{"text":"parameters."}]}}]}`))
	}))
	defer server.Close()

	c := NewGeminiClient("key-1", "gemini-test", server.URL+"/models/")
	got, err := c.Complete(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "Use parameters.", got)
}

func TestGeminiClient_Blocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY"}]}`))
	}))
	defer server.Close()

	_, err := NewGeminiClient("k", "", server.URL).Complete(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGeminiClient_MissingKey(t *testing.T) {
	_, err := NewGeminiClient("", "", "").Complete(context.Background(), "p")
	assert.Error(t, err)
	assert.False(t, verrors.IsRetryable(err))
}

func TestOpenAIClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultOpenAIModel, body.Model)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "hello", body.Messages[0].Content)

		w.Write([]byte(`{"choices":[{"message":{"content":"fixed"}}]}`))
	}))
	defer server.Close()

	got, err := NewOpenAIClient("sk-test", "", server.URL).Complete(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)
}

func TestOpenRouterClient_SendsTitle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VulnVault", r.Header.Get("X-Title"))
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	got, err := NewOpenRouterClient("or-key", "", server.URL).Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestOpenAIClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`rate limited`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient("k", "", server.URL).Complete(context.Background(), "p")
	var collabErr *verrors.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, http.StatusTooManyRequests, collabErr.StatusCode)
	assert.Equal(t, 3*time.Second, collabErr.RetryAfter)
	assert.True(t, verrors.IsRetryable(err))
}

func TestOllamaClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		w.Write([]byte(`{"response":"local answer","done":true}`))
	}))
	defer server.Close()

	got, err := NewOllamaClient("", server.URL+"/").Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "local answer", got)
}

func TestOllamaClient_Incomplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"par","done":false}`))
	}))
	defer server.Close()

	_, err := NewOllamaClient("m", server.URL).Complete(context.Background(), "p")
	assert.Error(t, err)
}

type scriptedCompleter struct {
	calls atomic.Int32
	errs  []error
	text  string
	block bool
}

func (s *scriptedCompleter) Complete(ctx context.Context, _ string) (string, error) {
	n := int(s.calls.Add(1))
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if n <= len(s.errs) {
		return "", s.errs[n-1]
	}
	return s.text, nil
}

func unavailable() error {
	return &verrors.CollaboratorError{Service: "test", StatusCode: http.StatusServiceUnavailable}
}

func TestService_RetriesTransientFailures(t *testing.T) {
	c := &scriptedCompleter{errs: []error{unavailable(), unavailable()}, text: "  answer \n"}
	m := metrics.NewMetrics(nil)
	s := NewService("test", c, Options{Retries: 2, Backoff: time.Millisecond, Metrics: m})

	got, err := s.Suggest(context.Background(), sqlFinding)
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, int32(3), c.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SuggestionsTotal.WithLabelValues("test", "ok")))
}

func TestService_GivesUpAfterRetries(t *testing.T) {
	c := &scriptedCompleter{errs: []error{unavailable(), unavailable(), unavailable()}}
	m := metrics.NewMetrics(nil)
	s := NewService("test", c, Options{Retries: 1, Backoff: time.Millisecond, Metrics: m})

	_, err := s.Suggest(context.Background(), sqlFinding)
	var collabErr *verrors.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, http.StatusServiceUnavailable, collabErr.StatusCode)
	assert.True(t, verrors.IsRetryable(err))
	assert.Equal(t, int32(2), c.calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SuggestionsTotal.WithLabelValues("test", "error")))
}

func TestService_PermanentFailureNotRetried(t *testing.T) {
	bad := &verrors.CollaboratorError{Service: "test", StatusCode: http.StatusBadRequest}
	c := &scriptedCompleter{errs: []error{bad}}
	s := NewService("test", c, Options{Retries: 3, Backoff: time.Millisecond})

	_, err := s.Suggest(context.Background(), sqlFinding)
	require.Error(t, err)
	assert.Equal(t, int32(1), c.calls.Load())
	assert.False(t, verrors.IsRetryable(err))
}

func TestService_PlainErrorBecomesCollaboratorError(t *testing.T) {
	c := &scriptedCompleter{errs: []error{errors.New("API key is required")}}
	s := NewService("gemini", c, Options{})

	_, err := s.Suggest(context.Background(), sqlFinding)
	var collabErr *verrors.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.Equal(t, "gemini", collabErr.Service)
}

func TestWithDeadline(t *testing.T) {
	c := &scriptedCompleter{block: true}
	s := WithDeadline(NewService("test", c, Options{}), 20*time.Millisecond)

	start := time.Now()
	_, err := s.Suggest(context.Background(), sqlFinding)
	assert.Less(t, time.Since(start), 5*time.Second)

	var collabErr *verrors.CollaboratorError
	require.ErrorAs(t, err, &collabErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, verrors.IsRetryable(err))
}

func TestWithDeadline_PassesThrough(t *testing.T) {
	c := &scriptedCompleter{text: "fine"}
	got, err := WithDeadline(NewService("test", c, Options{}), 0).Suggest(context.Background(), sqlFinding)
	require.NoError(t, err)
	assert.Equal(t, "fine", got)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AIConfig
		wantErr bool
	}{
		{"gemini", config.AIConfig{Provider: "gemini", APIKey: "k"}, false},
		{"gemini without key", config.AIConfig{Provider: "gemini"}, true},
		{"openai", config.AIConfig{Provider: "openai", APIKey: "k"}, false},
		{"openrouter without key", config.AIConfig{Provider: "openrouter"}, true},
		{"ollama needs no key", config.AIConfig{Provider: "ollama"}, false},
		{"unknown", config.AIConfig{Provider: "bard", APIKey: "k"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg, metrics.NewMetrics(nil), nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, s)
		})
	}
}
