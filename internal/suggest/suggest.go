// Package suggest asks a text-completion service how to fix one finding.
// It is never called by the scan itself.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vulnvault/internal/config"
	verrors "vulnvault/internal/errors"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	// DefaultTimeout bounds a whole Suggest call, retries included.
	DefaultTimeout = 60 * time.Second
	maxCodeExcerpt = 150
)

// Suggester produces one remediation text for a finding.
type Suggester interface {
	Suggest(ctx context.Context, f model.Finding) (string, error)
}

// Completer sends one prompt to a provider without retrying.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Prompt renders the request for f. Only the already masked excerpt is sent,
// truncated to 150 characters.
func Prompt(f model.Finding) string {
	typ := string(f.Category)
	if typ == "" {
		typ = "Unknown"
	}
	desc := f.Description
	if desc == "" {
		desc = "No description"
	}
	code := f.Code
	if code == "" {
		code = "N/A"
	}
	if r := []rune(code); len(r) > maxCodeExcerpt {
		code = string(r[:maxCodeExcerpt])
	}

	var b strings.Builder
	b.WriteString("As a code security educator, explain how to fix this vulnerability:\n\n")
	fmt.Fprintf(&b, "Type: %s\n", typ)
	fmt.Fprintf(&b, "Issue: %s\n", desc)
	fmt.Fprintf(&b, "Vulnerable code: %s\n\n", code)
	b.WriteString("Provide:\n")
	b.WriteString("1. Why it's risky (2 sentences)\n")
	b.WriteString("2. Fixed code example\n")
	b.WriteString("3. Prevention tip\n\n")
	b.WriteString("Be brief and educational.")
	return b.String()
}

// Options tunes a Service.
type Options struct {
	// Retries is the number of extra attempts after the first one.
	Retries int
	Backoff time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service turns a Completer into a Suggester with retries.
type Service struct {
	provider  string
	completer Completer
	backoff   wait.Backoff
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wraps c. provider labels logs and metrics.
func NewService(provider string, c Completer, opts Options) *Service {
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		provider:  provider,
		completer: c,
		backoff: wait.Backoff{
			Duration: opts.Backoff,
			Factor:   2,
			Jitter:   0.1,
			Steps:    opts.Retries + 1,
			Cap:      20 * time.Second,
		},
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Suggest returns the provider's text for f. Retryable failures are retried
// with exponential backoff; the final failure is a CollaboratorError.
func (s *Service) Suggest(ctx context.Context, f model.Finding) (string, error) {
	prompt := Prompt(f)

	var (
		text    string
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, s.backoff, func(ctx context.Context) (bool, error) {
		got, err := s.completer.Complete(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(got)
			return true, nil
		}
		lastErr = err
		if !verrors.IsRetryable(err) {
			return false, err
		}
		s.logger.Debug("suggestion request failed, retrying", "provider", s.provider, "error", err)
		return false, nil
	})
	if err != nil {
		if wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
			err = lastErr
		}
		s.metrics.SuggestionsTotal.WithLabelValues(s.provider, "error").Inc()
		s.logger.Warn("suggestion failed", "provider", s.provider, "category", f.Category, "error", err)
		return "", s.asCollaboratorError(err)
	}
	s.metrics.SuggestionsTotal.WithLabelValues(s.provider, "ok").Inc()
	return text, nil
}

func (s *Service) asCollaboratorError(err error) error {
	var collabErr *verrors.CollaboratorError
	if errors.As(err, &collabErr) {
		return collabErr
	}
	return &verrors.CollaboratorError{Service: s.provider, Err: err}
}

type deadlineSuggester struct {
	inner   Suggester
	timeout time.Duration
}

// WithDeadline bounds every call to s by timeout. A call that runs out of time
// fails with a retryable CollaboratorError wrapping context.DeadlineExceeded.
func WithDeadline(s Suggester, timeout time.Duration) Suggester {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &deadlineSuggester{inner: s, timeout: timeout}
}

func (d *deadlineSuggester) Suggest(ctx context.Context, f model.Finding) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	text, err := d.inner.Suggest(ctx, f)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", &verrors.CollaboratorError{
			Service: "suggestion",
			Message: fmt.Sprintf("no answer within %s, try again", d.timeout),
			Err:     context.DeadlineExceeded,
		}
	}
	return text, err
}

// New builds the configured provider with retries and the caller deadline.
func New(cfg config.AIConfig, m *metrics.Metrics, logger *slog.Logger) (Suggester, error) {
	var c Completer
	switch cfg.Provider {
	case "", "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini is not configured: set GEMINI_API_KEY or VULNVAULT_AI_API_KEY")
		}
		c = NewGeminiClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai is not configured: set OPENAI_API_KEY or VULNVAULT_AI_API_KEY")
		}
		c = NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "openrouter":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openrouter is not configured: set OPENROUTER_API_KEY or VULNVAULT_AI_API_KEY")
		}
		c = NewOpenRouterClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "ollama":
		c = NewOllamaClient(cfg.Model, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown AI provider: %s", cfg.Provider)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "gemini"
	}
	svc := NewService(provider, c, Options{
		Retries: cfg.Retries,
		Metrics: m,
		Logger:  logger,
	})
	return WithDeadline(svc, cfg.Timeout), nil
}
