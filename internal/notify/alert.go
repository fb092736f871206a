package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vulnvault/internal/config"
	"vulnvault/internal/metrics"
	"vulnvault/internal/model"
)

// maxListed is how many HIGH findings an alert spells out.
const maxListed = 5

// Alerter sends one message for each scan that found HIGH severity issues.
type Alerter struct {
	notifier Notifier
	channel  string
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAlerter builds an Alerter from configuration. It returns nil when Slack
// alerts are disabled or no credentials are available; a nil Alerter is safe
// to call.
func NewAlerter(cfg config.SlackConfig, m *metrics.Metrics, logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return nil
	}
	switch {
	case cfg.Token != "":
		return NewAlerterWith(NewBotNotifier(cfg.Token, cfg.Channel), "bot", m, logger)
	case cfg.WebhookURL != "":
		return NewAlerterWith(NewWebhookNotifier(cfg.WebhookURL), "webhook", m, logger)
	}
	logger.Warn("SLACK_BOT_USER_TOKEN and notifications.slack.webhook_url not set, slack alerts disabled")
	return nil
}

// NewAlerterWith wraps an existing notifier. channel labels metrics.
func NewAlerterWith(n Notifier, channel string, m *metrics.Metrics, logger *slog.Logger) *Alerter {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{notifier: n, channel: channel, metrics: m, logger: logger}
}

// Alert posts a summary of res when it has HIGH findings. It reports whether a
// message was sent. Delivery failures are logged and counted but otherwise
// swallowed.
func (a *Alerter) Alert(ctx context.Context, project string, res *model.ScanResult) bool {
	if a == nil || res == nil || res.Summary.High == 0 {
		return false
	}
	if err := a.notifier.Notify(ctx, Message(project, res)); err != nil {
		a.metrics.AlertsTotal.WithLabelValues(a.channel, "error").Inc()
		a.logger.Warn("Failed to send Slack alert", "project", project, "error", err)
		return false
	}
	a.metrics.AlertsTotal.WithLabelValues(a.channel, "ok").Inc()
	a.logger.Info("Slack alert sent", "project", project, "high", res.Summary.High)
	return true
}

// Message renders the alert text for res.
func Message(project string, res *model.ScanResult) string {
	if project == "" {
		project = "unnamed project"
	}
	status := "complete"
	if !res.Complete() {
		status = "incomplete"
	}

	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s*: %d HIGH severity finding(s), score %d (%s)\n",
		project, res.Summary.High, res.Score, res.Grade)
	fmt.Fprintf(&b, "High: %d | Medium: %d | Low: %d | Status: %s\n",
		res.Summary.High, res.Summary.Medium, res.Summary.Low, status)

	listed := 0
	for _, f := range res.Findings {
		if f.Severity != model.SeverityHigh {
			continue
		}
		if listed == maxListed {
			break
		}
		listed++
		loc := f.Location.Path
		if f.Location.Line > 0 {
			loc = fmt.Sprintf("%s:%d", loc, f.Location.Line)
		}
		fmt.Fprintf(&b, "• `%s` %s: %s\n", loc, f.Category, f.Description)
	}
	if rest := res.Summary.High - listed; rest > 0 {
		fmt.Fprintf(&b, "and %d more HIGH finding(s)\n", rest)
	}
	return strings.TrimRight(b.String(), "\n")
}
