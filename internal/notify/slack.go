package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	verrors "vulnvault/internal/errors"

	"github.com/slack-go/slack"
)

const slackService = "slack"

// Notifier delivers one plain-text message.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// WebhookNotifier sends notifications to Slack via an incoming webhook.
type WebhookNotifier struct {
	WebhookURL string
	Client     *http.Client
}

// NewWebhookNotifier creates a new WebhookNotifier.
func NewWebhookNotifier(webhookURL string) *WebhookNotifier {
	return &WebhookNotifier{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends a message to the configured Slack webhook.
func (s *WebhookNotifier) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}

	body, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return &verrors.CollaboratorError{Service: slackService, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return verrors.NewStatusError(slackService, resp, respBody)
	}
	return nil
}

// BotNotifier posts as a Slack app using a bot user token.
type BotNotifier struct {
	client  *slack.Client
	channel string
}

// NewBotNotifier creates a notifier posting to channel. An empty channel
// falls back to #security.
func NewBotNotifier(token, channel string, opts ...slack.Option) *BotNotifier {
	if channel == "" {
		channel = "#security"
	}
	return &BotNotifier{
		client:  slack.New(token, opts...),
		channel: channel,
	}
}

// Notify posts message to the configured channel.
func (b *BotNotifier) Notify(ctx context.Context, message string) error {
	_, _, err := b.client.PostMessageContext(ctx, b.channel, slack.MsgOptionText(message, false))
	if err != nil {
		return &verrors.CollaboratorError{Service: slackService, Err: err}
	}
	return nil
}
