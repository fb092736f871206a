package suggest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	verrors "vulnvault/internal/errors"
)

const (
	DefaultOpenAIURL       = "https://api.openai.com/v1/chat/completions"
	DefaultOpenRouterURL   = "https://openrouter.ai/api/v1/chat/completions"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
)

// OpenAIClient talks to any chat-completions endpoint: OpenAI itself,
// OpenRouter, or a compatible local server.
type OpenAIClient struct {
	service    string
	apiKey     string
	model      string
	apiURL     string
	headers    map[string]string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for the OpenAI API.
func NewOpenAIClient(apiKey, model, apiURL string) *OpenAIClient {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if apiURL == "" {
		apiURL = DefaultOpenAIURL
	}
	return &OpenAIClient{
		service: "openai",
		apiKey:  apiKey,
		model:   model,
		apiURL:  apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewOpenRouterClient creates a chat-completions client for OpenRouter.
func NewOpenRouterClient(apiKey, model, apiURL string) *OpenAIClient {
	if model == "" {
		model = DefaultOpenRouterModel
	}
	if apiURL == "" {
		apiURL = DefaultOpenRouterURL
	}
	c := NewOpenAIClient(apiKey, model, apiURL)
	c.service = "openrouter"
	c.headers = map[string]string{"X-Title": "VulnVault"}
	return c
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends one prompt without retries.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key is required")
	}

	requestBody := map[string]any{
		"model": c.model,
		"messages": []map[string]any{
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"max_tokens":  800,
		"temperature": 0.5,
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	for k, v := range c.headers {
		headers[k] = v
	}

	var response chatResponse
	if err := postJSON(ctx, c.httpClient, c.service, c.apiURL, headers, requestBody, &response); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 || response.Choices[0].Message.Content == "" {
		return "", &verrors.CollaboratorError{Service: c.service, Message: "no content in response"}
	}
	return response.Choices[0].Message.Content, nil
}
