package suggest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	verrors "vulnvault/internal/errors"
)

const (
	DefaultGeminiURL   = "https://generativelanguage.googleapis.com/v1beta/models"
	DefaultGeminiModel = "gemini-flash-lite-latest"
)

// GeminiClient completes prompts with Google's generateContent API.
type GeminiClient struct {
	apiKey     string
	model      string
	apiURL     string
	httpClient *http.Client
}

// NewGeminiClient creates a new Gemini client. Empty model or apiURL use the
// defaults.
func NewGeminiClient(apiKey, model, apiURL string) *GeminiClient {
	if model == "" {
		model = DefaultGeminiModel
	}
	if apiURL == "" {
		apiURL = DefaultGeminiURL
	}
	return &GeminiClient{
		apiKey: apiKey,
		model:  model,
		apiURL: strings.TrimRight(apiURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Complete sends one prompt without retries.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("API key is required")
	}

	url := fmt.Sprintf("%s/%s:generateContent", c.apiURL, c.model)
	requestBody := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     0.5,
			"topP":            0.9,
			"topK":            20,
			"maxOutputTokens": 800,
		},
	}

	var response geminiResponse
	err := postJSON(ctx, c.httpClient, "gemini", url, map[string]string{"x-goog-api-key": c.apiKey}, requestBody, &response)
	if err != nil {
		return "", err
	}

	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		reason := "no content in response"
		if len(response.Candidates) > 0 && response.Candidates[0].FinishReason != "" {
			reason = "response blocked: " + response.Candidates[0].FinishReason
		}
		return "", &verrors.CollaboratorError{Service: "gemini", Message: reason}
	}

	var b strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
