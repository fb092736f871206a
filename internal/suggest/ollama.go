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
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "codellama"
)

// OllamaClient completes prompts with a local Ollama server.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client. No API key is needed.
func NewOllamaClient(model, baseURL string) *OllamaClient {
	if model == "" {
		model = DefaultOllamaModel
	}
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // local models are slow
		},
	}
}

// Complete sends one prompt without retries.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
	}

	var response struct {
		Response string `json:"response"`
		Done     bool   `json:"done"`
		Error    string `json:"error,omitempty"`
	}
	err := postJSON(ctx, c.httpClient, "ollama", fmt.Sprintf("%s/api/generate", c.baseURL), nil, requestBody, &response)
	if err != nil {
		return "", err
	}
	if response.Error != "" {
		return "", &verrors.CollaboratorError{Service: "ollama", Message: response.Error}
	}
	if !response.Done {
		return "", &verrors.CollaboratorError{Service: "ollama", Message: "response incomplete"}
	}
	return response.Response, nil
}
