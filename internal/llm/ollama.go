// Package llm provides the HTTP client for the Ollama-compatible chat
// collaborator.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// OllamaClient implements contracts.LLMProvider against Ollama's /api/chat.
type OllamaClient struct {
	endpoint string // e.g. http://localhost:11434
	model    string
	client   *http.Client
}

// Option configures the Ollama client.
type Option func(*OllamaClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *OllamaClient) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OllamaClient) { c.client = hc }
}

// NewOllamaClient creates a chat client for the given endpoint and model.
func NewOllamaClient(endpoint, model string, opts ...Option) *OllamaClient {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	c := &OllamaClient{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  models.ChatOptions   `json:"options"`
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// Chat sends the message sequence and returns the assistant reply text.
func (c *OllamaClient) Chat(ctx context.Context, messages []models.ChatMessage, opts models.ChatOptions) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  opts,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/api/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &contracts.RemoteCallError{Endpoint: url, Reason: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &contracts.RemoteCallError{Endpoint: url, Status: resp.StatusCode, Reason: "read response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &contracts.RemoteCallError{Endpoint: url, Status: resp.StatusCode, Reason: string(respBody)}
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &contracts.RemoteCallError{Endpoint: url, Status: resp.StatusCode, Reason: "unmarshal response: " + err.Error()}
	}
	if result.Error != "" {
		return "", &contracts.RemoteCallError{Endpoint: url, Status: resp.StatusCode, Reason: result.Error}
	}

	return result.Message.Content, nil
}

// Ping verifies the collaborator is reachable via GET /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	url := c.endpoint + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &contracts.RemoteCallError{Endpoint: url, Reason: err.Error()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &contracts.RemoteCallError{Endpoint: url, Status: resp.StatusCode, Reason: "health probe failed"}
	}
	return nil
}

var _ contracts.LLMProvider = (*OllamaClient)(nil)
