// Package openai implements the provider gateway for OpenAI-compatible
// chat completion backends.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config holds the settings required to reach an OpenAI-compatible API.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	// Defaults to the public OpenAI endpoint.
	BaseURL string

	// HTTPClient overrides the transport, mainly for tests. Defaults to
	// a client with a 120s timeout.
	HTTPClient *http.Client
}

// Client is a provider.Generator over the chat completions endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New validates the configuration and returns a Client. A missing API key
// is a configuration error, not something a retry can fix.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key cannot be empty", provider.ErrConfiguration)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger.With("component", "provider.openai"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends one chat completion request and returns the first
// choice's text.
func (c *Client) Generate(ctx context.Context, req request.Request) (string, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": []chatMessage{{Role: "user", Content: req.Prompt}},
	}
	// Generation options pass through verbatim (temperature, max_tokens,
	// top_p, ...).
	for k, v := range req.Params {
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", provider.ErrTransientConnection, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", provider.ErrTransientConnection, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: invalid JSON response: %v", provider.ErrMalformedOutput, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: response contained no choices", provider.ErrMalformedOutput)
	}

	c.logger.DebugContext(ctx, "completion received",
		"model", req.Model,
		"response_length", len(parsed.Choices[0].Message.Content))
	return parsed.Choices[0].Message.Content, nil
}

func classifyStatus(status int, body []byte) error {
	summary := apiErrorSummary(body)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, summary)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", provider.ErrConfiguration, status, summary)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", provider.ErrServerFault, status, summary)
	default:
		// 4xx other than auth/throttle: the request shape itself is bad.
		return fmt.Errorf("%w: status %d: %s", provider.ErrMalformedOutput, status, summary)
	}
}

func apiErrorSummary(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
