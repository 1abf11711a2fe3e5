// Package anthropic implements the provider gateway for the Anthropic
// messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
)

const (
	defaultBaseURL = "https://api.anthropic.com/v1"
	apiVersion     = "2023-06-01"

	// The messages API requires max_tokens; applied when the request
	// params don't set one.
	defaultMaxTokens = 1024
)

// Config holds the settings required to reach the Anthropic API.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint. Defaults to the public one.
	BaseURL string

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client is a provider.Generator over the messages endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New validates the configuration and returns a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key cannot be empty", provider.ErrConfiguration)
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
		logger:  logger.With("component", "provider.anthropic"),
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends one messages request and returns the concatenated text
// blocks of the response.
func (c *Client) Generate(ctx context.Context, req request.Request) (string, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": []message{{Role: "user", Content: req.Prompt}},
	}
	for k, v := range req.Params {
		body[k] = v
	}
	if _, ok := body["max_tokens"]; !ok {
		body["max_tokens"] = defaultMaxTokens
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
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

	var parsed messagesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: invalid JSON response: %v", provider.ErrMalformedOutput, err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: response contained no text blocks", provider.ErrMalformedOutput)
	}

	c.logger.DebugContext(ctx, "message received",
		"model", req.Model,
		"response_length", text.Len())
	return text.String(), nil
}

func classifyStatus(status int, body []byte) error {
	summary := apiErrorSummary(body)

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, summary)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", provider.ErrConfiguration, status, summary)
	case status == 529: // anthropic "overloaded_error"
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, summary)
	case status >= 500:
		return fmt.Errorf("%w: status %d: %s", provider.ErrServerFault, status, summary)
	default:
		return fmt.Errorf("%w: status %d: %s", provider.ErrMalformedOutput, status, summary)
	}
}

func apiErrorSummary(body []byte) string {
	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
