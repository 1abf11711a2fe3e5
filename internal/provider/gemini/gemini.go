// Package gemini implements the provider gateway for Google's Gemini
// models via the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
)

// Config holds the settings required to reach the Gemini API.
type Config struct {
	// APIKey authenticates requests. Required.
	APIKey string
}

// Client is a provider.Generator backed by the genai SDK.
type Client struct {
	client *genai.Client
	logger *slog.Logger
}

// New validates the configuration, initializes the genai client and
// returns a Client.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", provider.ErrConfiguration)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gemini client: %v", provider.ErrConfiguration, err)
	}

	return &Client{
		client: client,
		logger: logger.With("component", "provider.gemini"),
	}, nil
}

// Generate sends one request to the configured model and returns the
// concatenated text parts of the first candidate.
func (c *Client) Generate(ctx context.Context, req request.Request) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, req.Model,
		genai.Text(req.Prompt), generationConfig(req.Params))
	if err != nil {
		return "", classify(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: empty response", provider.ErrMalformedOutput)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", provider.ErrMalformedOutput)
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: response contained no text parts", provider.ErrMalformedOutput)
	}

	c.logger.DebugContext(ctx, "content generated",
		"model", req.Model,
		"response_length", text.Len())
	return text.String(), nil
}

// generationConfig maps the engine's generic parameter names onto the SDK
// config. Unknown keys are ignored rather than rejected; they still count
// toward the request fingerprint.
func generationConfig(params map[string]any) *genai.GenerateContentConfig {
	if len(params) == 0 {
		return nil
	}

	cfg := &genai.GenerateContentConfig{}
	if v, ok := toFloat32(params["temperature"]); ok {
		cfg.Temperature = genai.Ptr(v)
	}
	if v, ok := toFloat32(params["top_p"]); ok {
		cfg.TopP = genai.Ptr(v)
	}
	if v, ok := toFloat32(params["max_tokens"]); ok {
		cfg.MaxOutputTokens = int32(v)
	} else if v, ok := toFloat32(params["max_output_tokens"]); ok {
		cfg.MaxOutputTokens = int32(v)
	}
	return cfg
}

func toFloat32(v any) (float32, bool) {
	switch n := v.(type) {
	case float64:
		return float32(n), true
	case float32:
		return n, true
	case int:
		return float32(n), true
	case int64:
		return float32(n), true
	default:
		return 0, false
	}
}

// classify maps genai SDK errors onto the gateway taxonomy using the API
// status code when one is present.
func classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", provider.ErrRateLimited, err)
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return fmt.Errorf("%w: %v", provider.ErrConfiguration, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", provider.ErrServerFault, err)
		case apiErr.Code >= 400:
			return fmt.Errorf("%w: %v", provider.ErrMalformedOutput, err)
		}
	}
	return fmt.Errorf("%w: %v", provider.ErrTransientConnection, err)
}
