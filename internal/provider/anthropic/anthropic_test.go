package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/request"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
	}, testLogger())
	require.NoError(t, err)
	return client
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, testLogger())
	assert.ErrorIs(t, err, provider.ErrConfiguration)
}

func TestGenerate_Success(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(defaultMaxTokens), body["max_tokens"],
			"max_tokens default should be applied when params omit it")

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	})

	out, err := client.Generate(context.Background(), request.Request{
		Provider: "anthropic",
		Model:    "claude-3-haiku",
		Prompt:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
}

func TestGenerate_FailureClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, provider.ErrRateLimited},
		{"overloaded", 529, provider.ErrRateLimited},
		{"server fault", http.StatusInternalServerError, provider.ErrServerFault},
		{"bad credentials", http.StatusUnauthorized, provider.ErrConfiguration},
		{"invalid request", http.StatusBadRequest, provider.ErrMalformedOutput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"nope"}}`))
			})

			_, err := client.Generate(context.Background(), request.Request{Model: "m", Prompt: "p"})
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestGenerate_NoTextBlocks(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})

	_, err := client.Generate(context.Background(), request.Request{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, provider.ErrMalformedOutput)
}
