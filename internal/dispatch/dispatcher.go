// Package dispatch wraps provider gateway calls with the result cache and
// bounded retry/backoff. It is the unit of reliability: callers get back
// either text or a terminal, classified failure, never a raw transport
// error mid-retry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/loomworks/loomgen/internal/cache"
	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/redact"
	"github.com/loomworks/loomgen/internal/request"
)

// ErrRetriesExhausted wraps the last retryable failure once the retry
// budget is spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config tunes retry behavior.
type Config struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int

	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry up to MaxBackoff.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration

	// UseCache controls whether the result store is consulted and
	// written. Disabling it forces a provider call for every dispatch.
	UseCache bool
}

// DefaultConfig mirrors the engine's historical defaults: three retries,
// one second initial backoff, sixteen second ceiling, cache on.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     16 * time.Second,
		UseCache:       true,
	}
}

// Dispatcher executes requests through a provider registry with caching
// and retry. It is safe for concurrent use.
type Dispatcher struct {
	registry *provider.Registry
	store    cache.Store
	config   Config
	logger   *slog.Logger

	// sleep is replaceable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Dispatcher. Zero config values fall back to defaults.
func New(registry *provider.Registry, store cache.Store, config Config, logger *slog.Logger) *Dispatcher {
	defaults := DefaultConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}

	return &Dispatcher{
		registry: registry,
		store:    store,
		config:   config,
		logger:   logger.With("component", "dispatch"),
		sleep:    sleepCtx,
	}
}

// Dispatch returns the text for req, from the cache when possible.
//
// On a miss it calls the gateway, retrying retryable failures with
// exponential backoff plus jitter. Fatal failures return immediately.
// A successful response is written to the cache before returning; a failed
// cache write is logged and the response is still returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req request.Request) (string, error) {
	fp := req.Fingerprint()
	logger := d.logger.With("fingerprint", string(fp), "provider", req.Provider, "model", req.Model)

	if d.config.UseCache {
		// Read failures inside the store degrade to a miss.
		if entry, hit, _ := d.store.Get(ctx, fp); hit {
			logger.DebugContext(ctx, "cache hit")
			return entry.Response, nil
		}
	}

	text, err := d.callWithRetry(ctx, req, logger)
	if err != nil {
		return "", err
	}

	if d.config.UseCache {
		entry := &cache.Entry{
			Prompt:   req.Prompt,
			Response: text,
			StoredAt: time.Now().UTC(),
		}
		if err := d.store.Put(ctx, fp, entry); err != nil {
			// The result is still good; only persistence failed.
			logger.WarnContext(ctx, "failed to cache response", "error", err)
		}
	}

	return text, nil
}

func (d *Dispatcher) callWithRetry(ctx context.Context, req request.Request, logger *slog.Logger) (string, error) {
	backoff := d.config.InitialBackoff

	var lastErr error
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		text, err := d.registry.Generate(ctx, req)
		if err == nil {
			if attempt > 0 {
				logger.InfoContext(ctx, "call succeeded after retry", "attempt", attempt+1)
			}
			return text, nil
		}

		if !provider.Retryable(err) {
			logger.WarnContext(ctx, "fatal provider error, not retrying", "error", redact.Error(err))
			return "", err
		}

		lastErr = err
		if attempt == d.config.MaxRetries {
			break
		}

		// Jitter in [0, 0.1*backoff) keeps concurrent workers from
		// retrying in lockstep.
		delay := backoff + time.Duration(rand.Int63n(int64(backoff)/10+1))
		logger.InfoContext(ctx, "retrying after backoff",
			"attempt", attempt+1,
			"max_retries", d.config.MaxRetries,
			"delay", delay,
			"error", redact.Error(err))

		if err := d.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("dispatch cancelled during backoff: %w", err)
		}

		backoff *= 2
		if backoff > d.config.MaxBackoff {
			backoff = d.config.MaxBackoff
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, d.config.MaxRetries+1, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
