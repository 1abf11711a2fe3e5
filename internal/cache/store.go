// Package cache implements the durable, content-addressed store of provider
// responses. Entries are keyed by request fingerprint and never mutated
// after the first write, so a restarted run re-reads results instead of
// re-paying for them.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loomworks/loomgen/internal/request"
)

// Entry is the persisted record for one fingerprint. Prompt echoes the
// request so a cache directory is inspectable on its own.
type Entry struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	StoredAt time.Time `json:"stored_at"`
}

// Store is the result cache contract. Get reports (entry, true) on a hit
// and (nil, false) on a miss. Implementations must treat their own read
// failures as misses; the returned error is informational only.
type Store interface {
	Get(ctx context.Context, fp request.Fingerprint) (*Entry, bool, error)
	Put(ctx context.Context, fp request.Fingerprint, entry *Entry) error
}

// FileStore persists one JSON file per fingerprint under a root directory.
// Writes go through a temp file and rename, so concurrent workers writing
// the same key can never expose a torn entry.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates the root directory if needed and returns a store
// rooted there.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if root == "" {
		return nil, fmt.Errorf("cache root directory cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", root, err)
	}

	return &FileStore{
		root:   root,
		logger: logger.With("component", "cache"),
	}, nil
}

func (s *FileStore) path(fp request.Fingerprint) string {
	return filepath.Join(s.root, string(fp)+".json")
}

// Get looks up a fingerprint. Any I/O or decode failure degrades to a miss
// so the caller recomputes rather than aborting (fail open).
func (s *FileStore) Get(ctx context.Context, fp request.Fingerprint) (*Entry, bool, error) {
	data, err := os.ReadFile(s.path(fp))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		s.logger.WarnContext(ctx, "cache read failed, treating as miss",
			"fingerprint", string(fp),
			"error", err)
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.WarnContext(ctx, "corrupt cache entry, treating as miss",
			"fingerprint", string(fp),
			"error", err)
		return nil, false, fmt.Errorf("corrupt cache entry: %w", err)
	}

	return &entry, true, nil
}

// Put durably stores an entry under its fingerprint. Writing the same
// content twice is a no-op in effect; differing content for an existing
// key is overwritten (last write wins).
func (s *FileStore) Put(ctx context.Context, fp request.Fingerprint, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.root, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(fp)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	s.logger.DebugContext(ctx, "cached response", "fingerprint", string(fp))
	return nil
}
