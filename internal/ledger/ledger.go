// Package ledger tracks which work items have already been completed, and
// under which version of the producing logic, so interrupted batch runs
// resume without redoing finished work.
//
// The ledger is item-grained where the result cache is request-grained:
// one item may issue several provider calls and write several artifacts
// before its single completion record lands.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Record is the persisted completion entry for one item.
type Record struct {
	ItemID       string    `json:"item_id"`
	LogicVersion Version   `json:"logic_version"`
	CompletedAt  time.Time `json:"completed_at"`
	Artifacts    []string  `json:"artifacts,omitempty"`
}

// Ledger is the resumability contract. Both operations must be safe under
// concurrent use from multiple workers; writes for distinct items are
// independent.
type Ledger interface {
	// IsCompleted reports whether itemID already finished under exactly
	// this version. A record under any other version counts as not
	// completed.
	IsCompleted(ctx context.Context, itemID string, version Version) (bool, error)

	// MarkCompleted durably records a completion, replacing any record
	// a previous version left for the same item. Idempotent.
	MarkCompleted(ctx context.Context, itemID string, version Version, artifacts []string) error
}

// FileLedger stores one JSON record per item under a root directory,
// sharded by the first two characters of the item id to bound per-directory
// fan-out at scale.
type FileLedger struct {
	root   string
	logger *slog.Logger
}

// NewFileLedger creates the root directory if needed and returns a ledger
// rooted there.
func NewFileLedger(root string, logger *slog.Logger) (*FileLedger, error) {
	if root == "" {
		return nil, fmt.Errorf("ledger root directory cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory %s: %w", root, err)
	}

	return &FileLedger{
		root:   root,
		logger: logger.With("component", "ledger"),
	}, nil
}

func (l *FileLedger) path(itemID string) string {
	shard := itemID
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(l.root, shard, itemID+".json")
}

// IsCompleted looks up the item's record. A missing, unreadable or corrupt
// record counts as not completed, forcing reprocessing rather than
// silently trusting bad state.
func (l *FileLedger) IsCompleted(ctx context.Context, itemID string, version Version) (bool, error) {
	data, err := os.ReadFile(l.path(itemID))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		l.logger.WarnContext(ctx, "ledger read failed, item will be reprocessed",
			"item_id", itemID,
			"error", err)
		return false, nil
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		l.logger.WarnContext(ctx, "corrupt ledger record, item will be reprocessed",
			"item_id", itemID,
			"error", err)
		return false, nil
	}

	return record.LogicVersion == version, nil
}

// MarkCompleted writes the item's record via temp file + rename so a
// concurrent reader never observes a torn record.
func (l *FileLedger) MarkCompleted(ctx context.Context, itemID string, version Version, artifacts []string) error {
	record := Record{
		ItemID:       itemID,
		LogicVersion: version,
		CompletedAt:  time.Now().UTC(),
		Artifacts:    artifacts,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger record: %w", err)
	}

	target := l.path(itemID)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger shard %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "mark-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write ledger record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store ledger record: %w", err)
	}

	l.logger.DebugContext(ctx, "marked item completed",
		"item_id", itemID,
		"artifacts", len(artifacts))
	return nil
}
