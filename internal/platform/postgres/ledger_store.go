package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworks/loomgen/internal/ledger"
)

// CompletionStore implements ledger.Ledger on a completions table. One row
// per item; a completion under a new logic version overwrites the row, so
// old-version records are superseded rather than accumulated.
type CompletionStore struct {
	db     DBTX
	logger *slog.Logger
}

// NewCompletionStore creates a CompletionStore backed by db.
func NewCompletionStore(db DBTX, logger *slog.Logger) *CompletionStore {
	return &CompletionStore{
		db:     db,
		logger: logger.With("component", "postgres_ledger"),
	}
}

// IsCompleted reports whether itemID completed under exactly this version.
func (s *CompletionStore) IsCompleted(ctx context.Context, itemID string, version ledger.Version) (bool, error) {
	query := `
		SELECT logic_version
		FROM completions
		WHERE item_id = $1
	`

	var stored string
	err := s.db.QueryRowContext(ctx, query, itemID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		// Fail open: an unreadable ledger row means reprocess, mirroring
		// the file-backed ledger.
		s.logger.WarnContext(ctx, "completion lookup failed, item will be reprocessed",
			"item_id", itemID,
			"error", err)
		return false, nil
	}

	return ledger.Version(stored) == version, nil
}

// MarkCompleted upserts the item's completion row. Idempotent for repeated
// identical calls; last write wins when the version changed.
func (s *CompletionStore) MarkCompleted(ctx context.Context, itemID string, version ledger.Version, artifacts []string) error {
	if artifacts == nil {
		artifacts = []string{}
	}
	encoded, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("failed to encode artifacts: %w", err)
	}

	query := `
		INSERT INTO completions (item_id, logic_version, completed_at, artifacts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id) DO UPDATE
		SET logic_version = EXCLUDED.logic_version,
		    completed_at = EXCLUDED.completed_at,
		    artifacts = EXCLUDED.artifacts
	`

	if _, err := s.db.ExecContext(ctx, query, itemID, string(version), time.Now().UTC(), encoded); err != nil {
		return fmt.Errorf("failed to record completion for %s: %w", itemID, err)
	}
	return nil
}

// Interface check.
var _ ledger.Ledger = (*CompletionStore)(nil)
