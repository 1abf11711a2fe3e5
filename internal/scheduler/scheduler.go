// Package scheduler runs a batch of independent work items through a
// bounded worker pool, skipping items the ledger already records as
// completed under the current producing-logic version.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/loomworks/loomgen/internal/batch"
	"github.com/loomworks/loomgen/internal/ledger"
)

// Status is the terminal state of one work item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// TaskFunc is the caller-supplied logic executed once per non-skipped
// item. It returns the artifact references the item produced, or an error
// that marks the item failed without affecting the rest of the batch.
type TaskFunc func(ctx context.Context, item batch.Item) ([]string, error)

// ItemResult records the outcome of one item.
type ItemResult struct {
	ItemID    string
	Status    Status
	Artifacts []string
	Err       error
}

// Report aggregates a finished run.
type Report struct {
	RunID     uuid.UUID
	Succeeded int
	Failed    int
	Skipped   int
	Items     []ItemResult
}

// Snapshot is a point-in-time view of a run's progress, safe to read while
// workers are still going.
type Snapshot struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Done      bool   `json:"done"`
}

// Config tunes a Scheduler.
type Config struct {
	// Concurrency bounds the worker pool. Small by default so provider
	// rate limits are respected.
	Concurrency int

	// Version identifies the producing logic; completions recorded under
	// any other version are recomputed.
	Version ledger.Version

	// ForceRecompute bypasses the completed check entirely, reprocessing
	// every item. New completions still overwrite old records.
	ForceRecompute bool
}

// DefaultConcurrency matches the engine's historical worker count.
const DefaultConcurrency = 5

// Scheduler coordinates one batch run at a time over a shared ledger.
type Scheduler struct {
	ledger ledger.Ledger
	config Config
	logger *slog.Logger

	runID     string
	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	done      atomic.Bool
	mu        sync.Mutex
}

// New creates a Scheduler. Zero or negative concurrency falls back to the
// default.
func New(l ledger.Ledger, config Config, logger *slog.Logger) *Scheduler {
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConcurrency
	}

	return &Scheduler{
		ledger: l,
		config: config,
		logger: logger.With("component", "scheduler"),
	}
}

// Progress returns the current run's live counters. Before any run it
// reports an empty snapshot.
func (s *Scheduler) Progress() Snapshot {
	return Snapshot{
		RunID:     s.runID,
		Total:     int(s.total.Load()),
		Succeeded: int(s.succeeded.Load()),
		Failed:    int(s.failed.Load()),
		Skipped:   int(s.skipped.Load()),
		Done:      s.done.Load(),
	}
}

// Run processes items with logic under a bounded worker pool and returns
// once every item reached a terminal state. One item's failure never
// aborts the batch. Cancelling ctx stops feeding the pool; in-flight items
// finish or observe the cancellation themselves, and items never submitted
// are simply absent from the report's terminal counts.
func (s *Scheduler) Run(ctx context.Context, items []batch.Item, logic TaskFunc) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.New()
	s.runID = runID.String()
	s.total.Store(int64(len(items)))
	s.succeeded.Store(0)
	s.failed.Store(0)
	s.skipped.Store(0)
	s.done.Store(false)
	defer s.done.Store(true)

	logger := s.logger.With("run_id", s.runID)
	logger.Info("starting batch run",
		"items", len(items),
		"concurrency", s.config.Concurrency,
		"force_recompute", s.config.ForceRecompute)

	report := &Report{RunID: runID, Items: make([]ItemResult, 0, len(items))}

	// The skip check is cheap and local, so it runs inline before
	// anything reaches the pool.
	pending := make([]batch.Item, 0, len(items))
	for _, item := range items {
		if !s.config.ForceRecompute {
			completed, err := s.ledger.IsCompleted(ctx, item.ID, s.config.Version)
			if err != nil {
				logger.Warn("ledger check failed, item will be reprocessed",
					"item_id", item.ID,
					"error", err)
			}
			if completed {
				s.skipped.Add(1)
				report.Items = append(report.Items, ItemResult{ItemID: item.ID, Status: StatusSkipped})
				logger.Debug("skipping completed item", "item_id", item.ID)
				continue
			}
		}
		pending = append(pending, item)
	}

	results := make(chan ItemResult)
	work := make(chan batch.Item)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for item := range work {
				results <- s.processItem(ctx, logger, logic, item, workerID)
			}
		}(i)
	}

	go func() {
		defer close(work)
		for _, item := range pending {
			select {
			case work <- item:
			case <-ctx.Done():
				// Stop submitting; items already handed to workers
				// run to completion.
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for result := range results {
		switch result.Status {
		case StatusSucceeded:
			s.succeeded.Add(1)
		case StatusFailed:
			s.failed.Add(1)
		}
		report.Items = append(report.Items, result)
	}

	report.Succeeded = int(s.succeeded.Load())
	report.Failed = int(s.failed.Load())
	report.Skipped = int(s.skipped.Load())

	logger.Info("batch run finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("run interrupted: %w", err)
	}
	return report, nil
}

func (s *Scheduler) processItem(ctx context.Context, logger *slog.Logger, logic TaskFunc, item batch.Item, workerID int) (result ItemResult) {
	result = ItemResult{ItemID: item.ID}
	itemLogger := logger.With("item_id", item.ID, "worker_id", workerID)

	defer func() {
		if r := recover(); r != nil {
			itemLogger.Error("task logic panicked", "panic", r)
			result.Status = StatusFailed
			result.Err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	itemLogger.Debug("processing item")

	artifacts, err := logic(ctx, item)
	if err != nil {
		itemLogger.Error("task failed", "error", err)
		result.Status = StatusFailed
		result.Err = err
		return result
	}

	// Completion is recorded strictly after success. A failed write is
	// logged and the item still counts as succeeded; a later run just
	// redoes it.
	if err := s.ledger.MarkCompleted(ctx, item.ID, s.config.Version, artifacts); err != nil {
		itemLogger.Error("failed to record completion", "error", err)
	}

	itemLogger.Debug("item succeeded", "artifacts", len(artifacts))
	result.Status = StatusSucceeded
	result.Artifacts = artifacts
	return result
}
