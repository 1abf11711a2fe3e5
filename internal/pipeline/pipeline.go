// Package pipeline implements the generation stages that turn a disciplines
// file into per-discipline subject lists and per-subject syllabi. Each stage
// is a batch run over the scheduler: items are content-addressed, completed
// items are skipped on rerun, and every model call goes through the
// dispatcher so it is cached and retried uniformly.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"unicode"

	"github.com/loomworks/loomgen/internal/batch"
	"github.com/loomworks/loomgen/internal/ledger"
	"github.com/loomworks/loomgen/internal/request"
	"github.com/loomworks/loomgen/internal/scheduler"
)

// Dispatcher is the slice of the dispatch layer the pipeline needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, req request.Request) (string, error)
}

// Routing decides which provider and model serve each kind of call. The
// generation pair produces long-form content; the format pair restructures
// it, which a cheaper model handles fine.
type Routing struct {
	GenerationProvider string
	GenerationModel    string
	FormatProvider     string
	FormatModel        string
}

// Config tunes a Pipeline.
type Config struct {
	// DisciplinesFile is the JSONL input consumed by the subjects stage.
	DisciplinesFile string

	// OutputDir is the root under which stage outputs are written, in
	// subjects/ and syllabi/ subdirectories.
	OutputDir string

	Routing        Routing
	Concurrency    int
	ForceRecompute bool
}

// Pipeline runs generation stages over a shared ledger and dispatcher.
type Pipeline struct {
	dispatcher Dispatcher
	ledger     ledger.Ledger
	config     Config
	logger     *slog.Logger

	// current is the scheduler of the stage in flight, for progress
	// reporting while a run is live.
	current atomic.Pointer[scheduler.Scheduler]
}

// New creates a Pipeline.
func New(d Dispatcher, l ledger.Ledger, config Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		dispatcher: d,
		ledger:     l,
		config:     config,
		logger:     logger.With("component", "pipeline"),
	}
}

// Progress reports the in-flight stage's counters, or a zero snapshot when
// no stage has started.
func (p *Pipeline) Progress() scheduler.Snapshot {
	if sched := p.current.Load(); sched != nil {
		return sched.Progress()
	}
	return scheduler.Snapshot{}
}

// RunAll executes the stages in dependency order: subjects, then syllabi.
// A stage error stops the sequence; reports for completed stages are still
// returned.
func (p *Pipeline) RunAll(ctx context.Context) ([]*scheduler.Report, error) {
	var reports []*scheduler.Report

	report, err := p.RunSubjects(ctx)
	if report != nil {
		reports = append(reports, report)
	}
	if err != nil {
		return reports, fmt.Errorf("subjects stage: %w", err)
	}

	report, err = p.RunSyllabi(ctx)
	if report != nil {
		reports = append(reports, report)
	}
	if err != nil {
		return reports, fmt.Errorf("syllabi stage: %w", err)
	}

	return reports, nil
}

func (p *Pipeline) subjectsDir() string {
	return filepath.Join(p.config.OutputDir, "subjects")
}

func (p *Pipeline) syllabiDir() string {
	return filepath.Join(p.config.OutputDir, "syllabi")
}

func (p *Pipeline) runStage(ctx context.Context, version ledger.Version, items []batch.Item, logic scheduler.TaskFunc) (*scheduler.Report, error) {
	sched := scheduler.New(p.ledger, scheduler.Config{
		Concurrency:    p.config.Concurrency,
		Version:        version,
		ForceRecompute: p.config.ForceRecompute,
	}, p.logger)

	p.current.Store(sched)
	return sched.Run(ctx, items, logic)
}

// safeName maps a human name to a filesystem-safe one: every rune that is
// not a letter or digit becomes an underscore.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, name)
}

// writeFileAtomic writes data to path via a temp file and rename, so a
// crash mid-write never leaves a partial artifact behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
