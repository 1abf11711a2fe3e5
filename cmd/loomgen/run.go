package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loomworks/loomgen/internal/api"
	"github.com/loomworks/loomgen/internal/cache"
	"github.com/loomworks/loomgen/internal/config"
	"github.com/loomworks/loomgen/internal/dispatch"
	"github.com/loomworks/loomgen/internal/ledger"
	"github.com/loomworks/loomgen/internal/pipeline"
	"github.com/loomworks/loomgen/internal/platform/logger"
	"github.com/loomworks/loomgen/internal/platform/postgres"
	"github.com/loomworks/loomgen/internal/provider"
	"github.com/loomworks/loomgen/internal/provider/anthropic"
	"github.com/loomworks/loomgen/internal/provider/gemini"
	"github.com/loomworks/loomgen/internal/provider/openai"
	"github.com/loomworks/loomgen/internal/scheduler"
)

var (
	runInput       string
	runForce       bool
	runConcurrency int
	runNoCache     bool
)

func init() {
	cmd := &cobra.Command{
		Use:   "run [subjects|syllabi|all]",
		Short: "Execute pipeline stages",
		Long: `Execute one pipeline stage, or all of them in dependency order.
Items already recorded as completed under the current pipeline version are
skipped, so rerunning after an interruption only does the remaining work.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"subjects", "syllabi", "all"},
		RunE:      runStages,
	}

	cmd.Flags().StringVar(&runInput, "input", "disciplines.jsonl", "disciplines JSONL file consumed by the subjects stage")
	cmd.Flags().BoolVar(&runForce, "force", false, "reprocess items already recorded as completed")
	cmd.Flags().IntVar(&runConcurrency, "concurrency", 0, "worker count, 0 uses the configured value")
	cmd.Flags().BoolVar(&runNoCache, "no-cache", false, "bypass the response cache for this run")

	rootCmd.AddCommand(cmd)
}

func runStages(cmd *cobra.Command, args []string) error {
	stage := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.NewFileStore(cfg.Paths.CacheDir, log)
	if err != nil {
		return fmt.Errorf("failed to open response cache: %w", err)
	}

	led, closeLedger, err := openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLedger()

	registry, err := buildRegistry(ctx, cfg.Providers, log)
	if err != nil {
		return err
	}
	log.Info("providers registered", "providers", registry.Providers())

	dispatcher := dispatch.New(registry, store, dispatch.Config{
		MaxRetries:     cfg.Dispatch.MaxRetries,
		InitialBackoff: time.Duration(cfg.Dispatch.InitialBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(cfg.Dispatch.MaxBackoffSeconds) * time.Second,
		UseCache:       cfg.Dispatch.UseCache && !runNoCache,
	}, log)

	concurrency := cfg.Scheduler.Concurrency
	if runConcurrency > 0 {
		concurrency = runConcurrency
	}

	p := pipeline.New(dispatcher, led, pipeline.Config{
		DisciplinesFile: runInput,
		OutputDir:       cfg.Paths.OutputDir,
		Routing: pipeline.Routing{
			GenerationProvider: cfg.Providers.GenerationProvider,
			GenerationModel:    cfg.Providers.GenerationModel,
			FormatProvider:     cfg.Providers.FormatProvider,
			FormatModel:        cfg.Providers.FormatModel,
		},
		Concurrency:    concurrency,
		ForceRecompute: runForce,
	}, log)

	if cfg.Server.Port > 0 {
		shutdownServer := startStatusServer(cfg.Server.Port, p, log)
		defer shutdownServer()
	}

	reports, err := executeStage(ctx, p, stage)
	summarize(log, reports)
	if err != nil {
		return err
	}

	var failed int
	for _, report := range reports {
		failed += report.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d item(s) failed; rerun to retry them", failed)
	}
	return nil
}

func executeStage(ctx context.Context, p *pipeline.Pipeline, stage string) ([]*scheduler.Report, error) {
	switch stage {
	case "subjects":
		report, err := p.RunSubjects(ctx)
		return collectReport(report), err
	case "syllabi":
		report, err := p.RunSyllabi(ctx)
		return collectReport(report), err
	case "all":
		return p.RunAll(ctx)
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

func collectReport(report *scheduler.Report) []*scheduler.Report {
	if report == nil {
		return nil
	}
	return []*scheduler.Report{report}
}

// openLedger selects the completion ledger: Postgres when a database URL is
// configured, local files otherwise.
func openLedger(ctx context.Context, cfg *config.Config, log *slog.Logger) (ledger.Ledger, func(), error) {
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database ledger: %w", err)
		}
		log.Info("using database ledger")
		return postgres.NewCompletionStore(db, log), func() {
			if err := db.Close(); err != nil {
				log.Warn("failed to close database", "error", err)
			}
		}, nil
	}

	led, err := ledger.NewFileLedger(cfg.Paths.LedgerDir, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return led, func() {}, nil
}

// buildRegistry registers a client for every provider with credentials
// configured. At least one is required.
func buildRegistry(ctx context.Context, pc config.ProvidersConfig, log *slog.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	if pc.OpenAI.APIKey != "" {
		client, err := openai.New(openai.Config{APIKey: pc.OpenAI.APIKey, BaseURL: pc.OpenAI.BaseURL}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure openai provider: %w", err)
		}
		registry.Register("openai", client)
	}

	if pc.Anthropic.APIKey != "" {
		client, err := anthropic.New(anthropic.Config{APIKey: pc.Anthropic.APIKey, BaseURL: pc.Anthropic.BaseURL}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure anthropic provider: %w", err)
		}
		registry.Register("anthropic", client)
	}

	if pc.Gemini.APIKey != "" {
		client, err := gemini.New(ctx, gemini.Config{APIKey: pc.Gemini.APIKey}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to configure gemini provider: %w", err)
		}
		registry.Register("gemini", client)
	}

	if len(registry.Providers()) == 0 {
		return nil, errors.New("no providers configured; set at least one provider API key")
	}
	return registry, nil
}

// startStatusServer serves the progress API in the background and returns
// a shutdown function.
func startStatusServer(port int, p *pipeline.Pipeline, log *slog.Logger) func() {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.NewRouter(p.Progress),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("status server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server failed", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("status server shutdown failed", "error", err)
		}
	}
}

func summarize(log *slog.Logger, reports []*scheduler.Report) {
	for _, report := range reports {
		log.Info("stage finished",
			"run_id", report.RunID,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
			"skipped", report.Skipped)
	}
}
