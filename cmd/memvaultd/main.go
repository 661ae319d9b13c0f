package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"memvault/internal/adapter/embedding"
	"memvault/internal/adapter/sanitize"
	"memvault/internal/adapter/store"
	"memvault/internal/domain"
	"memvault/internal/infra/config"
	"memvault/internal/infra/logger"
	"memvault/internal/infra/tracer"
	"memvault/internal/usecase"
	"memvault/internal/usecase/scheduling"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fatal [%s]: %v\n", domain.ErrorCodeOf(err), err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`memvaultd - persistent semantic memory vault

USAGE:
    memvaultd [COMMAND] [FLAGS]

COMMANDS:
    save TEXT          Store a memory
    capture TEXT       Store a memory only if the capture heuristics accept it
    recall QUERY       Search memories by semantic similarity
    forget ID|QUERY    Delete a memory by id, or the nearest match
    consolidate        Run one consolidation pass and exit
    stats              Print vault statistics
    export PATH        Write all records to a JSON file
    import PATH        Load records from a JSON file

    (no command)       Run as a daemon with scheduled consolidation

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: MEMVAULT_* variables override config`)
}

func run(args []string) error {
	fs := flag.NewFlagSet("memvaultd", flag.ExitOnError)
	configPath := fs.String("config", "./config.yaml", "config file path")

	command := ""
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	cmdArgs := fs.Args()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLog()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	embedder, err := buildEmbedder(cfg.Embedding, log)
	if err != nil {
		return err
	}

	vault := usecase.NewVault(st, embedder, sanitize.NewRuleSanitizer(log), log)
	consolidator := usecase.NewConsolidator(st, embedder, log)

	switch command {
	case "":
		return runDaemon(ctx, cfg, log, vault, consolidator)
	case "save":
		return runSave(ctx, vault, cmdArgs)
	case "capture":
		return runCapture(ctx, vault, cmdArgs)
	case "recall":
		return runRecall(ctx, vault, cmdArgs)
	case "forget":
		return runForget(ctx, vault, cmdArgs)
	case "consolidate":
		return runConsolidate(ctx, consolidator)
	case "stats":
		return runStats(ctx, vault)
	case "export":
		return runExport(ctx, vault, cmdArgs)
	case "import":
		return runImport(ctx, vault, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q, run 'memvaultd --help' for usage", command)
	}
}

// buildEmbedder assembles the embedding provider chain from config:
// base provider, then rate limiter, circuit breaker, and LRU cache.
func buildEmbedder(cfg config.EmbeddingConfig, log *slog.Logger) (domain.EmbeddingProvider, error) {
	var base domain.EmbeddingProvider

	switch cfg.Provider {
	case "ollama", "":
		var opts []embedding.OllamaOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithOllamaModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithOllamaDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.BaseURL))
		}
		base = embedding.NewOllamaProvider(opts...)
	case "openai":
		var opts []embedding.OpenAIOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithOpenAIModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithOpenAIDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.BaseURL))
		}
		base = embedding.NewOpenAIProvider(cfg.APIKey, opts...)
	case "gemini":
		var opts []embedding.GeminiOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithGeminiModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithGeminiDimensions(cfg.Dimensions))
		}
		base = embedding.NewGeminiProvider(cfg.APIKey, opts...)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	chain := base
	if cfg.RateLimit.Enabled {
		chain = embedding.NewRateLimitedEmbedder(chain, cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}
	if cfg.CircuitBreaker.Enabled {
		chain = embedding.NewBreakerEmbedder(chain, embedding.CircuitBreakerConfig{
			MaxFailures: cfg.CircuitBreaker.MaxFailures,
			Timeout:     cfg.CircuitBreaker.Timeout,
			Interval:    cfg.CircuitBreaker.Interval,
		}, log)
	}
	chain = embedding.NewCachedEmbedder(chain, cfg.CacheSize)

	log.Info("embedding provider ready", "provider", base.Name(), "cache_size", cfg.CacheSize)
	return chain, nil
}

func runDaemon(ctx context.Context, cfg *config.Config, log *slog.Logger, vault *usecase.Vault, consolidator *usecase.Consolidator) error {
	sched := scheduling.NewScheduler(log)
	sched.RegisterAction(scheduling.ActionConsolidate, func(ctx context.Context) error {
		_, err := consolidator.Run(ctx)
		return err
	})
	sched.RegisterAction(scheduling.ActionStatsReport, func(ctx context.Context) error {
		stats, err := vault.Stats(ctx)
		if err != nil {
			return err
		}
		log.Info("vault stats", "active", stats.Active, "consolidated", stats.Consolidated)
		return nil
	})
	sched.RegisterAction(scheduling.ActionExport, func(ctx context.Context) error {
		n, err := writeExportFile(ctx, vault, cfg.Maintenance.ExportPath)
		if err != nil {
			return err
		}
		log.Info("export snapshot written", "path", cfg.Maintenance.ExportPath, "records", n)
		return nil
	})

	if cfg.Consolidation.Enabled {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "consolidation",
			Schedule: cfg.Consolidation.Schedule,
			Action:   scheduling.ActionConsolidate,
			Timeout:  cfg.Consolidation.Timeout,
		}); err != nil {
			return err
		}
	}
	if cfg.Maintenance.StatsSchedule != "" {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "stats-report",
			Schedule: cfg.Maintenance.StatsSchedule,
			Action:   scheduling.ActionStatsReport,
		}); err != nil {
			return err
		}
	}
	if cfg.Maintenance.ExportSchedule != "" {
		if err := sched.AddTask(scheduling.ScheduledTask{
			Name:     "export-snapshot",
			Schedule: cfg.Maintenance.ExportSchedule,
			Action:   scheduling.ActionExport,
		}); err != nil {
			return err
		}
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	log.Info("memvaultd running", "store", cfg.Store.Path, "consolidation", cfg.Consolidation.Enabled)

	<-ctx.Done()
	log.Info("shutting down")
	return sched.Stop()
}

func runSave(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd save TEXT")
	}
	res, err := vault.Save(ctx, args[0], usecase.SaveOptions{})
	if err != nil {
		return err
	}
	switch res.Status {
	case usecase.SaveStatusStored:
		fmt.Printf("stored %s\n", res.Record.ID)
	case usecase.SaveStatusDuplicate:
		fmt.Printf("duplicate: %s\n", res.Reason)
	case usecase.SaveStatusRejected:
		fmt.Printf("rejected: %s\n", res.Reason)
	}
	return nil
}

func runCapture(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd capture TEXT")
	}
	res, err := vault.AutoSave(ctx, args[0], usecase.SaveOptions{})
	if err != nil {
		return err
	}
	switch res.Status {
	case usecase.SaveStatusStored:
		fmt.Printf("captured %s [%s]\n", res.Record.ID, res.Record.Category)
	case usecase.SaveStatusDuplicate:
		fmt.Printf("duplicate: %s\n", res.Reason)
	case usecase.SaveStatusRejected:
		fmt.Printf("skipped: %s\n", res.Reason)
	}
	return nil
}

func runRecall(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd recall QUERY")
	}
	results, err := vault.Recall(ctx, args[0], 5, nil)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%.3f  [%s]  %s\n", r.Score, r.Record.Category, r.Record.Text)
	}
	return nil
}

func runForget(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd forget ID|QUERY")
	}
	removed, err := vault.Forget(ctx, args[0])
	if err != nil {
		return err
	}
	if removed {
		fmt.Println("forgotten")
	} else {
		fmt.Println("nothing to forget")
	}
	return nil
}

func runConsolidate(ctx context.Context, consolidator *usecase.Consolidator) error {
	report, err := consolidator.Run(ctx)
	if err != nil {
		return err
	}
	if report == nil {
		fmt.Println("consolidation already in progress")
		return nil
	}
	fmt.Printf("examined %d, merged %d records into %d clusters (%s)\n",
		report.Examined, report.Merged, report.Clusters, report.Duration)
	return nil
}

func runStats(ctx context.Context, vault *usecase.Vault) error {
	stats, err := vault.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("active: %d\nconsolidated: %d\n", stats.Active, stats.Consolidated)
	for cat, n := range stats.ByCategory {
		fmt.Printf("  %s: %d\n", cat, n)
	}
	return nil
}

func runExport(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd export PATH")
	}
	n, err := writeExportFile(ctx, vault, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("exported %d records to %s\n", n, args[0])
	return nil
}

// writeExportFile dumps every record to a JSON file, returning the count.
func writeExportFile(ctx context.Context, vault *usecase.Vault, path string) (int, error) {
	records, err := vault.Export(ctx)
	if err != nil {
		return 0, err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("marshal records: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return 0, fmt.Errorf("write export: %w", err)
	}
	return len(records), nil
}

func runImport(ctx context.Context, vault *usecase.Vault, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: memvaultd import PATH")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read import: %w", err)
	}
	var records []domain.MemoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("parse import: %w", err)
	}
	stored, err := vault.Import(ctx, records)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d of %d records\n", stored, len(records))
	return nil
}
