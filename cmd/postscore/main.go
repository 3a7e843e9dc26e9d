// Post scoring orchestrator. Runs one batch over all active clients (CLI
// mode) or serves the HTTP trigger API (serve mode).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lumolead/postscore/pkg/api"
	"github.com/lumolead/postscore/pkg/batch"
	"github.com/lumolead/postscore/pkg/config"
	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/model"
	"github.com/lumolead/postscore/pkg/notify"
	"github.com/lumolead/postscore/pkg/tenant"
	"github.com/lumolead/postscore/pkg/tracking"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "config.yaml"),
		"Path to the YAML configuration file")
	clientFilter := flag.String("client", "", "Run a single client by ID")
	limit := flag.Int("limit", 0, "Cap the number of leads per client (0 = no cap)")
	forceRescore := flag.Bool("force-rescore", false, "Select leads even when already scored")
	targetIDs := flag.String("target-ids", "", "Comma-separated lead record IDs to score")
	dryRun := flag.Bool("dry-run", false, "Score without writing back or tracking")
	runID := flag.String("run-id", "", "Reuse an existing base run ID instead of minting one")
	serve := flag.Bool("serve", false, "Start the HTTP API instead of running one batch")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Batch.Verbose)
	cfg.LogStats()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modelClient, err := buildModelClient(cfg.Model)
	if err != nil {
		slog.Error("Failed to build model client", "error", err)
		os.Exit(1)
	}

	registry, opener, err := buildTenantAdapters(cfg.Datastore)
	if err != nil {
		slog.Error("Failed to build datastore adapters", "error", err)
		os.Exit(1)
	}

	var store *tracking.Store
	if cfg.Database.Enabled {
		store, err = tracking.NewStore(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to tracking database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Error("Error closing tracking database", "error", err)
			}
		}()
		slog.Info("Connected to tracking database")
	} else {
		slog.Warn("Tracking database disabled, run metrics will not be persisted")
	}

	notifier := notify.NewService(cfg.Notifications)

	orch := batch.NewOrchestrator(opener, registry, trackerOrNil(store), modelClient, notifier)
	if store != nil {
		orch.SetArchiver(store)
	}

	opts := batch.Options{
		ClientFilter:   *clientFilter,
		Limit:          *limit,
		ForceRescore:   *forceRescore,
		TargetIDs:      splitIDs(*targetIDs),
		ChunkSize:      cfg.Batch.ChunkSize,
		DryRun:         *dryRun,
		VerboseErrors:  cfg.Batch.VerboseErrors,
		MaxDiagnostics: cfg.Batch.MaxVerboseErrors,
	}

	if *serve {
		server := api.NewServer(orch, runStoreOrNil(store), slog.Default())
		server.SetBaseOptions(batch.Options{
			ChunkSize:      cfg.Batch.ChunkSize,
			VerboseErrors:  cfg.Batch.VerboseErrors,
			MaxDiagnostics: cfg.Batch.MaxVerboseErrors,
		})
		if err := server.Start(ctx, cfg.Server.HTTPPort); err != nil {
			slog.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Shutdown complete")
		return
	}

	result, err := orch.Run(ctx, *runID, opts)
	if err != nil {
		os.Exit(1)
	}
	notifier.NotifyRunCompleted(context.WithoutCancel(ctx), result)
	if result.Status == batch.StatusFailed {
		os.Exit(1)
	}
}

// setupLogging installs the default slog handler. The summary level renders
// by its own name instead of as an offset from INFO.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == logging.LevelSummary {
					a.Value = slog.StringValue("SUMMARY")
				}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(handler))
}

func buildModelClient(cfg *config.ModelConfig) (*model.Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)

	var backend model.API
	switch cfg.Backend {
	case config.BackendAnthropic:
		backend = model.NewAnthropicAdapter(cfg.ID, apiKey)
	default:
		var opts []model.GeminiOption
		switch {
		case cfg.Endpoint != "":
			opts = append(opts, model.WithGeminiEndpoint(cfg.Endpoint))
		case cfg.Project != "" && cfg.Location != "":
			// Vertex addressing when a project and location are configured
			// and no explicit endpoint overrides them.
			opts = append(opts, model.WithGeminiEndpoint(model.VertexEndpoint(cfg.Project, cfg.Location)))
		}
		backend = model.NewGeminiAdapter(cfg.ID, apiKey, opts...)
	}
	return model.NewClient(backend, cfg.Timeout()), nil
}

func buildTenantAdapters(cfg *config.DatastoreConfig) (tenant.Registry, tenant.Opener, error) {
	gwCfg := tenant.GatewayConfig{
		BaseURL:        cfg.GatewayURL,
		Token:          os.Getenv(cfg.TokenEnv),
		RegistryHandle: cfg.RegistryHandle,
	}
	registry, err := tenant.NewHTTPRegistry(gwCfg)
	if err != nil {
		return nil, nil, err
	}
	return registry, tenant.NewHTTPOpener(gwCfg, registry), nil
}

// trackerOrNil avoids handing the orchestrator a typed-nil interface.
func trackerOrNil(store *tracking.Store) batch.Tracker {
	if store == nil {
		return nil
	}
	return store
}

func runStoreOrNil(store *tracking.Store) api.RunStore {
	if store == nil {
		return nil
	}
	return store
}

func splitIDs(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
