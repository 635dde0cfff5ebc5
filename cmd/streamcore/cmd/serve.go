package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/streamcore/streamcore/internal/config"
	"github.com/streamcore/streamcore/internal/detection"
	"github.com/streamcore/streamcore/internal/downloads"
	"github.com/streamcore/streamcore/internal/enrichment"
	"github.com/streamcore/streamcore/internal/fanout"
	"github.com/streamcore/streamcore/internal/helperclient"
	"github.com/streamcore/streamcore/internal/httpapi"
	"github.com/streamcore/streamcore/internal/httpapi/handlers"
	"github.com/streamcore/streamcore/internal/ingest"
	"github.com/streamcore/streamcore/internal/observability"
	"github.com/streamcore/streamcore/internal/ratelimit"
	"github.com/streamcore/streamcore/internal/registry"
	"github.com/streamcore/streamcore/internal/repository"
	"github.com/streamcore/streamcore/internal/scheduler"
	"github.com/streamcore/streamcore/internal/settings"
	"github.com/streamcore/streamcore/internal/storage"
	"github.com/streamcore/streamcore/internal/tablifecycle"
	"github.com/streamcore/streamcore/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streamcore daemon",
	Long: `Run the streamcore daemon: HTTP API, Helper Client, Enrichment
Pipeline, Download Orchestrator, and history scheduler, all wired against
a single database connection.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "host to bind the HTTP server to")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().String("database-driver", "sqlite", "database driver (sqlite, postgres, mysql)")
	serveCmd.Flags().String("database-dsn", "streamcore.db", "database DSN")
	serveCmd.Flags().String("helper-command", "", "path to the External Helper subprocess executable")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("database.driver", serveCmd.Flags().Lookup("database-driver"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database-dsn"))
	mustBindPFlag("helper.command", serveCmd.Flags().Lookup("helper-command"))
}

func runServe(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	logger.Info("starting streamcore", "version", version.String())

	db, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	downloadRepo := repository.NewDownloadRepository(db)
	historyRepo := repository.NewHistoryRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)

	reg := registry.New()
	det := detection.New()
	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.Helper.MaxConcurrent,
		MinInterval:   cfg.Helper.MinInterval,
	})

	helperClient := helperclient.New(cfg.Helper, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := helperClient.Start(ctx); err != nil {
		return fmt.Errorf("starting helper client: %w", err)
	}
	defer helperClient.Close()

	fanoutRegistry := fanout.New(logger)
	fanoutRegistry.SubscribeRegistry(reg)

	settingsStore := settings.New(cfg.Settings, settingsRepo, fanoutRegistry, logger)
	if err := settingsStore.Load(ctx); err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	orchestrator := downloads.New(downloadRepo, historyRepo, helperClient, fanoutRegistry,
		settingsStore.Get().MaxConcurrentDownloads, cfg.Settings.MaxHistorySize, logger)
	if err := orchestrator.Restore(ctx); err != nil {
		return fmt.Errorf("restoring downloads: %w", err)
	}

	enrichmentPipeline := enrichment.New(reg, helperClient, limiter, det, logger)

	lifecycleCoordinator := tablifecycle.New(reg, det, limiter, orchestrator, logger)

	historySweeper := scheduler.New(historyRepo, settingsStore, logger)
	historySweeper.Start()
	defer historySweeper.Stop(ctx)

	processor := ingest.New(det, reg, enrichmentPipeline, settingsStore.Get().MinFileSizeFilter, logger)

	server := httpapi.NewServer(cfg.Server, logger, version.Version)

	handlers.NewVideosHandler(reg).Register(server.API())
	handlers.NewDownloadsHandler(orchestrator).Register(server.API())
	handlers.NewHelperHandler(helperClient).Register(server.API())
	handlers.NewSettingsHandler(settingsStore).Register(server.API())
	handlers.NewSavePathHandler(settingsStore).Register(server.API())
	handlers.NewHealthHandler(version.String(), helperClient, db).Register(server.API())
	handlers.NewIngestHandler(processor).Register(server.API())
	handlers.NewLifecycleHandler(lifecycleCoordinator).Register(server.API())
	handlers.NewObserversHandler(fanoutRegistry, logger).RegisterRoute(server.Router())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return server.ListenAndServe(ctx)
}
