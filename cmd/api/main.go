package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mutesky/api/internal/app"
	"mutesky/api/internal/bsky"
	"mutesky/api/internal/catalog"
	"mutesky/api/internal/config"
	"mutesky/api/internal/logging"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/search"
	"mutesky/api/internal/session"
	"mutesky/api/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mutesky-api",
		Short: "Keyword muting API for Bluesky accounts",
		Long: `mutesky-api serves the MuteSky dashboard: it loads the keyword catalog,
keeps each account's keyword selection and syncs it to the account's
muted words.

Configuration comes from the environment, .env and the YAML file named
by MUTESKY_CONFIG.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	})
	cmd.AddCommand(catalogCmd())
	cmd.AddCommand(migrateCmd())
	return cmd
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Production(), cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	redisStore, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	defer redisStore.Close()

	client := bsky.NewClient(cfg.BskyServiceURL, cfg.BskyTimeout, logger)
	manager := bsky.NewManager(client, redisStore, logger)

	deps := app.Deps{
		Selections: redisStore,
		Tokens:     redisStore,
		Identity:   manager,
		Mutes:      mutes.NewSyncer(client, manager, logger),
		Logger:     logger,
	}

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		postgres := store.NewPostgresStore(db)
		deps.Selections = postgres
		deps.History = postgres
		logger.Info("using postgres for selections")
	} else {
		logger.Info("using redis for selections")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	deps.Search = search.NewService(meiliClient, logger)

	source, dirSource := newCatalogSource(cfg, logger)
	deps.Catalog = source

	service := app.NewService(cfg, deps)
	defer service.Close()
	if _, err := service.LoadCatalog(ctx); err != nil {
		logger.Warn("initial catalog load failed, serving an empty catalog until the next refresh", zap.Error(err))
	}

	if dirSource != nil && cfg.CatalogWatch {
		dirs := []string{dirSource.CategoriesDir()}
		if cfg.CatalogDir != "" {
			dirs = append(dirs, cfg.CatalogDir)
		}
		watcher, err := catalog.NewWatcher(dirs, 500*time.Millisecond, func(ctx context.Context) {
			if _, err := service.RefreshCatalog(ctx); err != nil {
				logger.Warn("catalog reload failed", zap.Error(err))
			}
		}, logger)
		if err != nil {
			return fmt.Errorf("catalog watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("catalog watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	} else if dirSource == nil {
		go refreshLoop(ctx, service, cfg.CatalogCacheTTL, logger)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mutesky api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// newCatalogSource builds the configured source. The dir source is also
// returned so it can be watched.
func newCatalogSource(cfg config.Config, logger *zap.Logger) (catalog.Source, *catalog.DirSource) {
	switch cfg.CatalogSource {
	case "git":
		return catalog.NewGitSource(catalog.GitConfig{
			Dir: cfg.CatalogGitDir,
			URL: cfg.CatalogGitURL,
		}, logger), nil
	case "dir":
		dir := catalog.NewDirSource(catalog.DirConfig{Root: cfg.CatalogDir}, logger)
		return dir, dir
	default:
		return catalog.NewHTTPSource(catalog.HTTPConfig{
			BaseURL:     cfg.CatalogBaseURL,
			ListURL:     cfg.CatalogListURL,
			CommitsURL:  cfg.CatalogCommitsURL,
			ContextsURL: cfg.CatalogContextsURL,
			DisplayURL:  cfg.CatalogDisplayURL,
			CacheTTL:    cfg.CatalogCacheTTL,
		}, logger), nil
	}
}

// refreshLoop reloads remote catalogs once per cache period.
func refreshLoop(ctx context.Context, service *app.Service, every time.Duration, logger *zap.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.RefreshCatalog(ctx); err != nil {
				logger.Warn("scheduled catalog refresh failed", zap.Error(err))
			}
		}
	}
}
