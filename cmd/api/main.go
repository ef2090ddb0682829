package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"equity-backtest/internal/api/handlers"
	"equity-backtest/internal/api/middleware"
	"equity-backtest/internal/config"
	"equity-backtest/internal/data"
	"equity-backtest/internal/storage"
	"equity-backtest/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := config.NewLogger(os.Stderr, config.LoggingConfig{
		Level:  envOr("BACKTEST_LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "text"),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("api server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get configuration from environment
	port := envOr("API_PORT", "8080")
	dataDir := data.GetDefaultDataDir()
	strategyDir := handlers.GetStrategyDir()
	log.Info("starting api",
		slog.String("data_dir", dataDir),
		slog.String("strategy_dir", strategyDir),
	)

	var store *storage.ResultStore
	if dbPath := envOr("BACKTEST_DB_PATH", "backtests.db"); dbPath != "none" {
		s, err := storage.NewResultStore(dbPath)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
		log.Info("result storage enabled", slog.String("db_path", dbPath))
	}

	origins := splitList(os.Getenv("CORS_ORIGINS"))
	hub := telemetry.NewHub(256, log, origins...)
	go hub.Run(ctx)

	cache := data.NewDatasetCache(time.Hour)
	go cache.RunCleanup(ctx, 10*time.Minute)

	interval, err := strconv.Atoi(envOr("PROGRESS_INTERVAL", "0"))
	if err != nil {
		return fmt.Errorf("invalid PROGRESS_INTERVAL: %w", err)
	}

	// Set up Gin router
	if os.Getenv("API_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Apply middleware
	router.Use(middleware.CORS(origins...))
	router.Use(middleware.Logger(log))
	router.Use(middleware.ErrorHandler(log))

	// Initialize handlers
	backtestHandler := handlers.NewBacktestHandler(handlers.Options{
		Store:            store,
		Cache:            cache,
		Hub:              hub,
		DataDir:          dataDir,
		StrategyDir:      strategyDir,
		ProgressInterval: interval,
		Logger:           log,
	})
	strategyHandler := handlers.NewStrategyHandler()
	presetHandler := handlers.NewPresetHandler(strategyDir, log)
	datasetHandler := handlers.NewDatasetHandler(dataDir)

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"storage":         store != nil,
			"progress_client": hub.Clients(),
			"cached_datasets": cache.Len(),
		})
	})
	router.GET("/ws/progress", handlers.Progress(hub))

	// API routes
	api := router.Group("/api/v1")
	{
		api.POST("/backtest", backtestHandler.RunBacktest)
		api.POST("/backtest/compare", backtestHandler.CompareBacktests)
		api.GET("/backtest/:id", backtestHandler.GetResult)
		api.GET("/backtest/:id/ledger", backtestHandler.GetLedger)
		api.GET("/backtest/:id/equity", backtestHandler.GetEquity)
		api.GET("/backtests", backtestHandler.ListResults)

		api.GET("/strategies", strategyHandler.ListStrategies)
		api.GET("/strategies/presets", presetHandler.ListPresets)
		api.GET("/datasets", datasetHandler.ListDatasets)
	}

	// Serve static files from web/dist (if it exists)
	staticDir := envOr("STATIC_DIR", "./web/dist")
	if _, err := os.Stat(staticDir); err == nil {
		router.Static("/assets", staticDir+"/assets")
		router.StaticFile("/favicon.ico", staticDir+"/favicon.ico")

		// Serve index.html for all non-API routes (SPA routing)
		router.NoRoute(func(c *gin.Context) {
			if strings.HasPrefix(c.Request.URL.Path, "/api") {
				c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
				return
			}
			c.File(staticDir + "/index.html")
		})
		log.Info("serving static files", slog.String("dir", staticDir))
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
