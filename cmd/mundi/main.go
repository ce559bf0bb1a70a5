// Mundi chat runtime server. Serves the map and chat HTTP API, runs the
// agentic loop, and streams live message updates over WebSockets.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/buntinglabs/mundi/pkg/agent/tools"
	"github.com/buntinglabs/mundi/pkg/api"
	"github.com/buntinglabs/mundi/pkg/config"
	"github.com/buntinglabs/mundi/pkg/database"
	"github.com/buntinglabs/mundi/pkg/events"
	"github.com/buntinglabs/mundi/pkg/llm"
	"github.com/buntinglabs/mundi/pkg/lock"
	"github.com/buntinglabs/mundi/pkg/postgis"
	"github.com/buntinglabs/mundi/pkg/qgis"
	"github.com/buntinglabs/mundi/pkg/services"
	"github.com/buntinglabs/mundi/pkg/storage"
	"github.com/buntinglabs/mundi/pkg/styles"
	"github.com/buntinglabs/mundi/pkg/vectorquery"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Database (pool + migrations).
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// Redis coordination.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr(), "error", err)
		os.Exit(1)
	}
	coord := lock.NewCoordinator(rdb)
	slog.Info("Connected to Redis", "addr", cfg.RedisAddr())

	// Notification fabric: bus, dedicated LISTEN connection, publisher.
	bus := events.NewBus()
	bus.Start(ctx)
	defer bus.Stop()

	listener := events.NewNotifyListener(dbConfig.DSN(), bus)
	if err := listener.Start(ctx); err != nil {
		slog.Error("Failed to start NOTIFY listener", "error", err)
		os.Exit(1)
	}
	defer listener.Stop(ctx)

	publisher := events.NewPublisher(dbClient.Pool())
	slog.Info("Notification fabric initialized")

	// Object store.
	store, err := storage.New(ctx, storage.Options{
		Endpoint:  cfg.S3EndpointURL,
		AccessKey: cfg.S3AccessKeyID,
		SecretKey: cfg.S3SecretKey,
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
	})
	if err != nil {
		slog.Error("Failed to initialize object store", "error", err)
		os.Exit(1)
	}

	// LLM.
	completer := llm.NewClient(cfg.OpenAIBaseURL, os.Getenv("OPENAI_API_KEY"), cfg.OpenAIModel)
	slog.Info("LLM client initialized", "model", cfg.OpenAIModel)

	// User database access and query engines.
	pool := dbClient.Pool()
	connSvc := services.NewConnectionService(pool)
	pgManager := postgis.NewManager(connSvc, cfg.PostGISConnTimeout)
	defer pgManager.Close()

	cacheDir := os.TempDir() + "/mundi-layer-cache"
	layerCache, err := vectorquery.NewLayerCache(store, cacheDir)
	if err != nil {
		slog.Error("Failed to initialize layer cache", "error", err)
		os.Exit(1)
	}
	vectorEngine := vectorquery.NewEngine(layerCache)

	qgisClient := qgis.NewClient(cfg.QGISProcessingURL, store)
	if qgisClient.Enabled() {
		slog.Info("QGIS worker configured", "url", cfg.QGISProcessingURL)
	}

	validator := styles.NewValidator("")
	if validator == nil {
		slog.Warn("Style validator binary not found; style validation is disabled")
	}

	toolDeps := &tools.Deps{
		Maps:          services.NewMapService(pool),
		Layers:        services.NewLayerService(pool),
		Styles:        services.NewStyleService(pool),
		Connections:   connSvc,
		PostGIS:       pgManager,
		Vector:        vectorEngine,
		Store:         store,
		QGIS:          qgisClient,
		Publisher:     publisher,
		Validator:     validator,
		WebsiteDomain: cfg.WebsiteDomain,
		OSMAPIKey:     cfg.OSMAPIKey,
	}

	// HTTP server.
	e := echo.New()
	server := api.NewServer(cfg, dbClient, bus, publisher, coord, pgManager, store, completer, toolDeps)
	server.RegisterRoutes(e)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: e,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
