/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Initialize SQLite store and the availability cache (Redis or memory)
  4. Load the material catalog, when configured
  5. Create the booking service, API handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config   YAML configuration file (optional, env overrides apply)
  -port     HTTP server port, overrides the config
  -db       SQLite database path, overrides the config
            Use ":memory:" for in-memory database
  -catalog  Catalog JSON file, overrides the config

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Wait for pending cache invalidations
  4. Close database and Redis connections

EXAMPLES:
  ./server -db="./data/bookings.db" -catalog=./catalog.json
  REDIS_ADDR=localhost:6379 ./server -config=config.yaml

SEE ALSO:
  - config/config.go: Configuration and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loxya/booking-engine/api"
	"github.com/loxya/booking-engine/config"
	"github.com/loxya/booking-engine/factory"
	"github.com/loxya/booking-engine/generic"
	"github.com/loxya/booking-engine/generic/store"
	"github.com/loxya/booking-engine/logger"
	"github.com/loxya/booking-engine/metrics"
	"github.com/loxya/booking-engine/store/redis"
	"github.com/loxya/booking-engine/store/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML configuration file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	catalogPath := flag.String("catalog", "", "Catalog JSON file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *catalogPath != "" {
		cfg.Billing.CatalogPath = *catalogPath
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize store
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	defer db.Close()

	cache, closeCache := buildCache(cfg, zlog)
	defer closeCache()

	if cfg.Billing.CatalogPath != "" {
		if err := loadCatalog(context.Background(), db, cfg.Billing.CatalogPath); err != nil {
			zlog.Fatal("failed to load catalog", zap.String("path", cfg.Billing.CatalogPath), zap.Error(err))
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := generic.NewBookingService(db, db, cache, generic.ServiceOptions{
		Policy:   cfg.Inventory.Policy(),
		Logger:   zlog,
		Observer: metrics.New(reg),
	})

	handler := api.NewHandler(svc, db, zlog)
	handler.Reset = db.Reset
	handler.Health = db.Ping
	handler.Metrics = metrics.Handler(reg)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		zlog.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		zlog.Error("server forced to shutdown", zap.Error(err))
	}
	svc.Availability().Wait()

	zlog.Info("server stopped")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.FromEnv()
	}
	return config.Load(path)
}

// buildCache connects to Redis when enabled and falls back to the
// in-process cache when it is disabled or unreachable.
func buildCache(cfg *config.Config, zlog *zap.Logger) (generic.CacheStore, func()) {
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err == nil {
			zlog.Info("using redis availability cache", zap.String("addr", cfg.Redis.Addr))
			return redis.NewCache(client, cfg.Redis.Prefix, cfg.Cache.TTL()), func() { client.Close() }
		}
		zlog.Warn("redis unavailable, using memory cache", zap.Error(err))
	}
	return store.NewMemoryCache(cfg.Cache.TTL()), func() {}
}

func loadCatalog(ctx context.Context, w generic.CatalogWriter, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f := factory.NewCatalogFactory()
	catalog, err := f.ParseCatalog(string(data))
	if err != nil {
		return err
	}
	return f.Load(ctx, w, catalog)
}
