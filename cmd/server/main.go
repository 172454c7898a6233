/*
main.go - Application entry point

PURPOSE:
  Starts the hours bank HTTP server and the background batch scheduler.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config from the environment (.env when present)
  2. Apply command-line overrides
  3. Wire storage, locks and the attendance service (app.New)
  4. Configure HTTP router and start the scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    Listen address (overrides APP_ADDR)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running batch)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and redis connections

EXAMPLES:
  ./server -db="./data/hours.db"
  LEDGER_DRIVER=postgres DATABASE_URL=postgres://... ./server
  LOCK_BACKEND=redis REDIS_URL=redis://localhost:6379/0 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - app/app.go: Wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/hoursbank/api"
	"github.com/warp/hoursbank/app"
	"github.com/warp/hoursbank/config"
)

var version = "dev"

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dbPath := flag.String("db", "", "SQLite database path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if *addr != "" {
		cfg.App.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}

	logger, err := config.NewLogger(cfg.App.LogLevel)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build logger")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	hours, err := app.New(ctx, cfg, logger, app.Options{})
	cancel()
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize")
	}
	defer func() {
		if err := hours.Close(); err != nil {
			logger.WithError(err).Error("failed to close backends")
		}
	}()

	handler := api.NewHandler(hours.Service, hours.Store, hours.Store, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.App.AllowedOrigins,
		Env:            cfg.App.Env,
		Version:        version,
	})

	scheduler := api.NewScheduler(hours.Service, hours.Store, hours.Locker, logger)
	scheduler.CheckInterval = cfg.Scheduler.Interval
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.Start()

	server := &http.Server{
		Addr:         cfg.App.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{"addr": cfg.App.Addr, "env": cfg.App.Env}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shutdown")
		return
	}

	logger.Info("server stopped")
}
