package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"robot-fleet-backend/config"
	"robot-fleet-backend/internal/api"
	"robot-fleet-backend/internal/db"
	"robot-fleet-backend/internal/logging"
	"robot-fleet-backend/internal/notification"
	"robot-fleet-backend/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Left as a nil interface when alerts are off so handlers skip dispatch.
	var alerts api.AlertDispatcher
	var pool *notification.WorkerPool
	if cfg.Alerts.Active() {
		pool = notification.NewWorkerPool(cfg.Alerts.WorkerPoolSize, cfg.Alerts.QueueSize, appStore, &webpush.Options{
			VAPIDPublicKey:  cfg.Alerts.PublicKey,
			VAPIDPrivateKey: cfg.Alerts.PrivateKey,
			Subscriber:      cfg.Alerts.Subject,
			TTL:             cfg.Alerts.TTL,
		}, logger)
		pool.Start(ctx)
		alerts = pool
		logger.Info("alert workers started", zap.Int("workers", cfg.Alerts.WorkerPoolSize))
	} else {
		logger.Info("alerts disabled")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, appStore, alerts, logger),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	cancel()
	if pool != nil {
		pool.Wait()
	}

	logger.Info("server gracefully stopped")
	return nil
}
