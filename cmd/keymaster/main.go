// Command keymaster runs the API-key issuance and validation service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/keymaster/pkg/api"
	"github.com/Mindburn-Labs/keymaster/pkg/config"
	"github.com/Mindburn-Labs/keymaster/pkg/engine"
	"github.com/Mindburn-Labs/keymaster/pkg/observability"
	"github.com/Mindburn-Labs/keymaster/pkg/store"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting keymaster", "version", version, "port", cfg.Port)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTLPEndpoint, version)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	validator := store.New(store.Options{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Username: cfg.Validator.Username,
		Password: cfg.Validator.Password,
		DB:       cfg.RedisDB,
	}, logger.With("principal", "validator"))
	defer validator.Close()

	manager := store.New(store.Options{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Username: cfg.Manager.Username,
		Password: cfg.Manager.Password,
		DB:       cfg.RedisDB,
	}, logger.With("principal", "manager"))
	defer manager.Close()

	// Fail fast if either principal cannot reach the store.
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := validator.Ping(pingCtx); err != nil {
		return errors.New("redis validator connection failed: " + err.Error())
	}
	if err := manager.Ping(pingCtx); err != nil {
		return errors.New("redis manager connection failed: " + err.Error())
	}
	logger.Info("connected to redis with validator and manager credentials",
		"host", cfg.RedisHost, "port", cfg.RedisPort, "db", cfg.RedisDB)

	if cfg.AdminSecret == "" {
		logger.Warn("ADMIN_SECRET not set - admin endpoints are disabled")
	}

	eng := engine.New(validator, manager, engine.Config{
		RatePerMinute: cfg.RatePerMinute,
		Logger:        logger,
		Metrics:       metrics,
	})

	handler := api.NewRouter(api.NewService(eng), api.RouterConfig{
		AdminSecret: cfg.AdminSecret,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
