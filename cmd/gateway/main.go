package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/backoffice/internal/api"
	"github.com/lalithlochan/backoffice/internal/app"
	"github.com/lalithlochan/backoffice/internal/auth"
	"github.com/lalithlochan/backoffice/internal/config"
	"github.com/lalithlochan/backoffice/internal/devices"
	"github.com/lalithlochan/backoffice/internal/observ"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting backoffice gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("version", version),
	)

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewHandler(logger, api.Deps{
		Auth:         a.Auth,
		Jobs:         a.Queue,
		Devices:      a.Registry,
		Scheduler:    a.Scheduler,
		Dispatcher:   a.Dispatcher,
		ClaimTimeout: cfg.JobClaimTimeout,
	})

	routerCfg := api.RouterConfig{
		Authenticate: auth.Middleware(a.Tokens, logger),
		Device:       devices.Middleware(a.Registry, logger),
		Health: func(r *http.Request) error {
			return a.Health(r.Context())
		},
	}
	// Assigned only when set so the interfaces stay nil without Redis.
	if a.PollLimiter != nil {
		routerCfg.PollLimiter = a.PollLimiter
	}
	if a.Idempotency != nil {
		routerCfg.Idempotency = a.Idempotency
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, routerCfg),
		ReadTimeout:  15 * time.Second,
		// Outlasts the router's 30s request timeout so a dispatch cut short
		// at its deadline can still answer.
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
