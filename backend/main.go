package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/imalyk/go-file-converter/pkg/config"
	"github.com/imalyk/go-file-converter/pkg/logging"
	"github.com/imalyk/go-file-converter/pkg/provider"
	"github.com/imalyk/go-file-converter/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	active := cfg.Provider.Active()
	p, err := provider.New(cfg.Provider.Name, provider.Options{
		Key:     active.Key,
		BaseURL: active.BaseURL,
		Timeout: cfg.Provider.Timeout,
	})
	if err != nil {
		return err
	}
	if active.Key == "" {
		logger.Warn("provider API key not configured, conversions will be rejected", "provider", p.Name())
	}

	st, err := store.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}

	srv := newServer(cfg, logger, p, st)
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gateway",
			"addr", httpServer.Addr,
			"provider", p.Name(),
			"store", cfg.Store.Driver,
			"archive", srv.archive != nil,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
