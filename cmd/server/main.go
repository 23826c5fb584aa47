package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Clark-Hu/reel-ledger/internal/app"
	"github.com/Clark-Hu/reel-ledger/internal/config"
	httpserver "github.com/Clark-Hu/reel-ledger/internal/http"
	"github.com/Clark-Hu/reel-ledger/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Fatalf("load .env: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("logger: %v", err)
	}
	log := logger.WithField("service", "reel-ledger")

	buildCtx, cancel := context.WithTimeout(ctx, cfg.DBConnTimeout+cfg.TMDBTimeout)
	components, err := app.Build(buildCtx, cfg, log, app.Options{})
	cancel()
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}
	defer components.Close()

	server := httpserver.New(cfg, components.Store, components.Service, components.Registry, log)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("graceful shutdown error")
	}
}
