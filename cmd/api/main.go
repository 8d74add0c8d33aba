package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragchat/internal/api"
	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/logging"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New(cfg.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("start ragchat", zap.Error(err))
	}
	defer a.Close()

	srv := api.NewServer(api.Deps{
		Chat:     a.Machine,
		Sessions: a.Store,
		Docs:     a.Store,
		Ingester: a.Ingester,
		Remover:  a.Pipeline,
		Index:    a.Index,
		Models:   a.Gateway,
		Logger:   logger.Named("api"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.APIAddr) }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown", zap.Error(err))
		}
	}
}
