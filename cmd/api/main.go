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

	"github.com/joho/godotenv"
	"github.com/xumezzan/maestro-uz/internal/api"
	"github.com/xumezzan/maestro-uz/internal/config"
	"github.com/xumezzan/maestro-uz/internal/logging"
	"github.com/xumezzan/maestro-uz/internal/service"
	"github.com/xumezzan/maestro-uz/internal/store"
	"go.uber.org/zap"
)

func main() {
	// .env is optional outside local development.
	_ = godotenv.Load()

	cfg := config.MustNewConfig()

	lg, err := logging.NewZapLogger(cfg)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer lg.Sync()

	ledgerStore, err := store.NewStore(cfg.DatabaseDSN)
	if err != nil {
		lg.Error("database init failed", zap.Error(err))
		os.Exit(1)
	}
	defer ledgerStore.Close()

	if err := ledgerStore.RunMigrations(); err != nil {
		lg.Error("migrations failed", zap.Error(err))
		os.Exit(1)
	}

	payme := service.NewPaymeGateway(cfg, ledgerStore, lg)
	click := service.NewClickGateway(cfg, ledgerStore, lg)
	topup := service.NewTopUpService(cfg, ledgerStore, lg)

	handler := api.NewHandler(ledgerStore, payme, click, topup, api.TrustedHeaderAuthenticator{}, lg)

	srv := &http.Server{
		Addr:    cfg.HTTPAddress,
		Handler: handler.Router(),
	}

	go func() {
		lg.Info("server starting", zap.String("address", cfg.HTTPAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		lg.Error("shutdown failed", zap.Error(err))
	}
	lg.Info("server stopped")
}
