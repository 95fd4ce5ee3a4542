// Package main запускает HTTP-сервер магазина фотографий.
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
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/photomart/internal/catalog"
	"github.com/mmeshcher/photomart/internal/config"
	"github.com/mmeshcher/photomart/internal/handler"
	"github.com/mmeshcher/photomart/internal/kvstore"
	"github.com/mmeshcher/photomart/internal/publisher"
	"github.com/mmeshcher/photomart/internal/repository"
	"github.com/mmeshcher/photomart/internal/service"
	"github.com/mmeshcher/photomart/internal/stripe"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, backend, err := kvstore.Open(ctx, kvstore.Options{
		RedisURL:    cfg.RedisURL,
		DatabaseURI: cfg.DatabaseURI,
		AllowMemory: !cfg.IsProduction(),
	})
	if err != nil {
		sugar.Fatalw("store initialization error", "error", err.Error())
	}
	defer store.Close()

	if backend == "memory" {
		sugar.Warnw("using in-memory store, purchases will be lost on restart")
	} else {
		sugar.Infow("store initialised", "backend", backend)
	}

	photos, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		sugar.Fatalw("catalog initialization error", "error", err.Error(), "path", cfg.CatalogPath)
	}

	pub, err := publisher.New(cfg.NATSURL, logger)
	if err != nil {
		sugar.Fatalw("nats initialization error", "error", err.Error())
	}

	if cfg.StripeSecretKey == "" {
		sugar.Warnw("STRIPE_SECRET_KEY not set, checkout and line item lookups are disabled")
	}
	if cfg.StripeWebhookSecret == "" {
		sugar.Warnw("STRIPE_WEBHOOK_SECRET not set, all webhooks will be rejected")
	}

	svc := service.NewService(service.Dependencies{
		Purchases:  repository.NewPurchaseRepository(store),
		Carts:      repository.NewCartRepository(store),
		Payments:   stripe.NewClient(cfg.StripeAPIURL, cfg.StripeSecretKey, logger),
		Verifier:   stripe.NewVerifier(cfg.StripeWebhookSecret),
		Publisher:  pub,
		Catalog:    photos,
		Logger:     logger,
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	})

	h := handler.NewHandler(svc, logger, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	// Повторы останавливаются только после остановки сервера, чтобы события
	// из последних запросов тоже попали в dead letter.
	retryCtx, stopRetries := context.WithCancel(context.Background())
	defer stopRetries()

	// Фоновая запись покупок, отложенных из-за сбоя хранилища
	g.Go(func() error {
		svc.RunIngestRetries(retryCtx)
		sugar.Info("ingest retries stopped")
		return nil
	})

	g.Go(func() error {
		sugar.Infow("starting photomart server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		defer stopRetries()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	err = g.Wait()

	// Publisher закрывается после dead letter отложенных событий
	pub.Close()

	if err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
