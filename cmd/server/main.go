package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-payments/internal/config"
	"checkout-payments/internal/database"
	"checkout-payments/internal/infrastructure/events"
	"checkout-payments/internal/infrastructure/payment"
	"checkout-payments/internal/logging"
	"checkout-payments/internal/repo"
	"checkout-payments/internal/server"
	"checkout-payments/internal/service"
	"checkout-payments/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "json", "info").Fatal("failed to load config", "error", err)
	}

	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}
	defer db.Close()

	if err := repo.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate database", "error", err)
	}

	var tokenCache payment.TokenCache = payment.NewMemoryTokenCache()
	if cfg.RedisURL != "" {
		redisCache, err := payment.NewRedisTokenCache(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", "error", err)
		}
		defer redisCache.Close()
		tokenCache = redisCache
		logger.Info("provider tokens cached in redis")
	}

	var publisher events.Publisher = events.Nop()
	if cfg.NatsURL != "" {
		natsPublisher, err := events.NewNatsPublisher(cfg.NatsURL, logger.Named("events"))
		if err != nil {
			logger.Fatal("failed to connect to nats", "error", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
		logger.Info("payment events published to nats", "stream", events.StreamName)
	}

	var (
		gateways       []payment.Gateway
		statusGateways []worker.StatusGateway
		sources        []payment.NotificationSource
	)
	if cfg.Mpesa.Enabled() {
		mpesa := payment.NewMpesaGateway(payment.MpesaConfig{
			BaseURL:         cfg.Mpesa.BaseURL,
			ConsumerKey:     cfg.Mpesa.ConsumerKey,
			ConsumerSecret:  cfg.Mpesa.ConsumerSecret,
			ShortCode:       cfg.Mpesa.ShortCode,
			Passkey:         cfg.Mpesa.Passkey,
			CountryCode:     cfg.Mpesa.CountryCode,
			TransactionType: cfg.Mpesa.TransactionType,
			CallbackURL:     cfg.MpesaCallbackURL(),
			Timeout:         cfg.ProviderTimeout,
			Logger:          logger.Named("mpesa"),
		}, tokenCache)
		gateways = append(gateways, mpesa)
		statusGateways = append(statusGateways, mpesa)
		sources = append(sources, payment.NewMpesaCallbackSource(cfg.Mpesa.CallbackToken))
		logger.Info("mpesa enabled", "base_url", cfg.Mpesa.BaseURL, "short_code", cfg.Mpesa.ShortCode)
	}
	if cfg.Stripe.Enabled() {
		stripe := payment.NewStripeGateway(payment.StripeConfig{
			BaseURL:   cfg.Stripe.BaseURL,
			SecretKey: cfg.Stripe.SecretKey,
			Currency:  cfg.Stripe.Currency,
			Timeout:   cfg.ProviderTimeout,
		})
		gateways = append(gateways, stripe)
		statusGateways = append(statusGateways, stripe)
		sources = append(sources, payment.NewStripeWebhookSource(cfg.Stripe.WebhookSecret, cfg.Stripe.SignatureTolerance))
		logger.Info("stripe enabled", "currency", cfg.Stripe.Currency)
	}

	paymentRepo := repo.NewPaymentRepo(db)
	orderRepo := repo.NewOrderRepo(db)

	initiation := service.NewInitiationService(paymentRepo, orderRepo, gateways, logger.Named("initiation"))
	reconciliation := service.NewReconciliationService(db, paymentRepo, orderRepo, sources, publisher,
		logger.Named("reconciliation"),
		service.ReconciliationOptions{AmountTolerance: cfg.Reconciliation.AmountTolerance},
	)
	orders := service.NewOrderService(db, orderRepo)

	reconcileWorker := worker.NewReconciliationWorker(paymentRepo, statusGateways, reconciliation, worker.Options{
		Interval:     cfg.Reconciliation.Interval,
		StaleAfter:   cfg.Reconciliation.StaleAfter,
		AbandonAfter: cfg.Reconciliation.AbandonAfter,
		BatchSize:    cfg.Reconciliation.BatchSize,
	}, logger.Named("worker"))
	go reconcileWorker.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	srv := server.New(server.Dependencies{
		DB:             db,
		Initiation:     initiation,
		Reconciliation: reconciliation,
		Orders:         orders,
		Logger:         logger.Named("http"),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
}
