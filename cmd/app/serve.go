package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agrisync/internal/cache"
	"agrisync/internal/config"
	"agrisync/internal/convo"
	"agrisync/internal/geo"
	"agrisync/internal/httpserver"
	"agrisync/internal/metrics"
	"agrisync/internal/nlu"
	"agrisync/internal/pricing"
	"agrisync/internal/twilio"
	"agrisync/internal/wa"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and WhatsApp channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting agrisync", "env", cfg.AppEnv, "driver", cfg.DatabaseDriver)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	gemini, err := nlu.NewGemini(ctx, nlu.Config{
		APIKey:   cfg.GeminiAPIKey,
		Model:    cfg.GeminiModel,
		CacheTTL: cfg.TranslationCacheTTL,
	}, logger, metricRegistry, redisClient)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	geocoder := geo.New(geo.Config{
		BaseURL:   cfg.GeocoderBaseURL,
		UserAgent: cfg.GeocoderUserAgent,
		Timeout:   cfg.GeocoderTimeout,
		Retries:   cfg.GeocoderRetries,
		CacheTTL:  cfg.GeocoderCacheTTL,
	}, logger, metricRegistry, redisClient)

	prices := pricing.NewTable(cfg.PriceTablePath, logger, metricRegistry)

	engine := convo.New(convo.Dependencies{
		Farmers:    repository,
		Logistics:  repository,
		Extractor:  gemini,
		Translator: gemini,
		Geocoder:   geocoder,
		Prices:     prices,
	}, metricRegistry, logger)

	webhook := twilio.NewWebhookHandler(twilio.Config{
		AuthToken:  cfg.TwilioAuthToken,
		WebhookURL: cfg.TwilioWebhookURL,
		Timeout:    cfg.RequestTimeout,
	}, engine, logger, metricRegistry)

	if cfg.WhatsAppEnabled {
		waClient, err := startWhatsApp(ctx, cfg, engine, metricRegistry, logger, stop)
		if err != nil {
			return err
		}
		defer waClient.Close()
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		TwilioWebhook: webhook,
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Prices:     prices,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func startWhatsApp(ctx context.Context, cfg *config.Config, router wa.Router, metricRegistry *metrics.Metrics, logger *slog.Logger, stop context.CancelFunc) (*wa.Client, error) {
	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Timeout:   cfg.RequestTimeout,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init whatsapp client: %w", err)
	}
	waClient.SetRouter(router)

	go func() {
		if err := waClient.Start(ctx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()
	return waClient, nil
}
