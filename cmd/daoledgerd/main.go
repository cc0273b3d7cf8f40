package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"daoledger/config"
	"daoledger/core/events"
	"daoledger/core/host"
	"daoledger/gateway"
	"daoledger/gateway/middleware"
	"daoledger/integrations/indexer"
	"daoledger/integrations/webhooks"
	"daoledger/observability/logging"
	"daoledger/observability/metrics"
	telemetry "daoledger/observability/otel"
	"daoledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to node configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logOpts := []logging.Option{logging.WithLevel(cfg.LogLevel)}
	if strings.TrimSpace(cfg.LogFile) != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile, 100, 5, 30))
	}
	logger := logging.Setup("daoledgerd", cfg.Environment, logOpts...)

	if err := run(cfg, logger); err != nil {
		logger.Error("daoledgerd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "daoledgerd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()
	transitions, err := telemetry.NewTransitionRecorder(otel.Meter("daoledger"))
	if err != nil {
		return err
	}

	hcfg, err := hostConfig(cfg)
	if err != nil {
		return err
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}

	ledgerMetrics := metrics.Ledger()
	sinks := events.Multi{ledgerMetrics.Emitter()}

	var audit *indexer.Indexer
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		sqlDB, err := indexer.Open(dsn)
		if err != nil {
			db.Close()
			return err
		}
		if audit, err = indexer.New(sqlDB, logger); err != nil {
			db.Close()
			return err
		}
		sinks = append(sinks, audit)
	}
	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(os.Getenv(cfg.Webhook.SecretEnv)),
			webhooks.WithLogger(logger),
			webhooks.WithEventPrefixes(cfg.Webhook.Events...),
			webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		if err != nil {
			db.Close()
			return err
		}
		defer dispatcher.Close()
		sinks = append(sinks, dispatcher)
	}

	h := host.New(db, hcfg,
		host.WithLogger(logger),
		host.WithSink(sinks),
		host.WithObserver(func(op string, err error, elapsed time.Duration) {
			ledgerMetrics.ObserveTransition(op, err, elapsed)
			transitions.Observe(op, err, elapsed)
		}))
	defer h.Close()

	if err := bootstrap(h, hcfg, cfg, logger); err != nil {
		return err
	}
	if err := h.View(func() error {
		open, err := h.Bounty.RecountOpenTasks()
		if err != nil {
			return err
		}
		ledgerMetrics.SetOpenTasks(open)
		return nil
	}); err != nil {
		return err
	}

	handler := gateway.New(h, gateway.Options{
		Indexer: audit,
		CORS:    middleware.CORSConfig{AllowedOrigins: cfg.Gateway.AllowedOrigins},
		RateLimits: map[string]middleware.RateLimit{
			gateway.RouteQuery:  {RatePerSecond: cfg.Gateway.RatePerSecond, Burst: cfg.Gateway.Burst},
			gateway.RouteEvents: {RatePerSecond: cfg.Gateway.RatePerSecond / 4, Burst: cfg.Gateway.Burst / 4},
		},
		Logger:      logger,
		LogRequests: cfg.Gateway.LogRequests,
		Auth:        gatewayAuth(cfg, logger),
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(handler, "daoledger-gateway"),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("address", cfg.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func gatewayAuth(cfg *config.Config, logger *slog.Logger) *middleware.Authenticator {
	var secret string
	if env := strings.TrimSpace(cfg.Gateway.AuthSecretEnv); env != "" {
		secret = os.Getenv(env)
		if secret == "" {
			logger.Warn("audit export secret not set; export is unauthenticated",
				slog.String("env", env))
		}
	}
	return middleware.NewAuthenticator(middleware.AuthConfig{
		HMACSecret: secret,
		Issuer:     cfg.Gateway.AuthIssuer,
		Audience:   cfg.Gateway.AuthAudience,
	}, logger)
}
