package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pass-ticketing/internal/app"
	"github.com/noah-isme/pass-ticketing/internal/config"
	"github.com/noah-isme/pass-ticketing/internal/edge"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/payment"
	"github.com/noah-isme/pass-ticketing/internal/resilience"
	"github.com/noah-isme/pass-ticketing/internal/security"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

func main() {
	cfg, err := config.LoadFor(config.RoleEdge)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := app.InitObservability(ctx, "pass-webhook-edge", cfg.AppEnv)
	defer o.Shutdown(context.Background())
	logger := obs.Component(o.Logger, "edge")

	handler := edge.Handler{Secret: cfg.RazorpayWebhookSecret, Logger: logger}
	if cfg.EdgeForwardURL != "" {
		handler.Forwarder = &edge.Forwarder{
			URL: cfg.EdgeForwardURL,
			Client: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "edge_forward", MinRequests: 5, OpenFor: 15 * time.Second, Logger: logger}),
				BaseBackoff: 200 * time.Millisecond,
				MaxAttempts: 3,
				Jitter:      0.2,
				Timeout:     cfg.GatewayTimeout,
			},
		}
		logger.Info().Str("forward_url", cfg.EdgeForwardURL).Msg("forwarding verified callbacks")
	} else {
		startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pool, err := store.OpenPool(startCtx, cfg.DatabaseURL)
		if err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("connect database")
		}
		defer pool.Close()
		redisClient, err := app.OpenRedis(startCtx, cfg.RedisURL, o.MetricsEnabled, logger)
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = redisClient.Close() }()

		local := payment.Webhook{
			Secret:     cfg.RazorpayWebhookSecret,
			Reconciler: app.NewReconciler(store.NewPostgres(pool), redisClient, cfg.ReconcileLockTTL, logger),
			Logger:     logger,
			Source:     "edge",
		}
		handler.Local = http.HandlerFunc(local.Handle)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
	if o.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/", handler)
	r.Handle("/razorpay-webhook", handler)

	srv := &http.Server{Addr: cfg.EdgeAddr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", srv.Addr).Msg("webhook edge starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("webhook edge exited unexpectedly")
	}
}
