package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/pass-ticketing/internal/app"
	"github.com/noah-isme/pass-ticketing/internal/auth"
	"github.com/noah-isme/pass-ticketing/internal/catalog"
	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/config"
	"github.com/noah-isme/pass-ticketing/internal/gateway"
	"github.com/noah-isme/pass-ticketing/internal/health"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/order"
	"github.com/noah-isme/pass-ticketing/internal/payment"
	"github.com/noah-isme/pass-ticketing/internal/profile"
	"github.com/noah-isme/pass-ticketing/internal/purchase"
	"github.com/noah-isme/pass-ticketing/internal/ratelimit"
	"github.com/noah-isme/pass-ticketing/internal/realtime"
	"github.com/noah-isme/pass-ticketing/internal/resilience"
	"github.com/noah-isme/pass-ticketing/internal/security"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := app.InitObservability(ctx, "pass-api", cfg.AppEnv)
	defer o.Shutdown(context.Background())
	logger := o.Logger

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := store.OpenPool(startCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()
	db := store.NewPostgres(pool)

	redisClient, err := app.OpenRedis(startCtx, cfg.RedisURL, o.MetricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	authService, err := auth.NewService(auth.Config{
		Secret:    cfg.AuthJWTSecret,
		Audience:  cfg.AuthJWTAudience,
		ClockSkew: 30 * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	authMiddleware := auth.Middleware{Verifier: authService, Logger: obs.Component(logger, "auth")}

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store:  db,
		Cache:  catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		Logger: obs.Component(logger, "catalog"),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: catalogService, Logger: obs.Component(logger, "catalog")})

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Target:      "razorpay",
		MinRequests: 5,
		OpenFor:     30 * time.Second,
		Logger:      logger,
	})
	razorpay := gateway.NewRazorpay(gateway.Config{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
		BaseURL:   cfg.RazorpayBaseURL,
		Timeout:   cfg.GatewayTimeout,
	}, breaker)
	if !razorpay.Configured() {
		logger.Warn().Msg("razorpay credentials missing; purchases will fail")
	}
	purchaseHandler := &purchase.Handler{Svc: &purchase.Service{
		Store:   db,
		Gateway: razorpay,
		Logger:  obs.Component(logger, "purchase"),
	}}

	reconciler := app.NewReconciler(db, redisClient, cfg.ReconcileLockTTL, logger)
	webhookHandler := payment.Webhook{
		Secret:     cfg.RazorpayWebhookSecret,
		Reconciler: reconciler,
		Logger:     obs.Component(logger, "webhook"),
		Source:     "api",
	}

	hub := realtime.NewHub(logger, app.EnvInt("REALTIME_QUEUE_SIZE", 16))
	closeSub, err := hub.SubscribeRedis(ctx, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("subscribe realtime channels")
	}
	defer func() { _ = closeSub() }()
	wsHandler := realtime.NewHandler(hub, authService, logger, cfg.CORSAllowedOrigins)

	limiterStore, err := ratelimit.NewRedisStore(redisClient, "ws_connect")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise connect limiter store")
	}
	connectGuard, err := ratelimit.NewConnectGuard(limiterStore, cfg.WSConnectRate, ratelimit.ByClientIP(""), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise connect limiter")
	}
	apiLimit := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "ratelimit:"},
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("api:"),
			Window: time.Minute,
			Max:    cfg.RateLimitPerMin,
		},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	orderHandler := &order.Handler{Store: db, Logger: obs.Component(logger, "order")}
	profileHandler := &profile.Handler{Store: db, Logger: obs.Component(logger, "profile")}
	healthHandler := health.Handler{
		Checker:      app.ReadinessChecker{DB: pool, Redis: redisClient},
		Toucher:      db,
		Logger:       obs.Component(logger, "health"),
		DBTimeout:    app.EnvDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: app.EnvDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}

	var httpMetrics *obs.HTTPMetrics
	if o.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(app.EnvOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(o.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if o.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger, Quiet: []string{"/health/live", "/health/ready", "/metrics"}}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.Headers{
		Enable:          true,
		EnableHSTS:      cfg.AppEnv == "production",
		NoStorePrefixes: []string{"/api/orders", "/api/profile", "/api/dashboard", "/api/passes/"},
	}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if o.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if app.EnvBool("OBS_ENABLE_PPROF", cfg.AppEnv != "production") {
		user := app.EnvOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := app.EnvOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug", protectPprof(middleware.Profiler(), user, pass))
	}

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.With(connectGuard.Middleware).Get("/ws", wsHandler.ServeHTTP)

	mountAPI(r, apiRoutes{
		Limit:         apiLimit.Middleware,
		RequireAuth:   authMiddleware.RequireAuth,
		Idempotent:    idem.Middleware,
		Health:        healthHandler.Status,
		Ping:          healthHandler.Ping,
		Passes:        catalogHandler.Passes,
		Events:        catalogHandler.Events,
		Event:         catalogHandler.Event,
		Webhook:       webhookHandler.Handle,
		WebhookStatus: webhookHandler.Status,
		Buy:           purchaseHandler.Buy,
		Upgrade:       purchaseHandler.Upgrade,
		Orders:        orderHandler.List,
		Dashboard:     profileHandler.Dashboard,
		GetProfile:    profileHandler.Get,
		UpdateProfile: profileHandler.Update,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
	logger.Info().Msg("server stopped")
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
