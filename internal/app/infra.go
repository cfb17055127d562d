// Package app holds the wiring shared by the binaries: connections,
// observability bootstrap and the reconciliation stack.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/events"
	"github.com/noah-isme/pass-ticketing/internal/lock"
	"github.com/noah-isme/pass-ticketing/internal/obs"
	"github.com/noah-isme/pass-ticketing/internal/realtime"
	"github.com/noah-isme/pass-ticketing/internal/reconcile"
)

// Observability is the env-driven logging, metrics and tracing setup.
type Observability struct {
	Logger           zerolog.Logger
	MetricsEnabled   bool
	MetricsNamespace string
	TracingEnabled   bool
	shutdown         func(context.Context) error
}

// InitObservability reads the OBS_* variables, builds the logger, registers
// domain metrics and starts the tracer provider.
func InitObservability(ctx context.Context, service, env string) *Observability {
	o := &Observability{
		Logger: obs.NewLogger(EnvOrDefault("OBS_LOG_FORMAT", "json"), EnvOrDefault("OBS_LOG_LEVEL", "info")).
			With().Str("env", env).Str("service", service).Logger(),
		MetricsEnabled:   EnvBool("OBS_ENABLE_PROMETHEUS", true),
		MetricsNamespace: EnvOrDefault("OBS_METRICS_NAMESPACE", "passes"),
		TracingEnabled:   EnvBool("OBS_ENABLE_TRACING", true),
	}
	obs.MustRegisterDomainMetrics(o.MetricsNamespace, nil)
	if !o.TracingEnabled {
		return o
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   service,
		Endpoint:      EnvOrDefault("OBS_OTLP_ENDPOINT", ""),
		Exporter:      EnvOrDefault("OBS_TRACING_EXPORTER", "otlp"),
		SamplingRatio: EnvFloat("OBS_TRACING_SAMPLING_RATIO", 1.0),
		Environment:   env,
	})
	if err != nil {
		o.Logger.Error().Err(err).Msg("initialise tracing")
		o.TracingEnabled = false
		return o
	}
	o.shutdown = shutdown
	return o
}

// Shutdown flushes the tracer provider.
func (o *Observability) Shutdown(ctx context.Context) {
	if o.shutdown == nil {
		return
	}
	if err := o.shutdown(ctx); err != nil {
		o.Logger.Error().Err(err).Msg("shutdown tracer")
	}
}

// OpenRedis connects to url, instruments the client and pings it.
func OpenRedis(ctx context.Context, url string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewReconciler builds the reconciler used by the API and the edge receiver.
// Notifications go through Redis so whichever instance holds the user's
// socket delivers them.
func NewReconciler(st reconcile.Store, rdb redis.UniversalClient, lockTTL time.Duration, logger zerolog.Logger) *reconcile.Reconciler {
	return &reconcile.Reconciler{
		Store:   st,
		Events:  &events.Bus{Notifiers: []events.Notifier{realtime.RedisPublisher{R: rdb}}},
		Locker:  lock.Locker{R: rdb, Prefix: "lock:"},
		LockTTL: lockTTL,
		Logger:  obs.Component(logger, "reconcile"),
	}
}

// ReadinessChecker probes Postgres and Redis.
type ReadinessChecker struct {
	DB    *pgxpool.Pool
	Redis redis.UniversalClient
}

func (c ReadinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.DB == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.DB.Ping(ctx)
}

func (c ReadinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.Redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Redis.Ping(ctx).Err()
}

func EnvOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func EnvBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func EnvFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func EnvInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func EnvDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(EnvInt(key, fallback)) * time.Millisecond
}
