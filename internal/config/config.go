package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	AuthJWTSecret   string
	AuthJWTAudience string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	GatewayTimeout        time.Duration

	BodyLimitBytes   int64
	RateLimitPerMin  int
	WSConnectRate    string
	CatalogCacheTTL  time.Duration
	IdempotencyTTL   time.Duration
	ReconcileLockTTL time.Duration

	EdgePort       string
	EdgeForwardURL string
	PingCron       string
}

// Role selects which settings a binary cannot start without.
type Role int

const (
	// RoleAPI needs the database, Redis and the token secret.
	RoleAPI Role = iota
	// RoleWorker needs the database and Redis.
	RoleWorker
	// RoleEdge needs the webhook secret, plus the database and Redis when it
	// reconciles locally instead of forwarding.
	RoleEdge
)

// Load reads the API configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	return LoadFor(RoleAPI)
}

// LoadFor reads configuration and validates it for role.
func LoadFor(role Role) (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(role); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		AuthJWTSecret:   k.String("AUTH_JWT_SECRET"),
		AuthJWTAudience: valueOrDefault(k.String("AUTH_JWT_AUDIENCE"), "authenticated"),

		RazorpayKeyID:         strings.TrimSpace(k.String("RAZORPAY_KEY_ID")),
		RazorpayKeySecret:     strings.TrimSpace(k.String("RAZORPAY_KEY_SECRET")),
		RazorpayWebhookSecret: strings.TrimSpace(k.String("RAZORPAY_WEBHOOK_SECRET")),
		RazorpayBaseURL:       strings.TrimRight(valueOrDefault(k.String("RAZORPAY_BASE_URL"), "https://api.razorpay.com"), "/"),
		GatewayTimeout:        parseDuration(k.String("GATEWAY_TIMEOUT"), "10s"),

		BodyLimitBytes:   parseInt64(k.String("BODY_LIMIT_BYTES"), 1<<20),
		RateLimitPerMin:  int(parseInt64(k.String("RATE_LIMIT_PER_MIN"), 100)),
		WSConnectRate:    valueOrDefault(k.String("WS_CONNECT_RATE"), "30-M"),
		CatalogCacheTTL:  parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		ReconcileLockTTL: parseDuration(k.String("RECONCILE_LOCK_TTL"), "15s"),

		EdgePort:       valueOrDefault(k.String("EDGE_PORT"), "8081"),
		EdgeForwardURL: strings.TrimSpace(k.String("EDGE_FORWARD_URL")),
		PingCron:       valueOrDefault(k.String("PING_CRON"), "*/10 * * * *"),
	}

	return cfg, nil
}

func (c *Config) validate(role Role) error {
	needStores := role != RoleEdge || c.EdgeForwardURL == ""
	if role == RoleEdge && c.RazorpayWebhookSecret == "" {
		return errors.New("RAZORPAY_WEBHOOK_SECRET is required")
	}
	if needStores && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if needStores && c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if role == RoleAPI && c.AuthJWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	return nil
}

// GatewayConfigured reports whether order creation credentials are present.
func (c *Config) GatewayConfigured() bool {
	return c.RazorpayKeyID != "" && c.RazorpayKeySecret != ""
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	return listenAddr(c.Port, "8080")
}

// EdgeAddr returns the address the standalone webhook receiver binds to.
func (c *Config) EdgeAddr() string {
	return listenAddr(c.EdgePort, "8081")
}

func listenAddr(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	return loadRoleForTests(RoleAPI, env)
}

func loadRoleForTests(role Role, env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := LoadFor(role)
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
