package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the readiness flag. The API clears it when shutdown starts so
// load balancers drain the instance before the listener closes.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the readiness flag.
func IsReady() bool {
	return ready.Load()
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingDB(ctx context.Context, timeout time.Duration) error
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// Toucher performs the lightweight store query the keep-alive ping relies on.
type Toucher interface {
	Touch(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	Toucher      Toucher
	Logger       zerolog.Logger
	DBTimeout    time.Duration
	RedisTimeout time.Duration
	Now          func() time.Time
}

func (h Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Status handles GET /api/health.
func (h Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Ready reports readiness based on the shutdown flag and dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !IsReady() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if h.Checker == nil {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	ctx := r.Context()
	dbStatus := "ok"
	if err := h.Checker.PingDB(ctx, h.dbTimeout()); err != nil {
		h.Logger.Warn().Err(err).Msg("readiness: db probe failed")
		dbStatus = "unavailable"
	}
	redisStatus := "ok"
	if err := h.Checker.PingRedis(ctx, h.redisTimeout()); err != nil {
		h.Logger.Warn().Err(err).Msg("readiness: redis probe failed")
		redisStatus = "unavailable"
	}
	status := http.StatusOK
	if dbStatus != "ok" || redisStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"db": dbStatus, "redis": redisStatus})
}

// Ping handles POST /api/cron/ping. It touches the store so hosted databases
// that pause on inactivity stay awake, and always reports success.
func (h Handler) Ping(w http.ResponseWriter, r *http.Request) {
	message := "Ping successful"
	if h.Toucher == nil {
		message = "Ping attempted"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), h.dbTimeout())
		err := h.Toucher.Touch(ctx)
		cancel()
		if err != nil {
			h.Logger.Warn().Err(err).Msg("keep-alive ping failed")
			message = "Ping attempted"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"message":   message,
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h Handler) dbTimeout() time.Duration {
	if h.DBTimeout <= 0 {
		return 500 * time.Millisecond
	}
	return h.DBTimeout
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
