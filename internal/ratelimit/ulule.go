package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// NewRedisStore builds a fixed-window limiter store on Redis.
func NewRedisStore(client limiterredis.Client, prefix string) (limiter.Store, error) {
	return limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix, MaxRetry: 3})
}

// ConnectGuard throttles connection attempts, such as websocket upgrades,
// using a formatted rate like "30-M".
type ConnectGuard struct {
	limiter *limiter.Limiter
	key     func(*http.Request) string
	logger  zerolog.Logger
}

// NewConnectGuard parses rate and binds it to store.
func NewConnectGuard(store limiter.Store, rate string, key func(*http.Request) string, logger zerolog.Logger) (*ConnectGuard, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	if key == nil {
		key = ByClientIP("")
	}
	return &ConnectGuard{limiter: limiter.New(store, parsed), key: key, logger: logger}, nil
}

// Reached consumes one attempt for the request and reports whether the limit was exceeded.
func (g *ConnectGuard) Reached(ctx context.Context, r *http.Request) (limiter.Context, error) {
	return g.limiter.Get(ctx, g.key(r))
}

// Middleware rejects over-limit attempts with 429 before they reach next.
func (g *ConnectGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, err := g.Reached(r.Context(), r)
		if err != nil {
			g.logger.Warn().Err(err).Msg("connect rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
		h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset, 10))
		if res.Reached {
			retry := time.Until(time.Unix(res.Reset, 0)).Seconds()
			if retry < 0 {
				retry = 0
			}
			h.Set("Retry-After", strconv.Itoa(int(retry)))
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
