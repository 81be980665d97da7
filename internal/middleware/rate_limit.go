package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/zifrone/contact/internal/logger"
	"github.com/zifrone/contact/internal/metrics"
	"github.com/zifrone/contact/internal/ratelimit"
)

// KeyFunc derives the limiter identity for a request
type KeyFunc func(r *http.Request) string

// RateLimitConfig configures the rate limit middleware
type RateLimitConfig struct {
	Limiter     ratelimit.Limiter
	MaxRequests int
	Window      time.Duration
	// Scope namespaces identities so routes sharing a store do not share counters
	Scope  string
	Key    KeyFunc
	Logger *slog.Logger
}

// ClientIPKey identifies callers by client address
func ClientIPKey(trustForwarded bool) KeyFunc {
	return func(r *http.Request) string {
		return ratelimit.ClientIP(r.Header, r.RemoteAddr, trustForwarded)
	}
}

// RateLimit rejects callers over the limit with 429 and Retry-After.
// Store failures let the request through.
func RateLimit(cfg RateLimitConfig) func(next http.Handler) http.Handler {
	if cfg.Key == nil {
		cfg.Key = ClientIPKey(false)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limit := strconv.Itoa(cfg.MaxRequests)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := cfg.Key(r)
			if cfg.Scope != "" {
				identity = cfg.Scope + ":" + identity
			}

			decision, err := cfg.Limiter.Check(r.Context(), identity, cfg.MaxRequests, cfg.Window)
			if err != nil {
				logger.WithCorrelationID(r.Context(), cfg.Logger).Warn("rate limit check failed",
					slog.String("scope", cfg.Scope), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			if !decision.Allowed {
				metrics.RateLimitedTotal.Inc()
				writeRateLimitError(w, decision.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int64(math.Ceil(retryAfter.Seconds()))
	if seconds < 0 {
		seconds = 0
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":     false,
		"error":       "Too many requests",
		"retry_after": seconds,
	})
}
