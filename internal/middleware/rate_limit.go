package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns default rate limit config for auth endpoints (5 requests per minute)
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 5,
	}
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}

// RateLimitByIP limits requests by the client IP resolved by
// auth.RequestInfoMiddleware.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(clientIPKey),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByActor limits authenticated requests per user, falling back to
// the client IP. Use after auth.AuthMiddleware.
func RateLimitByActor(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if actor := auth.ActorFromContext(r.Context()); actor != "" {
				return "actor:" + actor, nil
			}
			return clientIPKey(r)
		}),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func clientIPKey(r *http.Request) (string, error) {
	if ip := auth.RequestInfoFromContext(r.Context()).IPAddress; ip != "" {
		return "ip:" + ip, nil
	}
	return httprate.KeyByRealIP(r)
}
