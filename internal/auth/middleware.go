package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/careguard/internal/models"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/chi/v5/middleware"
)

// locationHeader is set by CloudFront when viewer location headers are
// enabled on the distribution.
const locationHeader = "CloudFront-Viewer-Country"

// SessionValidator resolves a bearer token to a live session.
type SessionValidator interface {
	ValidateSessionToken(ctx context.Context, token string) (*models.Session, error)
}

// RequestInfoMiddleware stores client IP, user agent and request ID in the
// request context. It must run after chi's RequestID middleware.
func RequestInfoMiddleware(ipConfig *pkghttp.IPConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := pkghttp.ExtractClientInfo(r, ipConfig)
			ctx := WithRequestInfo(r.Context(), RequestInfo{
				IPAddress: client.IPAddress,
				UserAgent: client.UserAgent,
				RequestID: middleware.GetReqID(r.Context()),
				Location:  r.Header.Get(locationHeader),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthMiddleware requires a valid session token and injects the session
// into the request context.
func AuthMiddleware(v SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			session, err := v.ValidateSessionToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, models.ErrSessionExpired) {
					pkghttp.WriteUnauthorized(w, "session expired")
					return
				}
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// RequireRole rejects sessions whose role is not role. Use after
// AuthMiddleware.
func RequireRole(role string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, ok := SessionFromContext(r.Context())
			if !ok {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if s.Role != role {
				pkghttp.WriteForbidden(w, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
