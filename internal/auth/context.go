package auth

import (
	"context"

	"github.com/BradenHooton/careguard/internal/models"
)

type contextKey string

const (
	sessionContextKey contextKey = "session"
	requestContextKey contextKey = "request_info"
)

// RequestInfo describes the caller of the current request.
type RequestInfo struct {
	IPAddress string
	UserAgent string
	RequestID string
	// Location is the coarse viewer location reported by the edge, if any.
	Location string
}

func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestContextKey, info)
}

func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestContextKey).(RequestInfo)
	return info
}

// WithSession attaches the authenticated session to ctx.
func WithSession(ctx context.Context, s *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext returns the session of the signed-in caller, if any.
func SessionFromContext(ctx context.Context) (*models.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*models.Session)
	return s, ok && s != nil
}

// ActorFromContext returns the user ID of the signed-in caller or "".
func ActorFromContext(ctx context.Context) string {
	if s, ok := SessionFromContext(ctx); ok {
		return s.UserID
	}
	return ""
}
