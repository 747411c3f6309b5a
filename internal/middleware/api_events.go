package middleware

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// EventLogger is the sink of API_CALL events.
type EventLogger interface {
	LogSecurityEvent(ctx context.Context, payload models.EventPayload) *models.SecurityEvent
}

type actorSlotKey struct{}

// actorSlot carries the authenticated user back up to SecureLogger.
type actorSlot struct {
	id atomic.Value
}

func (s *actorSlot) set(id string) { s.id.Store(id) }

func (s *actorSlot) get() string {
	id, _ := s.id.Load().(string)
	return id
}

func withActorSlot(ctx context.Context, s *actorSlot) context.Context {
	return context.WithValue(ctx, actorSlotKey{}, s)
}

func actorSlotFrom(ctx context.Context) *actorSlot {
	s, _ := ctx.Value(actorSlotKey{}).(*actorSlot)
	return s
}

// RecordAPICalls logs an API_CALL security event for every authenticated
// request, keyed by the chi route pattern so IDs in the path do not split
// the counts. Use after auth.AuthMiddleware.
func RecordAPICalls(events EventLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slot := actorSlotFrom(r.Context()); slot != nil {
				slot.set(auth.ActorFromContext(r.Context()))
			}

			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			status := wrapped.Status()
			if status == 0 {
				status = http.StatusOK
			}
			events.LogSecurityEvent(r.Context(), models.APICall{
				Method: r.Method,
				Path:   routePattern(r),
				Status: status,
			})
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
