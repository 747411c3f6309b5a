package routes

import (
	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/handlers"
	"github.com/BradenHooton/careguard/internal/middleware"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/go-chi/chi/v5"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Auth     *handlers.AuthHandler
	Records  *handlers.RecordHandler
	Security *handlers.SecurityHandler
	Audit    *handlers.AuditHandler
}

// Options configures the protective middleware of the API.
type Options struct {
	Sessions auth.SessionValidator
	Events   middleware.EventLogger
	// RateLimiting disables both limiters when false.
	RateLimiting   bool
	RequestsPerMin int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, opts Options) {
	authLimit := middleware.DefaultAuthRateLimit()
	actorLimit := middleware.RateLimitConfig{RequestsPerMinute: opts.RequestsPerMin}

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		if opts.RateLimiting {
			r.Use(middleware.RateLimitByIP(authLimit))
		}
		r.Post("/auth/sign-in", h.Auth.SignIn)
		r.Post("/auth/sign-up", h.Auth.SignUp)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(opts.Sessions))
		if opts.RateLimiting && opts.RequestsPerMin > 0 {
			r.Use(middleware.RateLimitByActor(actorLimit))
		}
		r.Use(middleware.RecordAPICalls(opts.Events))

		r.Get("/auth/session", h.Auth.Session)
		r.Post("/auth/sign-out", h.Auth.SignOut)
		r.Post("/auth/password", h.Auth.ChangePassword)
		r.Post("/auth/2fa/setup", h.Auth.SetupTwoFactor)
		r.Post("/auth/2fa/verify", h.Auth.VerifyTwoFactor)

		r.Post("/records/batch", h.Records.Batch)
		r.Post("/records/anonymize", h.Records.Anonymize)
		r.Route("/records/{collection}", func(r chi.Router) {
			r.Post("/query", h.Records.Query)
			r.With(auth.RequireRole(models.RoleAdmin)).Post("/cleanup", h.Records.Cleanup)
			r.Put("/{id}", h.Records.Store)
			r.Get("/{id}", h.Records.Fetch)
			r.Patch("/{id}", h.Records.Update)
			r.Delete("/{id}", h.Records.Remove)
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))

			r.Get("/security/alerts", h.Security.ListAlerts)
			r.Post("/security/alerts/{id}/dismiss", h.Security.DismissAlert)
			r.Get("/security/threats", h.Security.ListThreats)
			r.Get("/security/threats/{id}", h.Security.GetThreat)
			r.Post("/security/threats/{id}/resolve", h.Security.ResolveThreat)
			r.Get("/security/events", h.Security.RecentEvents)
			r.Post("/security/scan", h.Security.RunScan)

			r.Get("/audit/records/{collection}/{id}", h.Audit.RecordTrail)
			r.Get("/audit/actors/{actor}", h.Audit.ActorTrail)
		})
	})
}
