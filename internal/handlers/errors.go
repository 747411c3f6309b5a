package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/careguard/internal/models"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/BradenHooton/careguard/pkg/vault"
	"github.com/go-chi/chi/v5/middleware"
)

// writeServiceError maps service errors onto HTTP replies. Anything not
// recognised is logged and answered with a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validationErr *models.ValidationError
		lockoutErr    *models.LockoutError
	)

	switch {
	case errors.As(err, &validationErr):
		pkghttp.WriteValidationError(w, validationErr.Error(), validationErr.Reasons)
	case errors.As(err, &lockoutErr):
		pkghttp.WriteLocked(w, "too many failed sign-in attempts", lockoutErr.RetryAfter)
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, "account is temporarily locked", 0)
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteUnauthorized(w, "session expired")
	case errors.Is(err, models.ErrInvalidCode):
		pkghttp.WriteUnauthorized(w, "invalid verification code")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "authentication failed")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "insufficient permissions")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "resource already exists")
	case errors.Is(err, models.ErrTwoFactorDisabled):
		pkghttp.WriteUnprocessable(w, "two_factor_disabled", "two-factor authentication is not enabled")
	case errors.Is(err, vault.ErrDecryption):
		pkghttp.WriteUnprocessable(w, "decryption_failed", "stored record could not be decrypted")
	default:
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err),
		)
		pkghttp.WriteInternalError(w, "internal server error")
	}
}
