package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/services"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
)

// profileCollection holds the profile submitted at sign-up, keyed by user ID.
const profileCollection = "profiles"

// AuthGuardInterface is the part of services.AuthGuard the auth endpoints use.
type AuthGuardInterface interface {
	SecureSignIn(ctx context.Context, identity, secret string) (*services.SignInResult, error)
	SecureSignUp(ctx context.Context, identity, secret string, profile models.Document) (*services.SignUpResult, error)
	SecureSignOut(ctx context.Context) error
	SecurePasswordChange(ctx context.Context, oldSecret, newSecret string) error
	SetupTwoFactor(ctx context.Context, contact string) (*models.TwoFactorEnrollment, error)
	VerifyTwoFactor(ctx context.Context, enrollmentID, code string) (*models.TwoFactorEnrollment, error)
	GetSessionData(sessionID string) (*models.Session, error)
}

// ProfileWriter persists sign-up profiles.
type ProfileWriter interface {
	Store(ctx context.Context, collection, id string, data models.Document, opts services.WriteOptions) (services.Result[*services.WriteReceipt], error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	guard    AuthGuardInterface
	profiles ProfileWriter
	audit    bool
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler. profiles may be nil, in which
// case sign-up profiles are not persisted.
func NewAuthHandler(guard AuthGuardInterface, profiles ProfileWriter, audit bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{guard: guard, profiles: profiles, audit: audit, logger: logger}
}

// Request DTOs

type SignInRequest struct {
	Email    string `json:"email" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type SignUpRequest struct {
	Email    string          `json:"email" validate:"required,max=254"`
	Password string          `json:"password" validate:"required,max=128"`
	Profile  models.Document `json:"profile"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

type TwoFactorSetupRequest struct {
	Contact string `json:"contact" validate:"max=254"`
}

type TwoFactorVerifyRequest struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
	Code         string `json:"code" validate:"required,len=6,numeric"`
}

// Response DTOs

type SignUpResponse struct {
	Principal *models.Principal   `json:"principal"`
	Profile   *models.AuditOutcome `json:"profile_audit,omitempty"`
}

// SignIn handles POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.guard.SecureSignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// SignUp handles POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.guard.SecureSignUp(r.Context(), req.Email, req.Password, req.Profile)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := SignUpResponse{Principal: result.Principal}
	if h.profiles != nil && len(result.Profile) > 0 {
		stored, err := h.profiles.Store(r.Context(), profileCollection, result.Principal.ID, result.Profile,
			services.WriteOptions{Encrypt: true, Audit: h.audit})
		if err != nil {
			// The account exists at this point, so the profile failure is
			// logged rather than failing the sign-up.
			h.logger.ErrorContext(r.Context(), "failed to store sign-up profile",
				slog.String("user_id", result.Principal.ID),
				slog.Any("error", err),
			)
		} else {
			resp.Profile = &stored.Audit
		}
	}

	pkghttp.WriteJSON(w, http.StatusCreated, resp)
}

// SignOut handles POST /auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.SecureSignOut(r.Context()); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	current, ok := auth.SessionFromContext(r.Context())
	if !ok {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	s, err := h.guard.GetSessionData(current.SessionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, s)
}

// ChangePassword handles POST /auth/password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordChangeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	if err := h.guard.SecurePasswordChange(r.Context(), req.CurrentPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetupTwoFactor handles POST /auth/2fa/setup
func (h *AuthHandler) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorSetupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	enrollment, err := h.guard.SetupTwoFactor(r.Context(), req.Contact)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, enrollment)
}

// VerifyTwoFactor handles POST /auth/2fa/verify
func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req TwoFactorVerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	enrollment, err := h.guard.VerifyTwoFactor(r.Context(), req.EnrollmentID, req.Code)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}
