// Package identity is the account backend behind AuthGuard: Postgres users,
// bcrypt password hashes and TOTP second factors.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/models"
	pkgauth "github.com/BradenHooton/careguard/pkg/auth"
	"github.com/BradenHooton/careguard/pkg/logger"
)

// UserStore is the persistence the provider needs for accounts.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkSignedOut(ctx context.Context, id string) error
}

// EnrollmentStore is the persistence the provider needs for TOTP enrollments.
type EnrollmentStore interface {
	Create(ctx context.Context, e *models.TwoFactorEnrollment) error
	Get(ctx context.Context, userID, id string) (*models.TwoFactorEnrollment, error)
	MarkVerified(ctx context.Context, id string, at time.Time) error
}

// TOTP generates and checks sealed TOTP secrets.
type TOTP interface {
	Generate(accountName string) (*auth.TOTPEnrollment, error)
	Validate(secretSealed, code string, at time.Time) (bool, error)
}

// Provider implements sign-in, sign-up and second-factor primitives.
type Provider struct {
	users       UserStore
	enrollments EnrollmentStore
	totp        TOTP
	now         func() time.Time
	logger      *slog.Logger

	// dummyHash is compared against when the identity is unknown so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

func NewProvider(users UserStore, enrollments EnrollmentStore, totp TOTP, now func() time.Time, logger *slog.Logger) (*Provider, error) {
	if now == nil {
		now = time.Now
	}

	dummy, err := pkgauth.HashPassword("careguard-dummy-password-for-timing")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare provider: %w", err)
	}

	return &Provider{
		users:       users,
		enrollments: enrollments,
		totp:        totp,
		now:         now,
		logger:      logger,
		dummyHash:   dummy,
	}, nil
}

// SignIn checks identity and secret and returns the principal.
func (p *Provider) SignIn(ctx context.Context, identity, secret string) (*models.Principal, error) {
	user, err := p.users.GetByEmail(ctx, pkgauth.NormalizeIdentity(identity))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = pkgauth.ComparePassword(p.dummyHash, secret)
			return nil, models.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, secret); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return user.Principal(), nil
}

// SignUp creates an account. Policy checks are the caller's job.
func (p *Provider) SignUp(ctx context.Context, identity, secret, displayName string) (*models.Principal, error) {
	hash, err := pkgauth.HashPassword(secret)
	if err != nil {
		return nil, err
	}

	created, err := p.users.Create(ctx, &models.User{
		Email:        pkgauth.NormalizeIdentity(identity),
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         models.RoleMember,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrIdentityInUse
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	p.logger.Info("account created",
		slog.String("user_id", created.ID),
		slog.String("email", logger.SanitizedEmail(created.Email)),
	)

	return created.Principal(), nil
}

// SignOut records the sign-out of a user.
func (p *Provider) SignOut(ctx context.Context, userID string) error {
	return p.users.MarkSignedOut(ctx, userID)
}

// Reauthenticate confirms that secret is the current password of userID.
func (p *Provider) Reauthenticate(ctx context.Context, userID, secret string) error {
	user, err := p.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidCredentials
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, secret); err != nil {
		return models.ErrInvalidCredentials
	}
	return nil
}

func (p *Provider) UpdatePassword(ctx context.Context, userID, newSecret string) error {
	hash, err := pkgauth.HashPassword(newSecret)
	if err != nil {
		return err
	}
	return p.users.UpdatePasswordHash(ctx, userID, hash)
}

// EnrollTwoFactor starts a TOTP enrollment delivered to contact.
func (p *Provider) EnrollTwoFactor(ctx context.Context, principal *models.Principal, contact string) (*models.TwoFactorEnrollment, error) {
	account := contact
	if account == "" {
		account = principal.Email
	}

	generated, err := p.totp.Generate(account)
	if err != nil {
		return nil, err
	}

	enrollment := &models.TwoFactorEnrollment{
		UserID:       principal.ID,
		Contact:      account,
		SecretSealed: generated.SecretSealed,
	}
	if err := p.enrollments.Create(ctx, enrollment); err != nil {
		return nil, err
	}

	enrollment.ProvisioningURI = generated.ProvisioningURI
	enrollment.QRCode = generated.QRCodeDataURL
	return enrollment, nil
}

// VerifyTwoFactor confirms an enrollment with a code from the user's app.
func (p *Provider) VerifyTwoFactor(ctx context.Context, principal *models.Principal, enrollmentID, code string) (*models.TwoFactorEnrollment, error) {
	enrollment, err := p.enrollments.Get(ctx, principal.ID, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment.IsVerified() {
		return enrollment, nil
	}

	now := p.now()
	valid, err := p.totp.Validate(enrollment.SecretSealed, code, now)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, models.ErrInvalidCode
	}

	if err := p.enrollments.MarkVerified(ctx, enrollment.ID, now); err != nil {
		return nil, err
	}
	enrollment.VerifiedAt = &now
	return enrollment, nil
}
