package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/background"
	"github.com/BradenHooton/careguard/internal/models"
	pkgauth "github.com/BradenHooton/careguard/pkg/auth"
	"github.com/BradenHooton/careguard/pkg/logger"
	"github.com/BradenHooton/careguard/pkg/vault"
)

const sessionIDLength = 48

// IdentityProvider is the account backend AuthGuard hardens.
type IdentityProvider interface {
	SignIn(ctx context.Context, identity, secret string) (*models.Principal, error)
	SignUp(ctx context.Context, identity, secret, displayName string) (*models.Principal, error)
	SignOut(ctx context.Context, userID string) error
	Reauthenticate(ctx context.Context, userID, secret string) error
	UpdatePassword(ctx context.Context, userID, newSecret string) error
	EnrollTwoFactor(ctx context.Context, principal *models.Principal, contact string) (*models.TwoFactorEnrollment, error)
	VerifyTwoFactor(ctx context.Context, principal *models.Principal, enrollmentID, code string) (*models.TwoFactorEnrollment, error)
}

// SessionTokens signs and verifies session tokens.
type SessionTokens interface {
	IssueSessionToken(s *models.Session) (string, error)
	ValidateToken(token string) (*models.TokenClaims, error)
}

// ProfileEncryptor seals the sensitive fields of a profile.
type ProfileEncryptor interface {
	EncryptFields(doc map[string]any, fields []string) (map[string]any, error)
	SensitiveFields() []string
}

// AuthGuardConfig holds the lockout, session and feature settings.
type AuthGuardConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
	SessionTimeout   time.Duration
	TwoFactorAuth    bool
	DataEncryption   bool
}

// AuthGuardDeps are the collaborators of an AuthGuard. Delay and Audit are
// optional.
type AuthGuardDeps struct {
	Provider  IdentityProvider
	Tokens    SessionTokens
	Encryptor ProfileEncryptor
	Events    SecurityEventLogger
	Scheduler background.Scheduler
	Delay     *auth.TimingDelay
	Audit     *logger.AuditLogger
}

// SignInResult is returned by a successful sign-in.
type SignInResult struct {
	Principal *models.Principal `json:"principal"`
	Session   *models.Session   `json:"session"`
	Token     string            `json:"token"`
}

// SignUpResult carries the new principal and the profile as it should be
// stored, with sensitive fields sealed when encryption is on.
type SignUpResult struct {
	Principal *models.Principal `json:"principal"`
	Profile   models.Document   `json:"-"`
}

type sessionEntry struct {
	session *models.Session
	timer   background.Timer
}

// AuthGuard coordinates sign-in, lockouts and the session registry around
// an IdentityProvider.
type AuthGuard struct {
	cfg       AuthGuardConfig
	provider  IdentityProvider
	tokens    SessionTokens
	encryptor ProfileEncryptor
	events    SecurityEventLogger
	scheduler background.Scheduler
	delay     *auth.TimingDelay
	audit     *logger.AuditLogger
	logger    *slog.Logger

	mu       sync.Mutex
	attempts map[string]*models.AttemptRecord
	lockouts map[string]*models.LockoutRecord
	sessions map[string]*sessionEntry
	// active maps a user to the session of their most recent sign-in
	active map[string]string
	closed bool
}

func NewAuthGuard(cfg AuthGuardConfig, deps AuthGuardDeps, logger *slog.Logger) *AuthGuard {
	return &AuthGuard{
		cfg:       cfg,
		provider:  deps.Provider,
		tokens:    deps.Tokens,
		encryptor: deps.Encryptor,
		events:    deps.Events,
		scheduler: deps.Scheduler,
		delay:     deps.Delay,
		audit:     deps.Audit,
		logger:    logger,
		attempts:  make(map[string]*models.AttemptRecord),
		lockouts:  make(map[string]*models.LockoutRecord),
		sessions:  make(map[string]*sessionEntry),
		active:    make(map[string]string),
	}
}

// SecureSignIn signs an identity in unless it is locked out. Failed
// credentials count towards the lockout; reaching MaxLoginAttempts locks
// the identity for LockoutDuration.
func (g *AuthGuard) SecureSignIn(ctx context.Context, identity, secret string) (*SignInResult, error) {
	start := time.Now()
	identity = pkgauth.NormalizeIdentity(identity)
	if identity == "" || secret == "" {
		return nil, &models.ValidationError{Field: "credentials", Reasons: []string{"email and password are required"}}
	}

	now := g.scheduler.Now()

	g.mu.Lock()
	if lock, ok := g.lockouts[identity]; ok {
		if !lock.Expired(now, g.cfg.LockoutDuration) {
			remaining := lock.Remaining(now, g.cfg.LockoutDuration)
			g.mu.Unlock()
			g.logAttempt(ctx, identity, "", false, "account locked")
			return nil, &models.LockoutError{Identity: identity, RetryAfter: remaining}
		}
		delete(g.lockouts, identity)
	}
	if rec, ok := g.attempts[identity]; ok && rec.Count >= g.cfg.MaxLoginAttempts {
		g.lockouts[identity] = &models.LockoutRecord{Identity: identity, LockedAt: now, Reason: "too many failed sign-in attempts"}
		delete(g.attempts, identity)
		count := rec.Count
		g.mu.Unlock()
		g.announceLockout(ctx, identity, count, "too many failed sign-in attempts")
		return nil, &models.LockoutError{Identity: identity, RetryAfter: g.cfg.LockoutDuration}
	}
	g.mu.Unlock()

	principal, err := g.provider.SignIn(ctx, identity, secret)
	if err != nil {
		if !errors.Is(err, models.ErrUnauthorized) {
			g.logger.ErrorContext(ctx, "identity provider sign-in failed", slog.Any("error", err))
			return nil, fmt.Errorf("sign-in failed: %w", err)
		}
		g.recordFailure(ctx, identity, now)
		g.delay.WaitFrom(ctx, start)
		return nil, models.ErrInvalidCredentials
	}

	sessionID, err := vault.GenerateSecureToken(sessionIDLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	info := auth.RequestInfoFromContext(ctx)
	session := &models.Session{
		SessionID: sessionID,
		UserID:    principal.ID,
		Email:     principal.Email,
		Role:      principal.Role,
		LoginTime: now,
		ExpiresAt: now.Add(g.cfg.SessionTimeout),
		UserAgent: info.UserAgent,
		IPAddress: info.IPAddress,
	}
	if info.Location != "" {
		session.Extra = map[string]string{"location": info.Location}
	}

	token, err := g.tokens.IssueSessionToken(session)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: auth guard is shut down", models.ErrInternalServer)
	}
	if lock, ok := g.lockouts[identity]; ok {
		if current := g.scheduler.Now(); !lock.Expired(current, g.cfg.LockoutDuration) {
			remaining := lock.Remaining(current, g.cfg.LockoutDuration)
			g.mu.Unlock()
			g.logAttempt(ctx, identity, principal.ID, false, "account locked")
			return nil, &models.LockoutError{Identity: identity, RetryAfter: remaining}
		}
	}
	delete(g.attempts, identity)
	entry := &sessionEntry{session: session}
	g.sessions[sessionID] = entry
	g.active[principal.ID] = sessionID
	entry.timer = g.scheduler.AfterFunc(g.cfg.SessionTimeout, func() { g.expireSession(sessionID) })
	result := &SignInResult{Principal: principal, Session: session.Clone(), Token: token}
	g.mu.Unlock()

	g.logAttempt(ctx, identity, principal.ID, true, "")
	g.events.LogSecurityEvent(ctx, models.LoginSucceeded{
		Identity: identity,
		UserID:   principal.ID,
		Location: info.Location,
	})

	return result, nil
}

// recordFailure counts a credential failure. A failure that lands while the
// identity is already locked is logged but not counted.
func (g *AuthGuard) recordFailure(ctx context.Context, identity string, now time.Time) {
	g.mu.Lock()
	if lock, ok := g.lockouts[identity]; ok && !lock.Expired(g.scheduler.Now(), g.cfg.LockoutDuration) {
		g.mu.Unlock()
		g.logAttempt(ctx, identity, "", false, "invalid credentials")
		g.events.LogSecurityEvent(ctx, models.LoginFailed{Identity: identity, Reason: "invalid credentials"})
		return
	}
	rec, ok := g.attempts[identity]
	if !ok {
		rec = &models.AttemptRecord{Identity: identity, FirstAttemptAt: now}
		g.attempts[identity] = rec
	}
	rec.Count++
	rec.LastAttemptAt = now
	count := rec.Count

	locked := count >= g.cfg.MaxLoginAttempts
	if locked {
		g.lockouts[identity] = &models.LockoutRecord{Identity: identity, LockedAt: now, Reason: "too many failed sign-in attempts"}
		delete(g.attempts, identity)
	}
	g.mu.Unlock()

	g.logAttempt(ctx, identity, "", false, "invalid credentials")
	g.events.LogSecurityEvent(ctx, models.LoginFailed{Identity: identity, Reason: "invalid credentials"})

	if locked {
		g.announceLockout(ctx, identity, count, "too many failed sign-in attempts")
	}
}

func (g *AuthGuard) announceLockout(ctx context.Context, identity string, attempts int, reason string) {
	if g.audit != nil {
		g.audit.LogLockout(ctx, identity, attempts, g.cfg.LockoutDuration)
	}
	g.events.LogSecurityEvent(ctx, models.AccountLocked{Identity: identity, Attempts: attempts, Reason: reason})
}

func (g *AuthGuard) logAttempt(ctx context.Context, identity, userID string, success bool, reason string) {
	if g.audit == nil {
		return
	}
	info := auth.RequestInfoFromContext(ctx)
	g.audit.LogAuthAttempt(ctx, logger.AuthAttempt{
		Action:    "sign_in",
		Identity:  identity,
		UserID:    userID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Success:   success,
		Reason:    reason,
	})
}

// SecureSignUp validates the identity and secret, creates the account and
// returns the profile with its sensitive fields sealed.
func (g *AuthGuard) SecureSignUp(ctx context.Context, identity, secret string, profile models.Document) (*SignUpResult, error) {
	identity = pkgauth.NormalizeIdentity(identity)

	if err := pkgauth.ValidateIdentity(identity); err != nil {
		return nil, asValidationError(err)
	}
	if err := pkgauth.ValidatePassword(secret); err != nil {
		return nil, asValidationError(err)
	}

	displayName, _ := profile["display_name"].(string)

	principal, err := g.provider.SignUp(ctx, identity, secret, displayName)
	if err != nil {
		return nil, err
	}

	sealed := profile.Clone()
	if g.cfg.DataEncryption && g.encryptor != nil {
		out, err := g.encryptor.EncryptFields(sealed, g.encryptor.SensitiveFields())
		if err != nil {
			return nil, fmt.Errorf("failed to seal profile: %w", err)
		}
		sealed = out
	}

	if g.audit != nil {
		info := auth.RequestInfoFromContext(ctx)
		g.audit.LogAuthAttempt(ctx, logger.AuthAttempt{
			Action:    "sign_up",
			Identity:  identity,
			UserID:    principal.ID,
			IPAddress: info.IPAddress,
			UserAgent: info.UserAgent,
			Success:   true,
		})
	}
	g.events.LogSecurityEvent(ctx, models.AccountCreated{UserID: principal.ID, Identity: identity})

	return &SignUpResult{Principal: principal, Profile: sealed}, nil
}

// SecureSignOut clears the caller's session and signs them out at the
// provider.
func (g *AuthGuard) SecureSignOut(ctx context.Context) error {
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return models.ErrNotSignedIn
	}

	g.mu.Lock()
	g.removeSessionLocked(s.SessionID)
	g.mu.Unlock()

	if err := g.provider.SignOut(ctx, s.UserID); err != nil {
		return fmt.Errorf("sign-out failed: %w", err)
	}

	if g.audit != nil {
		g.audit.LogAuthAttempt(ctx, logger.AuthAttempt{Action: "sign_out", UserID: s.UserID, Success: true})
	}
	g.events.LogSecurityEvent(ctx, models.SignedOut{UserID: s.UserID, SessionID: s.SessionID})
	return nil
}

// removeSessionLocked stops the timer of a session and drops it from the
// registry. It reports whether the session was the user's active one.
func (g *AuthGuard) removeSessionLocked(sessionID string) (*models.Session, bool) {
	entry, ok := g.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(g.sessions, sessionID)

	wasActive := g.active[entry.session.UserID] == sessionID
	if wasActive {
		delete(g.active, entry.session.UserID)
	}
	return entry.session, wasActive
}

// expireSession runs when a session timer fires. Only the user's active
// session triggers a provider sign-out; a session already gone is a no-op.
func (g *AuthGuard) expireSession(sessionID string) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	session, wasActive := g.removeSessionLocked(sessionID)
	g.mu.Unlock()

	if session == nil {
		return
	}

	ctx := context.Background()
	g.events.LogSecurityEvent(ctx, models.SessionExpired{UserID: session.UserID, SessionID: sessionID})

	if !wasActive {
		return
	}
	if err := g.provider.SignOut(ctx, session.UserID); err != nil {
		g.logger.Error("sign-out after session timeout failed",
			slog.String("user_id", session.UserID),
			slog.Any("error", err),
		)
	}
}

func principalOf(s *models.Session) *models.Principal {
	return &models.Principal{ID: s.UserID, Email: s.Email, Role: s.Role}
}

// SetupTwoFactor starts a TOTP enrollment for the signed-in user.
func (g *AuthGuard) SetupTwoFactor(ctx context.Context, contact string) (*models.TwoFactorEnrollment, error) {
	if !g.cfg.TwoFactorAuth {
		return nil, models.ErrTwoFactorDisabled
	}
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return nil, models.ErrNotSignedIn
	}

	enrollment, err := g.provider.EnrollTwoFactor(ctx, principalOf(s), strings.TrimSpace(contact))
	if err != nil {
		return nil, err
	}

	g.events.LogSecurityEvent(ctx, models.TwoFactorEnrolled{UserID: s.UserID, EnrollmentID: enrollment.ID})
	return enrollment, nil
}

// VerifyTwoFactor confirms an enrollment of the signed-in user.
func (g *AuthGuard) VerifyTwoFactor(ctx context.Context, enrollmentID, code string) (*models.TwoFactorEnrollment, error) {
	if !g.cfg.TwoFactorAuth {
		return nil, models.ErrTwoFactorDisabled
	}
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return nil, models.ErrNotSignedIn
	}

	enrollment, err := g.provider.VerifyTwoFactor(ctx, principalOf(s), enrollmentID, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}

	g.events.LogSecurityEvent(ctx, models.TwoFactorVerified{UserID: s.UserID, EnrollmentID: enrollment.ID})
	return enrollment, nil
}

// SecurePasswordChange re-authenticates the signed-in user with oldSecret
// before replacing it with newSecret.
func (g *AuthGuard) SecurePasswordChange(ctx context.Context, oldSecret, newSecret string) error {
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return models.ErrNotSignedIn
	}

	if err := g.provider.Reauthenticate(ctx, s.UserID, oldSecret); err != nil {
		g.logPasswordChange(ctx, s.UserID, false)
		if errors.Is(err, models.ErrUnauthorized) {
			return models.ErrInvalidCredentials
		}
		return fmt.Errorf("re-authentication failed: %w", err)
	}

	if err := pkgauth.ValidatePassword(newSecret); err != nil {
		return asValidationError(err)
	}
	if newSecret == oldSecret {
		return &models.ValidationError{Field: "password", Reasons: []string{"must differ from the current password"}}
	}

	if err := g.provider.UpdatePassword(ctx, s.UserID, newSecret); err != nil {
		g.logPasswordChange(ctx, s.UserID, false)
		return fmt.Errorf("password update failed: %w", err)
	}

	g.logPasswordChange(ctx, s.UserID, true)
	g.events.LogSecurityEvent(ctx, models.PasswordChanged{UserID: s.UserID})
	return nil
}

func (g *AuthGuard) logPasswordChange(ctx context.Context, userID string, success bool) {
	if g.audit != nil {
		g.audit.LogPasswordChange(ctx, userID, success)
	}
}

// IsSessionValid reports whether sessionID is registered and not past its
// deadline.
func (g *AuthGuard) IsSessionValid(sessionID string) bool {
	now := g.scheduler.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.sessions[sessionID]
	return ok && now.Before(entry.session.ExpiresAt)
}

// GetSessionData returns a copy of a live session.
func (g *AuthGuard) GetSessionData(sessionID string) (*models.Session, error) {
	now := g.scheduler.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.sessions[sessionID]
	if !ok || !now.Before(entry.session.ExpiresAt) {
		return nil, models.ErrSessionExpired
	}
	return entry.session.Clone(), nil
}

// ValidateSessionToken resolves a bearer token to its live session. A token
// presented by a different client than the one that signed in is reported
// as a SESSION_ANOMALY and rejected.
func (g *AuthGuard) ValidateSessionToken(ctx context.Context, token string) (*models.Session, error) {
	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}

	session, err := g.GetSessionData(claims.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != claims.UserID {
		return nil, models.ErrUnauthorized
	}

	info := auth.RequestInfoFromContext(ctx)
	if session.UserAgent != "" && info.UserAgent != "" && info.UserAgent != session.UserAgent {
		g.logger.WarnContext(ctx, "session token presented by a different client",
			slog.String("user_id", session.UserID),
			slog.String("ip_address", info.IPAddress),
		)
		g.events.LogSecurityEvent(ctx, models.SessionAnomaly{
			UserID:    session.UserID,
			SessionID: session.SessionID,
			Reason:    "user agent changed",
		})
		return nil, fmt.Errorf("%w: session used from a different client", models.ErrUnauthorized)
	}

	return session, nil
}

// LockIdentity locks identity for the lockout duration. An identity that is
// already locked keeps its original lock time.
func (g *AuthGuard) LockIdentity(ctx context.Context, identity, reason string) error {
	identity = pkgauth.NormalizeIdentity(identity)
	if identity == "" {
		return &models.ValidationError{Field: "identity", Reasons: []string{"is required"}}
	}
	now := g.scheduler.Now()

	g.mu.Lock()
	if lock, ok := g.lockouts[identity]; ok && !lock.Expired(now, g.cfg.LockoutDuration) {
		g.mu.Unlock()
		return nil
	}
	g.lockouts[identity] = &models.LockoutRecord{Identity: identity, LockedAt: now, Reason: reason}
	delete(g.attempts, identity)
	g.mu.Unlock()

	g.announceLockout(ctx, identity, 0, reason)
	return nil
}

// ForceSignOut ends every session of userID and signs the user out at the
// provider. It returns the number of sessions ended.
func (g *AuthGuard) ForceSignOut(ctx context.Context, userID, reason string) (int, error) {
	g.mu.Lock()
	ids := make([]string, 0)
	for id, entry := range g.sessions {
		if entry.session.UserID == userID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		g.removeSessionLocked(id)
	}
	g.mu.Unlock()

	if err := g.provider.SignOut(ctx, userID); err != nil {
		return len(ids), fmt.Errorf("forced sign-out failed: %w", err)
	}

	g.logger.WarnContext(ctx, "forced sign-out",
		slog.String("user_id", userID),
		slog.Int("sessions", len(ids)),
		slog.String("reason", reason),
	)
	g.events.LogSecurityEvent(ctx, models.ForcedSignOut{UserID: userID, Sessions: len(ids), Reason: reason})
	return len(ids), nil
}

// AttemptCount returns the current failed attempt count of identity.
func (g *AuthGuard) AttemptCount(identity string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rec, ok := g.attempts[pkgauth.NormalizeIdentity(identity)]; ok {
		return rec.Count
	}
	return 0
}

// IsLocked reports whether identity is locked out right now.
func (g *AuthGuard) IsLocked(identity string) bool {
	now := g.scheduler.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.lockouts[pkgauth.NormalizeIdentity(identity)]
	return ok && !lock.Expired(now, g.cfg.LockoutDuration)
}

// ActiveSessions returns the number of registered sessions.
func (g *AuthGuard) ActiveSessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// Close stops every session timer and drops all sessions.
func (g *AuthGuard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	for id, entry := range g.sessions {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(g.sessions, id)
	}
	g.active = make(map[string]string)
}

func asValidationError(err error) error {
	var pe *pkgauth.PolicyError
	if errors.As(err, &pe) {
		return &models.ValidationError{Field: pe.Field, Reasons: pe.Reasons}
	}
	return err
}
