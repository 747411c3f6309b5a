package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AttemptRecord counts consecutive failed sign-ins for one identity.
type AttemptRecord struct {
	Identity       string
	Count          int
	FirstAttemptAt time.Time
	LastAttemptAt  time.Time
}

// LockoutRecord marks an identity as locked. It expires lazily on the next
// check once the lockout duration has passed.
type LockoutRecord struct {
	Identity string
	LockedAt time.Time
	Reason   string
}

// Expired reports whether the lockout no longer applies at now.
func (l *LockoutRecord) Expired(now time.Time, duration time.Duration) bool {
	return now.Sub(l.LockedAt) > duration
}

// Remaining returns how long the lockout still applies at now.
func (l *LockoutRecord) Remaining(now time.Time, duration time.Duration) time.Duration {
	left := duration - now.Sub(l.LockedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Session is an authenticated session tracked in memory by AuthGuard.
type Session struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	Email     string            `json:"email"`
	Role      string            `json:"role"`
	LoginTime time.Time         `json:"login_time"`
	ExpiresAt time.Time         `json:"expires_at"`
	UserAgent string            `json:"user_agent,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Clone returns a copy safe to hand out of the registry.
func (s *Session) Clone() *Session {
	c := *s
	if s.Extra != nil {
		c.Extra = make(map[string]string, len(s.Extra))
		for k, v := range s.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// TokenClaims are the claims of a session token.
type TokenClaims struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	jwt.RegisteredClaims
}
