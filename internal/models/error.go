package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountLocked = errors.New("account is temporarily locked")
)

// Auth errors surfaced by AuthGuard
var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthorized)
	ErrNotSignedIn        = fmt.Errorf("%w: no user is signed in", ErrUnauthorized)
	ErrSessionExpired     = fmt.Errorf("%w: session expired", ErrUnauthorized)
	ErrInvalidCode        = fmt.Errorf("%w: invalid verification code", ErrUnauthorized)
	ErrTwoFactorDisabled  = errors.New("two-factor authentication is not enabled")
	ErrIdentityInUse      = fmt.Errorf("%w: email already registered", ErrConflict)
)

// ValidationError carries the field that failed and what the caller should
// change.
type ValidationError struct {
	Field   string
	Reasons []string
}

func (e *ValidationError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, strings.Join(e.Reasons, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// LockoutError is returned while an identity is locked out.
type LockoutError struct {
	Identity   string
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("account is temporarily locked, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrAccountLocked
}
