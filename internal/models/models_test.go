package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockoutRecord_Expiry(t *testing.T) {
	lockedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := &LockoutRecord{Identity: "a@example.com", LockedAt: lockedAt}

	assert.False(t, l.Expired(lockedAt.Add(15*time.Minute), 15*time.Minute))
	assert.True(t, l.Expired(lockedAt.Add(15*time.Minute+time.Second), 15*time.Minute))
	assert.Equal(t, 5*time.Minute, l.Remaining(lockedAt.Add(10*time.Minute), 15*time.Minute))
	assert.Zero(t, l.Remaining(lockedAt.Add(time.Hour), 15*time.Minute))
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &LockoutError{Identity: "a@example.com", RetryAfter: 90 * time.Second}
	assert.True(t, errors.Is(err, ErrAccountLocked))
	assert.Contains(t, err.Error(), "1m30s")

	err = fmt.Errorf("sign up: %w", &ValidationError{Field: "password", Reasons: []string{"too short"}})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "too short")

	assert.True(t, errors.Is(ErrInvalidCredentials, ErrUnauthorized))
	assert.True(t, errors.Is(ErrNotSignedIn, ErrUnauthorized))
	assert.True(t, errors.Is(ErrIdentityInUse, ErrConflict))
	assert.False(t, errors.Is(ErrTwoFactorDisabled, ErrUnauthorized))
}

func TestRecommendedActions(t *testing.T) {
	high := RecommendedActions(SeverityHigh)
	assert.Len(t, high, 3)

	high[0] = "mutated"
	assert.NotEqual(t, "mutated", RecommendedActions(SeverityHigh)[0])

	assert.NotEmpty(t, RecommendedActions(SeverityLow))
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
}

func TestSecurityEvent_System(t *testing.T) {
	assert.True(t, (&SecurityEvent{Type: EventRapidFire}).System())
	assert.False(t, (&SecurityEvent{Type: EventDataAccess}).System())
	assert.Equal(t, EventLoginFailed, LoginFailed{}.EventType())
}

func TestSession_Clone(t *testing.T) {
	s := &Session{SessionID: "s1", Extra: map[string]string{"device": "tablet"}}
	c := s.Clone()
	c.Extra["device"] = "phone"
	assert.Equal(t, "tablet", s.Extra["device"])
}

func TestAuditDetails_ScanValue(t *testing.T) {
	d := AuditDetails{"count": 3}
	raw, err := d.Value()
	assert.NoError(t, err)

	var back AuditDetails
	assert.NoError(t, back.Scan(raw))
	assert.Equal(t, float64(3), back["count"])

	assert.NoError(t, back.Scan(nil))
	assert.Empty(t, back)
	assert.Error(t, back.Scan(42))
}
