package models

import (
	"time"
)

type EventType string

const (
	EventLoginSuccess      EventType = "LOGIN_SUCCESS"
	EventLoginFailed       EventType = "LOGIN_FAILED"
	EventAccountLocked     EventType = "ACCOUNT_LOCKED"
	EventAccountCreated    EventType = "ACCOUNT_CREATED"
	EventSignOut           EventType = "SIGN_OUT"
	EventSessionExpired    EventType = "SESSION_EXPIRED"
	EventForcedSignOut     EventType = "FORCED_SIGN_OUT"
	EventPasswordChanged   EventType = "PASSWORD_CHANGED"
	EventTwoFactorEnrolled EventType = "TWO_FACTOR_ENROLLED"
	EventTwoFactorVerified EventType = "TWO_FACTOR_VERIFIED"
	EventDataAccess        EventType = "DATA_ACCESS"
	EventDataModified      EventType = "DATA_MODIFIED"
	EventAPICall           EventType = "API_CALL"
	EventSessionAnomaly    EventType = "SESSION_ANOMALY"
	EventSessionTimeout    EventType = "SESSION_TIMEOUT"
	EventRapidFire         EventType = "RAPID_FIRE_DETECTED"
	EventServiceUnhealthy  EventType = "SERVICE_UNHEALTHY"
)

// EventPayload is the typed body of a SecurityEvent. Each event type has
// exactly one payload struct.
type EventPayload interface {
	EventType() EventType
}

// EventContext is the request context captured when an event is logged.
type EventContext struct {
	SessionID string `json:"session_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SecurityEvent is an immutable entry of the security event log.
type SecurityEvent struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Actor     string       `json:"actor,omitempty"`
	Context   EventContext `json:"context"`
	Payload   EventPayload `json:"details"`
}

// System reports whether the event was raised by the monitor itself rather
// than by user activity.
func (e *SecurityEvent) System() bool {
	switch e.Type {
	case EventSessionTimeout, EventRapidFire, EventServiceUnhealthy:
		return true
	}
	return false
}

type LoginSucceeded struct {
	Identity string `json:"identity"`
	UserID   string `json:"user_id"`
	Location string `json:"location,omitempty"`
}

type LoginFailed struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

type AccountLocked struct {
	Identity string `json:"identity"`
	Attempts int    `json:"attempts,omitempty"`
	Reason   string `json:"reason"`
}

type AccountCreated struct {
	UserID   string `json:"user_id"`
	Identity string `json:"identity"`
}

type SignedOut struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type SessionExpired struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type ForcedSignOut struct {
	UserID   string `json:"user_id"`
	Sessions int    `json:"sessions"`
	Reason   string `json:"reason"`
}

type PasswordChanged struct {
	UserID string `json:"user_id"`
}

type TwoFactorEnrolled struct {
	UserID       string `json:"user_id"`
	EnrollmentID string `json:"enrollment_id"`
}

type TwoFactorVerified struct {
	UserID       string `json:"user_id"`
	EnrollmentID string `json:"enrollment_id"`
}

type DataAccess struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id,omitempty"`
	Operation  string `json:"operation"`
	Count      int    `json:"count,omitempty"`
}

type DataModified struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id,omitempty"`
	Operation  string `json:"operation"`
}

type APICall struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Status int    `json:"status"`
}

type SessionAnomaly struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type SessionTimeout struct {
	Actor   string        `json:"actor"`
	IdleFor time.Duration `json:"idle_for"`
}

type RapidFire struct {
	Actor  string        `json:"actor"`
	Count  int           `json:"count"`
	Window time.Duration `json:"window"`
}

type ServiceUnhealthy struct {
	Service string `json:"service"`
	Error   string `json:"error"`
}

func (LoginSucceeded) EventType() EventType    { return EventLoginSuccess }
func (LoginFailed) EventType() EventType       { return EventLoginFailed }
func (AccountLocked) EventType() EventType     { return EventAccountLocked }
func (AccountCreated) EventType() EventType    { return EventAccountCreated }
func (SignedOut) EventType() EventType         { return EventSignOut }
func (SessionExpired) EventType() EventType    { return EventSessionExpired }
func (ForcedSignOut) EventType() EventType     { return EventForcedSignOut }
func (PasswordChanged) EventType() EventType   { return EventPasswordChanged }
func (TwoFactorEnrolled) EventType() EventType { return EventTwoFactorEnrolled }
func (TwoFactorVerified) EventType() EventType { return EventTwoFactorVerified }
func (DataAccess) EventType() EventType        { return EventDataAccess }
func (DataModified) EventType() EventType      { return EventDataModified }
func (APICall) EventType() EventType           { return EventAPICall }
func (SessionAnomaly) EventType() EventType    { return EventSessionAnomaly }
func (SessionTimeout) EventType() EventType    { return EventSessionTimeout }
func (RapidFire) EventType() EventType         { return EventRapidFire }
func (ServiceUnhealthy) EventType() EventType  { return EventServiceUnhealthy }
