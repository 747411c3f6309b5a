// Package handlerstest provides request helpers and fakes for handler tests.
package handlerstest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/handlers"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/services"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

var (
	_ handlers.AuthGuardInterface     = (*MockAuthGuard)(nil)
	_ handlers.ThreatMonitorInterface = (*MockThreatMonitor)(nil)
	_ handlers.ProfileWriter          = (*MockProfileWriter)(nil)
	_ handlers.AuditTrailInterface    = (*MockAuditTrails)(nil)
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSession attaches a signed-in session to the request context
func WithSession(req *http.Request, userID, role string) *http.Request {
	s := &models.Session{SessionID: "sess-" + userID, UserID: userID, Email: userID + "@example.org", Role: role}
	return req.WithContext(auth.WithSession(req.Context(), s))
}

// WithURLParams sets chi URL parameters on the request
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// MockAuthGuard implements AuthGuardInterface for testing
type MockAuthGuard struct {
	SignInFunc         func(ctx context.Context, identity, secret string) (*services.SignInResult, error)
	SignUpFunc         func(ctx context.Context, identity, secret string, profile models.Document) (*services.SignUpResult, error)
	SignOutFunc        func(ctx context.Context) error
	PasswordChangeFunc func(ctx context.Context, oldSecret, newSecret string) error
	SetupTwoFactorFunc func(ctx context.Context, contact string) (*models.TwoFactorEnrollment, error)
	VerifyFunc         func(ctx context.Context, enrollmentID, code string) (*models.TwoFactorEnrollment, error)
	SessionFunc        func(sessionID string) (*models.Session, error)
}

func (m *MockAuthGuard) SecureSignIn(ctx context.Context, identity, secret string) (*services.SignInResult, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, identity, secret)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockAuthGuard) SecureSignUp(ctx context.Context, identity, secret string, profile models.Document) (*services.SignUpResult, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, identity, secret, profile)
	}
	return nil, models.ErrInternalServer
}

func (m *MockAuthGuard) SecureSignOut(ctx context.Context) error {
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx)
	}
	return nil
}

func (m *MockAuthGuard) SecurePasswordChange(ctx context.Context, oldSecret, newSecret string) error {
	if m.PasswordChangeFunc != nil {
		return m.PasswordChangeFunc(ctx, oldSecret, newSecret)
	}
	return nil
}

func (m *MockAuthGuard) SetupTwoFactor(ctx context.Context, contact string) (*models.TwoFactorEnrollment, error) {
	if m.SetupTwoFactorFunc != nil {
		return m.SetupTwoFactorFunc(ctx, contact)
	}
	return nil, models.ErrTwoFactorDisabled
}

func (m *MockAuthGuard) VerifyTwoFactor(ctx context.Context, enrollmentID, code string) (*models.TwoFactorEnrollment, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, enrollmentID, code)
	}
	return nil, models.ErrTwoFactorDisabled
}

func (m *MockAuthGuard) GetSessionData(sessionID string) (*models.Session, error) {
	if m.SessionFunc != nil {
		return m.SessionFunc(sessionID)
	}
	return nil, models.ErrSessionExpired
}

// MockThreatMonitor implements ThreatMonitorInterface for testing
type MockThreatMonitor struct {
	Alerts     []models.Alert
	Threats    []models.Threat
	Events     []models.SecurityEvent
	Raised     []*models.SecurityEvent
	Dismissed  []string
	Resolved   []string
	EventLimit int
}

func (m *MockThreatMonitor) GetActiveAlerts() []models.Alert   { return m.Alerts }
func (m *MockThreatMonitor) GetActiveThreats() []models.Threat { return m.Threats }

func (m *MockThreatMonitor) GetThreat(id string) (models.Threat, error) {
	for _, t := range m.Threats {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Threat{}, models.ErrNotFound
}

func (m *MockThreatMonitor) DismissAlert(id string) error {
	for _, a := range m.Alerts {
		if a.ID == id {
			m.Dismissed = append(m.Dismissed, id)
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockThreatMonitor) ResolveThreat(id string) error {
	for _, t := range m.Threats {
		if t.ID == id {
			m.Resolved = append(m.Resolved, id)
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockThreatMonitor) RecentEvents(n int) []models.SecurityEvent {
	m.EventLimit = n
	return m.Events
}

func (m *MockThreatMonitor) RunPeriodicChecks(ctx context.Context) []*models.SecurityEvent {
	return m.Raised
}

// MockProfileWriter records stored profiles
type MockProfileWriter struct {
	Err    error
	Stored map[string]models.Document
	Opts   services.WriteOptions
}

func (m *MockProfileWriter) Store(ctx context.Context, collection, id string, data models.Document, opts services.WriteOptions) (services.Result[*services.WriteReceipt], error) {
	if m.Err != nil {
		return services.Result[*services.WriteReceipt]{}, m.Err
	}
	if m.Stored == nil {
		m.Stored = make(map[string]models.Document)
	}
	m.Stored[collection+"/"+id] = data
	m.Opts = opts
	return services.Result[*services.WriteReceipt]{
		Value: &services.WriteReceipt{Collection: collection, ID: id, Version: 1},
		Audit: models.AuditOutcome{Attempted: opts.Audit, Recorded: opts.Audit},
	}, nil
}

// MockAuditTrails implements AuditTrailInterface for testing
type MockAuditTrails struct {
	Entries    []*models.AuditEntry
	Err        error
	LastLimit  int
	LastOffset int
}

func (m *MockAuditTrails) GetRecordTrail(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error) {
	m.LastLimit, m.LastOffset = limit, offset
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*models.AuditEntry, 0)
	for _, e := range m.Entries {
		if e.Category == category && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockAuditTrails) GetActorTrail(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error) {
	m.LastLimit, m.LastOffset = limit, offset
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*models.AuditEntry, 0)
	for _, e := range m.Entries {
		if e.Actor == actor {
			out = append(out, e)
		}
	}
	return out, nil
}
