// Package servicestest provides fakes of the services collaborators for tests.
package servicestest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/services"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
)

var (
	_ services.IdentityProvider    = (*MockIdentityProvider)(nil)
	_ services.DocumentStore       = (*MemoryDocumentStore)(nil)
	_ services.AuditLogStore       = (*MockAuditLogStore)(nil)
	_ services.SecurityEventLogger = (*EventRecorder)(nil)
	_ services.AccountEnforcer     = (*MockEnforcer)(nil)
	_ services.AdminNotifier       = (*MockNotifier)(nil)
	_ services.EventReporter       = (*MockReporter)(nil)
	_ services.SESClient           = (*MockSESClient)(nil)
)

// MockIdentityProvider implements IdentityProvider for testing
type MockIdentityProvider struct {
	SignInFunc          func(ctx context.Context, identity, secret string) (*models.Principal, error)
	SignUpFunc          func(ctx context.Context, identity, secret, displayName string) (*models.Principal, error)
	SignOutFunc         func(ctx context.Context, userID string) error
	ReauthenticateFunc  func(ctx context.Context, userID, secret string) error
	UpdatePasswordFunc  func(ctx context.Context, userID, newSecret string) error
	EnrollTwoFactorFunc func(ctx context.Context, principal *models.Principal, contact string) (*models.TwoFactorEnrollment, error)
	VerifyTwoFactorFunc func(ctx context.Context, principal *models.Principal, enrollmentID, code string) (*models.TwoFactorEnrollment, error)

	mu       sync.Mutex
	signOuts []string
}

func (m *MockIdentityProvider) SignIn(ctx context.Context, identity, secret string) (*models.Principal, error) {
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, identity, secret)
	}
	return nil, models.ErrInvalidCredentials
}

func (m *MockIdentityProvider) SignUp(ctx context.Context, identity, secret, displayName string) (*models.Principal, error) {
	if m.SignUpFunc != nil {
		return m.SignUpFunc(ctx, identity, secret, displayName)
	}
	return &models.Principal{ID: "user-" + identity, Email: identity, DisplayName: displayName, Role: models.RoleMember}, nil
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, userID string) error {
	m.mu.Lock()
	m.signOuts = append(m.signOuts, userID)
	m.mu.Unlock()

	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, userID)
	}
	return nil
}

// SignOuts returns the user IDs passed to SignOut, in call order.
func (m *MockIdentityProvider) SignOuts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.signOuts...)
}

func (m *MockIdentityProvider) Reauthenticate(ctx context.Context, userID, secret string) error {
	if m.ReauthenticateFunc != nil {
		return m.ReauthenticateFunc(ctx, userID, secret)
	}
	return nil
}

func (m *MockIdentityProvider) UpdatePassword(ctx context.Context, userID, newSecret string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, userID, newSecret)
	}
	return nil
}

func (m *MockIdentityProvider) EnrollTwoFactor(ctx context.Context, principal *models.Principal, contact string) (*models.TwoFactorEnrollment, error) {
	if m.EnrollTwoFactorFunc != nil {
		return m.EnrollTwoFactorFunc(ctx, principal, contact)
	}
	return &models.TwoFactorEnrollment{ID: "enrollment-1", UserID: principal.ID, Contact: contact}, nil
}

func (m *MockIdentityProvider) VerifyTwoFactor(ctx context.Context, principal *models.Principal, enrollmentID, code string) (*models.TwoFactorEnrollment, error) {
	if m.VerifyTwoFactorFunc != nil {
		return m.VerifyTwoFactorFunc(ctx, principal, enrollmentID, code)
	}
	now := time.Now()
	return &models.TwoFactorEnrollment{ID: enrollmentID, UserID: principal.ID, VerifiedAt: &now}, nil
}

// MemoryDocumentStore implements DocumentStore in memory for testing
type MemoryDocumentStore struct {
	NowFunc func() time.Time
	// FailWith makes every call except Now return the error
	FailWith error

	mu      sync.Mutex
	records map[string]*models.Record
}

func NewMemoryDocumentStore(now func() time.Time) *MemoryDocumentStore {
	return &MemoryDocumentStore{NowFunc: now, records: make(map[string]*models.Record)}
}

func docKey(collection, id string) string {
	return collection + "/" + id
}

func copyRecord(r *models.Record) *models.Record {
	c := *r
	c.Data = r.Data.Clone()
	return &c
}

func (s *MemoryDocumentStore) Now(ctx context.Context) (time.Time, error) {
	if s.NowFunc != nil {
		return s.NowFunc().UTC(), nil
	}
	return time.Now().UTC(), nil
}

func (s *MemoryDocumentStore) Put(ctx context.Context, rec *models.Record) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[docKey(rec.Collection, rec.ID)] = copyRecord(rec)
	return nil
}

// Seed stores a record as is, used to backdate creation times.
func (s *MemoryDocumentStore) Seed(rec *models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[docKey(rec.Collection, rec.ID)] = copyRecord(rec)
}

// Raw returns the stored record without any gateway processing.
func (s *MemoryDocumentStore) Raw(collection, id string) (*models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[docKey(collection, id)]
	if !ok {
		return nil, false
	}
	return copyRecord(r), true
}

func (s *MemoryDocumentStore) Replace(ctx context.Context, rec *models.Record, expectedVersion int) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[docKey(rec.Collection, rec.ID)]
	if !ok || current.Version != expectedVersion {
		return fmt.Errorf("document %s/%s changed concurrently: %w", rec.Collection, rec.ID, models.ErrConflict)
	}
	s.records[docKey(rec.Collection, rec.ID)] = copyRecord(rec)
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[docKey(collection, id)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return copyRecord(r), nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, collection, id string) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[docKey(collection, id)]; !ok {
		return models.ErrNotFound
	}
	delete(s.records, docKey(collection, id))
	return nil
}

func (s *MemoryDocumentStore) Query(ctx context.Context, collection string, preds []models.Predicate, limit, offset int) ([]*models.Record, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Record, 0)
	for _, r := range s.records {
		if r.Collection != collection || !matchesAll(r.Data, preds) {
			continue
		}
		out = append(out, copyRecord(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryDocumentStore) DeleteCreatedBefore(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	if s.FailWith != nil {
		return 0, s.FailWith
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, r := range s.records {
		if r.Collection == collection && r.CreatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

func matchesAll(doc models.Document, preds []models.Predicate) bool {
	for _, p := range preds {
		if !matches(doc[p.Field], p) {
			return false
		}
	}
	return true
}

func matches(v any, p models.Predicate) bool {
	switch p.Op {
	case models.OpEqual:
		return compare(v, p.Value) == 0
	case models.OpNotEqual:
		return compare(v, p.Value) != 0
	case models.OpLess:
		return ordered(v, p.Value) && compare(v, p.Value) < 0
	case models.OpLessEqual:
		return ordered(v, p.Value) && compare(v, p.Value) <= 0
	case models.OpGreater:
		return ordered(v, p.Value) && compare(v, p.Value) > 0
	case models.OpGreaterEqual:
		return ordered(v, p.Value) && compare(v, p.Value) >= 0
	case models.OpIn:
		list, ok := p.Value.([]any)
		if !ok {
			return false
		}
		for _, item := range list {
			if compare(v, item) == 0 {
				return true
			}
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func ordered(a, b any) bool {
	_, an := toFloat(a)
	_, bn := toFloat(b)
	if an && bn {
		return true
	}
	_, as := a.(string)
	_, bs := b.(string)
	return as && bs
}

// compare returns 0 for equal values, -1 or 1 for ordered values and 2 for
// values of different kinds.
func compare(a, b any) int {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 2
		}
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 2
		}
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
	if a == nil && b == nil {
		return 0
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok && ab == bb {
			return 0
		}
	}
	return 2
}

// MockAuditLogStore implements AuditLogStore for testing
type MockAuditLogStore struct {
	CreateFunc func(ctx context.Context, e *models.AuditEntry) (*models.AuditEntry, error)

	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (m *MockAuditLogStore) Create(ctx context.Context, e *models.AuditEntry) (*models.AuditEntry, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, e)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *e
	m.entries = append(m.entries, &c)
	return &c, nil
}

func (m *MockAuditLogStore) GetByRecord(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.Category == category && e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockAuditLogStore) GetByActor(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AuditEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		if e := m.entries[i]; e.Actor == actor {
			out = append(out, e)
		}
	}
	return out, nil
}

// Entries returns the stored entries in write order.
func (m *MockAuditLogStore) Entries() []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditEntry(nil), m.entries...)
}

// EventRecorder implements SecurityEventLogger by keeping every event
type EventRecorder struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (r *EventRecorder) LogSecurityEvent(ctx context.Context, payload models.EventPayload) *models.SecurityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := models.SecurityEvent{Type: payload.EventType(), Timestamp: time.Now().UTC(), Payload: payload}
	r.events = append(r.events, e)
	return &e
}

// Types returns the types of the recorded events in order.
func (r *EventRecorder) Types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// MockEnforcer implements AccountEnforcer for testing
type MockEnforcer struct {
	mu        sync.Mutex
	Locked    []string
	SignedOut []string
	Err       error
}

func (m *MockEnforcer) LockIdentity(ctx context.Context, identity, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Locked = append(m.Locked, identity)
	return m.Err
}

func (m *MockEnforcer) ForceSignOut(ctx context.Context, userID, reason string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SignedOut = append(m.SignedOut, userID)
	return 1, m.Err
}

// MockNotifier implements AdminNotifier for testing
type MockNotifier struct {
	mu      sync.Mutex
	Threats []models.Threat
}

func (m *MockNotifier) NotifyAdmins(ctx context.Context, threat models.Threat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Threats = append(m.Threats, threat)
	return nil
}

// MockReporter implements EventReporter for testing
type MockReporter struct {
	mu     sync.Mutex
	Events []models.SecurityEvent
	Err    error
}

func (m *MockReporter) Report(ctx context.Context, event models.SecurityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}

// MockSESClient implements SESClient for testing
type MockSESClient struct {
	Inputs []*ses.SendEmailInput
	Err    error
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.Inputs = append(m.Inputs, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}
