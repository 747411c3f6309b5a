package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/pkg/vault"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-that-is-at-least-32-characters"

func testSession(now time.Time) *models.Session {
	return &models.Session{
		SessionID: "sess-1",
		UserID:    "user-1",
		Email:     "ada@example.com",
		Role:      models.RoleMember,
		LoginTime: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
}

func TestTokenManager_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tm := NewTokenManager(testJWTSecret, func() time.Time { return now })

	token, err := tm.IssueSessionToken(testSession(now))
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleMember, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := now
	tm := NewTokenManager(testJWTSecret, func() time.Time { return clock })

	token, err := tm.IssueSessionToken(testSession(now))
	require.NoError(t, err)

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("another-secret-that-is-32-characters-long", func() time.Time { return now })
		_, err := other.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		clock = now.Add(31 * time.Minute)
		defer func() { clock = now }()
		_, err := tm.ValidateToken(token)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

type stubValidator struct {
	session *models.Session
	err     error
	got     string
}

func (s *stubValidator) ValidateSessionToken(ctx context.Context, token string) (*models.Session, error) {
	s.got = token
	return s.session, s.err
}

func TestAuthMiddleware(t *testing.T) {
	now := time.Now().UTC()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, found := SessionFromContext(r.Context())
		require.True(t, found)
		_, _ = w.Write([]byte(s.UserID))
	})

	tests := []struct {
		name       string
		header     string
		validator  *stubValidator
		wantStatus int
	}{
		{name: "valid", header: "Bearer abc", validator: &stubValidator{session: testSession(now)}, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: "bearer abc", validator: &stubValidator{session: testSession(now)}, wantStatus: http.StatusOK},
		{name: "missing header", header: "", validator: &stubValidator{}, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", validator: &stubValidator{}, wantStatus: http.StatusUnauthorized},
		{name: "expired session", header: "Bearer abc", validator: &stubValidator{err: models.ErrSessionExpired}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			AuthMiddleware(tt.validator)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "abc", tt.validator.got)
				assert.Equal(t, "user-1", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(models.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(s *models.Session) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if s != nil {
			req = req.WithContext(WithSession(req.Context(), s))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	member := testSession(time.Now())
	admin := testSession(time.Now())
	admin.Role = models.RoleAdmin

	assert.Equal(t, http.StatusUnauthorized, serve(nil))
	assert.Equal(t, http.StatusForbidden, serve(member))
	assert.Equal(t, http.StatusNoContent, serve(admin))
}

func TestRequestInfoMiddleware(t *testing.T) {
	var got RequestInfo
	handler := RequestInfoMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestInfoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("User-Agent", "careguard-test")
	req.Header.Set("CloudFront-Viewer-Country", "NL")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "203.0.113.7", got.IPAddress)
	assert.Equal(t, "careguard-test", got.UserAgent)
	assert.Equal(t, "NL", got.Location)
}

func TestActorFromContext(t *testing.T) {
	assert.Empty(t, ActorFromContext(context.Background()))
	ctx := WithSession(context.Background(), testSession(time.Now()))
	assert.Equal(t, "user-1", ActorFromContext(ctx))
}

func TestTOTPManager(t *testing.T) {
	v, err := vault.New("Zr5$wQ8!kLm2@pXv7#nTb4&jHc9*gFdY")
	require.NoError(t, err)
	tm := NewTOTPManager("CareGuard", v)

	enrollment, err := tm.Generate("ada@example.com")
	require.NoError(t, err)
	assert.True(t, vault.IsEncrypted(enrollment.SecretSealed))
	assert.Contains(t, enrollment.ProvisioningURI, "otpauth://totp/")
	assert.Contains(t, enrollment.QRCodeDataURL, "data:image/png;base64,")

	var secret string
	require.NoError(t, v.DecryptInto(enrollment.SecretSealed, &secret))

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(secret, at)
	require.NoError(t, err)

	valid, err := tm.Validate(enrollment.SecretSealed, code, at)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = tm.Validate(enrollment.SecretSealed, code, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, valid, "one step of drift is allowed")

	valid, err = tm.Validate(enrollment.SecretSealed, code, at.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = tm.Validate("enc:v1:garbage", code, at)
	assert.Error(t, err)
}

func TestTimingDelay_WaitFrom(t *testing.T) {
	td := NewTimingDelay(20*time.Millisecond, 0)

	start := time.Now()
	td.WaitFrom(context.Background(), start)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := time.Now()
	NewTimingDelay(time.Hour, 0).WaitFrom(ctx, started)
	assert.Less(t, time.Since(started), time.Second)

	var nilDelay *TimingDelay
	nilDelay.WaitFrom(context.Background(), time.Now())
}
