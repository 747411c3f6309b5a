package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/stretchr/testify/assert"
)

func requestFrom(ip, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/sign-in", nil)
	ctx := auth.WithRequestInfo(req.Context(), auth.RequestInfo{IPAddress: ip})
	if userID != "" {
		ctx = auth.WithSession(ctx, &models.Session{SessionID: "s-" + userID, UserID: userID})
	}
	return req.WithContext(ctx)
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(DefaultAuthRateLimit())(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom("203.0.113.7", ""))
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.7", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate limit exceeded")

	// A different client has its own budget
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("203.0.113.8", ""))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByActor_KeysOnUser(t *testing.T) {
	handler := RateLimitByActor(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	// Same user from two addresses shares one budget
	for _, ip := range []string{"198.51.100.1", "198.51.100.2"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, requestFrom(ip, "nurse-1"))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("198.51.100.3", "nurse-1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("198.51.100.1", "nurse-2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitByActor_FallsBackToIP(t *testing.T) {
	handler := RateLimitByActor(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("192.0.2.10", ""))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, requestFrom("192.0.2.10", ""))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
