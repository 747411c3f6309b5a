package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "careguard"

// TokenManager signs and verifies session tokens. A token is only a
// transport for the session ID; the session registry stays authoritative.
type TokenManager struct {
	secret []byte
	now    func() time.Time
}

func NewTokenManager(secret string, now func() time.Time) *TokenManager {
	if now == nil {
		now = time.Now
	}
	return &TokenManager{secret: []byte(secret), now: now}
}

// IssueSessionToken creates an HS256 token that expires with the session.
func (tm *TokenManager) IssueSessionToken(s *models.Session) (string, error) {
	claims := &models.TokenClaims{
		UserID:    s.UserID,
		SessionID: s.SessionID,
		Email:     s.Email,
		Role:      s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tokenIssuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(s.LoginTime),
			NotBefore: jwt.NewNumericDate(s.LoginTime),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithTimeFunc(tm.now),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid || claims.SessionID == "" || claims.UserID == "" {
		return nil, models.ErrUnauthorized
	}

	return claims, nil
}
