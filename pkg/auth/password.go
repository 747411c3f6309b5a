package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128
	MaxIdentityLen = 254
)

// BcryptCost is a variable so tests can lower it.
var BcryptCost = 12

var validate = validator.New()

// PolicyError lists every rule a credential failed, so callers can show the
// user what to fix.
type PolicyError struct {
	Field   string
	Reasons []string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, strings.Join(e.Reasons, "; "))
}

var commonPasswords = map[string]bool{
	"password":     true,
	"password1":    true,
	"password123":  true,
	"password123!": true,
	"p@ssw0rd":     true,
	"passw0rd":     true,
	"12345678":     true,
	"123456789":    true,
	"qwerty123":    true,
	"qwerty123!":   true,
	"abc12345":     true,
	"letmein1!":    true,
	"welcome1":     true,
	"welcome123!":  true,
	"iloveyou1":    true,
	"sunshine1":    true,
	"trustno1":     true,
	"admin123!":    true,
	"caregiver1!":  true,
	"grandma123!":  true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// ValidatePassword checks length, character classes and the common-password
// denylist, collecting every failed rule.
func ValidatePassword(password string) error {
	reasons := make([]string, 0)

	if len(password) < MinPasswordLen {
		reasons = append(reasons, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		reasons = append(reasons, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if !hasLower {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if !hasDigit {
		reasons = append(reasons, "must contain a digit")
	}
	if !hasSpecial {
		reasons = append(reasons, "must contain a special character")
	}

	if commonPasswords[strings.ToLower(password)] {
		reasons = append(reasons, "is too common")
	}

	if len(reasons) > 0 {
		return &PolicyError{Field: "password", Reasons: reasons}
	}
	return nil
}

// ValidateIdentity checks that an identity is a well-formed email address.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return &PolicyError{Field: "email", Reasons: []string{"is required"}}
	}
	if len(identity) > MaxIdentityLen {
		return &PolicyError{Field: "email", Reasons: []string{fmt.Sprintf("must be at most %d characters", MaxIdentityLen)}}
	}
	if err := validate.Var(identity, "email"); err != nil {
		return &PolicyError{Field: "email", Reasons: []string{"must be a valid email address"}}
	}
	return nil
}

// NormalizeIdentity lowercases and trims an email identity.
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
