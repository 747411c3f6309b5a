package vault

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"unicode"
)

// MinKeyLength is the minimum accepted length of an encryption secret.
const MinKeyLength = 32

const generatedKeyLength = 48

const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*-_=+"

var weakKeyFragments = []string{
	"password", "secret", "changeme", "encryption", "default", "example",
}

// ValidateKeyStrength checks length and character-class coverage of an
// encryption secret. At least three of upper, lower, digit and symbol
// classes are required.
func ValidateKeyStrength(secret string) error {
	if len(secret) < MinKeyLength {
		return fmt.Errorf("%w: must be at least %d characters (got %d)", ErrWeakKey, MinKeyLength, len(secret))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	distinct := make(map[rune]struct{})
	for _, r := range secret {
		distinct[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	classes := 0
	for _, ok := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return fmt.Errorf("%w: must mix at least 3 of uppercase, lowercase, digits and symbols", ErrWeakKey)
	}

	if len(distinct) < 8 {
		return fmt.Errorf("%w: too few distinct characters", ErrWeakKey)
	}

	lower := strings.ToLower(secret)
	for _, frag := range weakKeyFragments {
		if strings.Count(lower, frag)*len(frag) > len(lower)/2 {
			return fmt.Errorf("%w: built from a common word", ErrWeakKey)
		}
	}

	return nil
}

// GenerateKey returns a random secret that passes ValidateKeyStrength.
func GenerateKey() (string, error) {
	max := big.NewInt(int64(len(keyAlphabet)))
	for {
		var sb strings.Builder
		for i := 0; i < generatedKeyLength; i++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate key: %w", err)
			}
			sb.WriteByte(keyAlphabet[n.Int64()])
		}

		if secret := sb.String(); ValidateKeyStrength(secret) == nil {
			return secret, nil
		}
	}
}
