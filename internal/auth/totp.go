package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

// SecretSealer seals TOTP secrets at rest.
type SecretSealer interface {
	Encrypt(data any) (string, error)
	DecryptInto(ciphertext string, dst any) error
}

// TOTPEnrollment is a freshly generated TOTP secret, sealed for storage,
// with what the user needs to add it to an authenticator app.
type TOTPEnrollment struct {
	SecretSealed    string
	ProvisioningURI string
	QRCodeDataURL   string
}

// TOTPManager handles TOTP generation and validation
type TOTPManager struct {
	issuer string
	sealer SecretSealer
}

func NewTOTPManager(issuer string, sealer SecretSealer) *TOTPManager {
	return &TOTPManager{issuer: issuer, sealer: sealer}
}

// Generate creates a secret for accountName and renders its QR code.
func (tm *TOTPManager) Generate(accountName string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      tm.issuer,
		AccountName: accountName,
		SecretSize:  32,
		Period:      30,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	sealed, err := tm.sealer.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("failed to seal TOTP secret: %w", err)
	}

	qr, err := qrcode.New(key.URL(), qrcode.Highest)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}

	png, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &TOTPEnrollment{
		SecretSealed:    sealed,
		ProvisioningURI: key.URL(),
		QRCodeDataURL:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

// Validate checks code against a sealed secret at the given time, allowing
// one step of clock drift.
func (tm *TOTPManager) Validate(secretSealed, code string, at time.Time) (bool, error) {
	var secret string
	if err := tm.sealer.DecryptInto(secretSealed, &secret); err != nil {
		return false, fmt.Errorf("failed to open TOTP secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, nil
	}
	return valid, nil
}
