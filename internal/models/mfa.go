package models

import (
	"time"
)

// TwoFactorEnrollment is a TOTP enrollment for a user. The secret is stored
// sealed and never leaves the identity provider after setup.
type TwoFactorEnrollment struct {
	ID              string     `json:"enrollment_id"`
	UserID          string     `json:"-"`
	Contact         string     `json:"contact"`
	SecretSealed    string     `json:"-"`
	ProvisioningURI string     `json:"provisioning_uri,omitempty"`
	QRCode          string     `json:"qr_code,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
}

func (e *TwoFactorEnrollment) IsVerified() bool {
	return e.VerifiedAt != nil
}
