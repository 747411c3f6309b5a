package models

import (
	"time"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// User is the stored account row behind a Principal.
type User struct {
	ID                string
	Email             string
	PasswordHash      string
	DisplayName       string
	Role              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PasswordChangedAt *time.Time
	LastSignOutAt     *time.Time
}

// Principal is the authenticated identity returned by the identity provider.
type Principal struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u *User) Principal() *Principal {
	return &Principal{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
