package identity

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/models"
	pkgauth "github.com/BradenHooton/careguard/pkg/auth"
	"github.com/BradenHooton/careguard/pkg/vault"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	pkgauth.BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type memoryUsers struct {
	mu      sync.Mutex
	byID    map[string]*models.User
	signOut map[string]int
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: map[string]*models.User{}, signOut: map[string]int{}}
}

func (m *memoryUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memoryUsers) Create(ctx context.Context, user *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == user.Email {
			return nil, models.ErrConflict
		}
	}
	c := *user
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	m.byID[c.ID] = &c
	out := c
	return &out, nil
}

func (m *memoryUsers) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (m *memoryUsers) MarkSignedOut(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signOut[id]++
	return nil
}

type memoryEnrollments struct {
	byID map[string]*models.TwoFactorEnrollment
}

func (m *memoryEnrollments) Create(ctx context.Context, e *models.TwoFactorEnrollment) error {
	e.ID = uuid.New().String()
	c := *e
	m.byID[e.ID] = &c
	return nil
}

func (m *memoryEnrollments) Get(ctx context.Context, userID, id string) (*models.TwoFactorEnrollment, error) {
	e, ok := m.byID[id]
	if !ok || e.UserID != userID {
		return nil, models.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *memoryEnrollments) MarkVerified(ctx context.Context, id string, at time.Time) error {
	e, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	e.VerifiedAt = &at
	return nil
}

type fixture struct {
	provider *Provider
	users    *memoryUsers
	vault    *vault.Vault
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	v, err := vault.New("Zr5$wQ8!kLm2@pXv7#nTb4&jHc9*gFdY")
	require.NoError(t, err)

	f := &fixture{
		users: newMemoryUsers(),
		vault: v,
		now:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	p, err := NewProvider(
		f.users,
		&memoryEnrollments{byID: map[string]*models.TwoFactorEnrollment{}},
		auth.NewTOTPManager("CareGuard", v),
		func() time.Time { return f.now },
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	require.NoError(t, err)
	f.provider = p
	return f
}

func TestProvider_SignUpAndSignIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	principal, err := f.provider.SignUp(ctx, " Ada@Example.com ", "Str0ng!Passw0rd", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", principal.Email)
	assert.Equal(t, models.RoleMember, principal.Role)

	got, err := f.provider.SignIn(ctx, "ADA@example.com", "Str0ng!Passw0rd")
	require.NoError(t, err)
	assert.Equal(t, principal.ID, got.ID)

	_, err = f.provider.SignIn(ctx, "ada@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.provider.SignIn(ctx, "nobody@example.com", "Str0ng!Passw0rd")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)

	_, err = f.provider.SignUp(ctx, "ada@example.com", "Str0ng!Passw0rd", "Ada again")
	assert.ErrorIs(t, err, models.ErrIdentityInUse)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestProvider_PasswordChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	principal, err := f.provider.SignUp(ctx, "ada@example.com", "Str0ng!Passw0rd", "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.provider.Reauthenticate(ctx, principal.ID, "nope"), models.ErrInvalidCredentials)
	assert.ErrorIs(t, f.provider.Reauthenticate(ctx, "missing", "nope"), models.ErrInvalidCredentials)
	require.NoError(t, f.provider.Reauthenticate(ctx, principal.ID, "Str0ng!Passw0rd"))

	require.NoError(t, f.provider.UpdatePassword(ctx, principal.ID, "N3w!Passw0rd#"))

	_, err = f.provider.SignIn(ctx, "ada@example.com", "Str0ng!Passw0rd")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = f.provider.SignIn(ctx, "ada@example.com", "N3w!Passw0rd#")
	assert.NoError(t, err)
}

func TestProvider_SignOut(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.provider.SignOut(context.Background(), "user-1"))
	assert.Equal(t, 1, f.users.signOut["user-1"])
}

func TestProvider_TwoFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	principal, err := f.provider.SignUp(ctx, "ada@example.com", "Str0ng!Passw0rd", "")
	require.NoError(t, err)

	enrollment, err := f.provider.EnrollTwoFactor(ctx, principal, "")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", enrollment.Contact)
	assert.NotEmpty(t, enrollment.QRCode)
	assert.False(t, enrollment.IsVerified())

	_, err = f.provider.VerifyTwoFactor(ctx, principal, enrollment.ID, "000000")
	assert.ErrorIs(t, err, models.ErrInvalidCode)

	var secret string
	require.NoError(t, f.vault.DecryptInto(enrollment.SecretSealed, &secret))
	code, err := totp.GenerateCode(secret, f.now)
	require.NoError(t, err)

	verified, err := f.provider.VerifyTwoFactor(ctx, principal, enrollment.ID, code)
	require.NoError(t, err)
	assert.True(t, verified.IsVerified())

	other := &models.Principal{ID: "someone-else"}
	_, err = f.provider.VerifyTwoFactor(ctx, other, enrollment.ID, code)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
