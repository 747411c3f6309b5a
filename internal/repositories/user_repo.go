package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/careguard/internal/database"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner covers both pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const userColumns = `id, email, password_hash, display_name, role, created_at, updated_at, password_changed_at, last_sign_out_at`

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User

	err := scanner.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &user.Role,
		&user.CreatedAt, &user.UpdatedAt, &user.PasswordChangedAt, &user.LastSignOutAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, email))
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	user.ID = uuid.New().String()

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	if user.Role == "" {
		user.Role = models.RoleMember
	}

	query := `
		INSERT INTO users (id, email, password_hash, display_name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.DisplayName, user.Role, user.CreatedAt, user.UpdatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return created, nil
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	query := `
		UPDATE users SET password_hash = $2, password_changed_at = now(), updated_at = now()
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) MarkSignedOut(ctx context.Context, id string) error {
	query := `UPDATE users SET last_sign_out_at = now() WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record sign out: %w", err)
	}
	return nil
}

// TwoFactorRepository stores TOTP enrollments.
type TwoFactorRepository struct {
	pool *pgxpool.Pool
}

func NewTwoFactorRepository(db *database.DB) *TwoFactorRepository {
	return &TwoFactorRepository{pool: db.Pool}
}

const enrollmentColumns = `id, user_id, contact, secret_sealed, created_at, verified_at`

func scanEnrollmentRow(scanner rowScanner) (*models.TwoFactorEnrollment, error) {
	var e models.TwoFactorEnrollment

	err := scanner.Scan(&e.ID, &e.UserID, &e.Contact, &e.SecretSealed, &e.CreatedAt, &e.VerifiedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func (r *TwoFactorRepository) Create(ctx context.Context, e *models.TwoFactorEnrollment) error {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO two_factor_enrollments (id, user_id, contact, secret_sealed, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	if _, err := r.pool.Exec(ctx, query, e.ID, e.UserID, e.Contact, e.SecretSealed, e.CreatedAt); err != nil {
		return fmt.Errorf("failed to create enrollment: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *TwoFactorRepository) Get(ctx context.Context, userID, id string) (*models.TwoFactorEnrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM two_factor_enrollments WHERE id = $1 AND user_id = $2`
	return scanEnrollmentRow(r.pool.QueryRow(ctx, query, id, userID))
}

func (r *TwoFactorRepository) MarkVerified(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE two_factor_enrollments SET verified_at = $2 WHERE id = $1 AND verified_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to verify enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
