package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/careguard/internal/database"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepository is the append-only audit entry store
type AuditLogRepository struct {
	pool *pgxpool.Pool
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{pool: db.Pool}
}

const auditColumns = `id, action, category, record_id, actor, ip_address, user_agent, details, created_at`

func scanAuditEntryRow(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry

	err := row.Scan(
		&e.ID, &e.Action, &e.Category, &e.RecordID, &e.Actor,
		&e.IPAddress, &e.UserAgent, &e.Details, &e.Timestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &e, nil
}

func scanAuditEntryRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditEntryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entry rows: %w", err)
	}

	return entries, nil
}

// Create appends an entry. The ID is assigned here when empty.
func (r *AuditLogRepository) Create(ctx context.Context, e *models.AuditEntry) (*models.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	query := `
		INSERT INTO audit_entries (id, action, category, record_id, actor, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + auditColumns

	created, err := scanAuditEntryRow(r.pool.QueryRow(ctx, query,
		e.ID, e.Action, e.Category, e.RecordID, e.Actor, e.IPAddress, e.UserAgent, e.Details, e.Timestamp,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}

	return created, nil
}

// GetByRecord returns the audit trail of one record, newest first.
func (r *AuditLogRepository) GetByRecord(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE category = $1 AND record_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.pool.Query(ctx, query, category, recordID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditEntryRows(rows)
}

// GetByActor returns entries written on behalf of one actor, newest first.
func (r *AuditLogRepository) GetByActor(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ` + auditColumns + `
		FROM audit_entries
		WHERE actor = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	return scanAuditEntryRows(rows)
}
