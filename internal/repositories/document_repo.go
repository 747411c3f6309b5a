package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/BradenHooton/careguard/internal/database"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxQueryLimit = 500

// DocumentRepository keeps gateway records in a single JSONB table keyed by
// (collection, id).
type DocumentRepository struct {
	pool *pgxpool.Pool
}

func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{pool: db.Pool}
}

const documentColumns = `collection, id, data, created_at, updated_at, version, encrypted`

func scanDocumentRow(scanner rowScanner) (*models.Record, error) {
	var (
		rec models.Record
		raw []byte
	)

	err := scanner.Scan(&rec.Collection, &rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt, &rec.Version, &rec.Encrypted)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	rec.Data = make(models.Document)
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode document %s/%s: %w", rec.Collection, rec.ID, err)
	}

	return &rec, nil
}

// Now returns the database server time, used to stamp record metadata.
func (r *DocumentRepository) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := r.pool.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read server time: %w", err)
	}
	return now.UTC(), nil
}

// Put creates or fully replaces a record.
func (r *DocumentRepository) Put(ctx context.Context, rec *models.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		INSERT INTO documents (collection, id, data, created_at, updated_at, version, encrypted)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = EXCLUDED.data,
		    created_at = EXCLUDED.created_at,
		    updated_at = EXCLUDED.updated_at,
		    version = EXCLUDED.version,
		    encrypted = EXCLUDED.encrypted
	`

	_, err = r.pool.Exec(ctx, query, rec.Collection, rec.ID, data, rec.CreatedAt, rec.UpdatedAt, rec.Version, rec.Encrypted)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", database.MapPostgresError(err))
	}
	return nil
}

// Replace overwrites a record only if its stored version still equals
// expectedVersion.
func (r *DocumentRepository) Replace(ctx context.Context, rec *models.Record, expectedVersion int) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	query := `
		UPDATE documents
		SET data = $3, updated_at = $4, version = $5, encrypted = $6
		WHERE collection = $1 AND id = $2 AND version = $7
	`

	tag, err := r.pool.Exec(ctx, query, rec.Collection, rec.ID, data, rec.UpdatedAt, rec.Version, rec.Encrypted, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s/%s changed concurrently: %w", rec.Collection, rec.ID, models.ErrConflict)
	}
	return nil
}

func (r *DocumentRepository) Get(ctx context.Context, collection, id string) (*models.Record, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE collection = $1 AND id = $2`
	return scanDocumentRow(r.pool.QueryRow(ctx, query, collection, id))
}

func (r *DocumentRepository) Delete(ctx context.Context, collection, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Query returns the records of a collection matching every predicate,
// oldest first.
func (r *DocumentRepository) Query(ctx context.Context, collection string, preds []models.Predicate, limit, offset int) ([]*models.Record, error) {
	args := []any{collection}
	where := []string{"collection = $1"}

	for _, p := range preds {
		clause, err := predicateSQL(p, &args)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
	}

	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := fmt.Sprintf(
		`SELECT %s FROM documents WHERE %s ORDER BY created_at, id LIMIT $%d OFFSET $%d`,
		documentColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", database.MapPostgresError(err))
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Record, error) {
		return scanDocumentRow(row)
	})
}

// DeleteCreatedBefore removes records of a collection created before cutoff
// and returns how many were removed.
func (r *DocumentRepository) DeleteCreatedBefore(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND created_at < $2`, collection, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// predicateSQL renders one predicate against the JSONB body. Field names
// and values are always bound as parameters.
func predicateSQL(p models.Predicate, args *[]any) (string, error) {
	if p.Field == "" {
		return "", fmt.Errorf("%w: predicate field is required", models.ErrBadRequest)
	}

	bind := func(v any) string {
		*args = append(*args, v)
		return fmt.Sprintf("$%d", len(*args))
	}
	field := bind(p.Field) + "::text"

	switch p.Op {
	case models.OpEqual, models.OpNotEqual:
		encoded, err := json.Marshal(p.Value)
		if err != nil {
			return "", fmt.Errorf("%w: predicate value: %v", models.ErrBadRequest, err)
		}
		value := bind(string(encoded)) + "::jsonb"
		if p.Op == models.OpEqual {
			return fmt.Sprintf("data->%s = %s", field, value), nil
		}
		return fmt.Sprintf("data->%s IS DISTINCT FROM %s", field, value), nil

	case models.OpLess, models.OpLessEqual, models.OpGreater, models.OpGreaterEqual:
		op := string(p.Op)
		switch v := p.Value.(type) {
		case string:
			return fmt.Sprintf("data->>%s %s %s", field, op, bind(v)), nil
		case time.Time:
			return fmt.Sprintf("data->>%s %s %s", field, op, bind(v.UTC().Format(time.RFC3339Nano))), nil
		default:
			if !isNumber(v) {
				return "", fmt.Errorf("%w: %s needs a number or string", models.ErrBadRequest, op)
			}
			return fmt.Sprintf(
				"CASE WHEN jsonb_typeof(data->%s) = 'number' THEN (data->>%s)::numeric %s %s::numeric ELSE false END",
				field, field, op, bind(v),
			), nil
		}

	case models.OpIn:
		rv := reflect.ValueOf(p.Value)
		if p.Value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return "", fmt.Errorf("%w: in needs a list value", models.ErrBadRequest)
		}
		encoded := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			b, err := json.Marshal(rv.Index(i).Interface())
			if err != nil {
				return "", fmt.Errorf("%w: predicate value: %v", models.ErrBadRequest, err)
			}
			encoded = append(encoded, string(b))
		}
		return fmt.Sprintf("data->%s = ANY(%s::jsonb[])", field, bind(encoded)), nil
	}

	return "", fmt.Errorf("%w: unsupported operator %q", models.ErrBadRequest, p.Op)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}
