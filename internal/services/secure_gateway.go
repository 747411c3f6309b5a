package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/pkg/vault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName  = "github.com/BradenHooton/careguard/internal/services"
	maxBatchOps = 100
	batchScope  = "batch"
)

// DocumentStore is the backing store of the gateway.
type DocumentStore interface {
	Now(ctx context.Context) (time.Time, error)
	Put(ctx context.Context, rec *models.Record) error
	Replace(ctx context.Context, rec *models.Record, expectedVersion int) error
	Get(ctx context.Context, collection, id string) (*models.Record, error)
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, preds []models.Predicate, limit, offset int) ([]*models.Record, error)
	DeleteCreatedBefore(ctx context.Context, collection string, cutoff time.Time) (int64, error)
}

// FieldCipher seals and opens allow-listed document fields.
type FieldCipher interface {
	EncryptFields(doc map[string]any, fields []string) (map[string]any, error)
	DecryptFields(doc map[string]any, fields []string) (map[string]any, error)
	SensitiveFields() []string
	Hash(data any) string
}

// AuditRecorder writes audit entries on a best-effort basis.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) models.AuditOutcome
}

// Result pairs the value of a gateway operation with the outcome of its
// audit write. A failed audit never turns into an error of the operation.
type Result[T any] struct {
	Value T                   `json:"value"`
	Audit models.AuditOutcome `json:"audit"`
}

type WriteOptions struct {
	Encrypt bool
	Audit   bool
}

type ReadOptions struct {
	Decrypt bool
	Audit   bool
}

type QueryOptions struct {
	Decrypt bool
	Audit   bool
	Limit   int
	Offset  int
}

// WriteReceipt describes a stored record.
type WriteReceipt struct {
	Collection string    `json:"collection"`
	ID         string    `json:"id"`
	Version    int       `json:"version"`
	Encrypted  bool      `json:"encrypted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QueryHit is one record returned by Query.
type QueryHit struct {
	ID   string          `json:"id"`
	Data models.Document `json:"data"`
}

// SecureGateway is the audited, encrypting facade over a DocumentStore.
type SecureGateway struct {
	store      DocumentStore
	cipher     FieldCipher
	audit      AuditRecorder
	events     SecurityEventLogger
	encryption bool
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewSecureGateway builds a gateway. When encryption is false, write
// requests to encrypt are stored in plaintext; records already sealed
// stay sealed.
func NewSecureGateway(store DocumentStore, cipher FieldCipher, audit AuditRecorder, events SecurityEventLogger, encryption bool, logger *slog.Logger) *SecureGateway {
	return &SecureGateway{
		store:      store,
		cipher:     cipher,
		audit:      audit,
		events:     events,
		encryption: encryption,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}
}

func (g *SecureGateway) start(ctx context.Context, op, collection, id string) (context.Context, trace.Span) {
	return g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(
		attribute.String("careguard.collection", collection),
		attribute.String("careguard.record_id", id),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func validateTarget(collection, id string) error {
	reasons := make([]string, 0)
	if collection == "" {
		reasons = append(reasons, "collection is required")
	}
	if id == "" {
		reasons = append(reasons, "id is required")
	}
	if len(reasons) > 0 {
		return &models.ValidationError{Field: "record", Reasons: reasons}
	}
	return nil
}

// cleanInput copies caller data without the reserved encryption flag.
func cleanInput(data models.Document) models.Document {
	doc := data.Clone()
	delete(doc, vault.EncryptedFlag)
	return doc
}

func (g *SecureGateway) seal(doc models.Document) (models.Document, bool, error) {
	out, err := g.cipher.EncryptFields(doc, g.cipher.SensitiveFields())
	if err != nil {
		return nil, false, err
	}
	sealed, _ := out[vault.EncryptedFlag].(bool)
	return out, sealed, nil
}

// open returns the plaintext body of a record with metadata stripped. When
// decrypt is false a sealed body keeps its ciphertext and flag.
func (g *SecureGateway) open(rec *models.Record, decrypt bool) (models.Document, error) {
	doc := rec.Data.Clone()
	if !rec.Encrypted {
		delete(doc, vault.EncryptedFlag)
		return doc, nil
	}
	if !decrypt {
		return doc, nil
	}
	out, err := g.cipher.DecryptFields(doc, g.cipher.SensitiveFields())
	if err != nil {
		return nil, fmt.Errorf("record %s/%s: %w", rec.Collection, rec.ID, err)
	}
	delete(out, vault.EncryptedFlag)
	return out, nil
}

// Store writes a new version 1 record, replacing any record with the same
// collection and id.
func (g *SecureGateway) Store(ctx context.Context, collection, id string, data models.Document, opts WriteOptions) (Result[*WriteReceipt], error) {
	ctx, span := g.start(ctx, "Store", collection, id)
	defer span.End()

	if err := validateTarget(collection, id); err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	doc := cleanInput(data)
	encrypted := false
	if opts.Encrypt && g.encryption {
		var err error
		if doc, encrypted, err = g.seal(doc); err != nil {
			return Result[*WriteReceipt]{}, fail(span, err)
		}
	}

	now, err := g.store.Now(ctx)
	if err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	rec := &models.Record{
		Collection: collection,
		ID:         id,
		Data:       doc,
		CreatedAt:  now,
		UpdatedAt:  now,
		Version:    1,
		Encrypted:  encrypted,
	}
	if err := g.store.Put(ctx, rec); err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	res := Result[*WriteReceipt]{Value: receiptOf(rec)}
	res.Audit = g.recordAudit(ctx, opts.Audit, models.AuditActionCreate, collection, id, models.AuditDetails{
		"version":   rec.Version,
		"encrypted": encrypted,
	})
	g.events.LogSecurityEvent(ctx, models.DataModified{Collection: collection, RecordID: id, Operation: models.AuditActionCreate})

	return res, nil
}

// Fetch reads a record and returns its body without metadata.
func (g *SecureGateway) Fetch(ctx context.Context, collection, id string, opts ReadOptions) (Result[models.Document], error) {
	ctx, span := g.start(ctx, "Fetch", collection, id)
	defer span.End()

	if err := validateTarget(collection, id); err != nil {
		return Result[models.Document]{}, fail(span, err)
	}

	rec, err := g.store.Get(ctx, collection, id)
	if err != nil {
		return Result[models.Document]{}, fail(span, err)
	}

	doc, err := g.open(rec, opts.Decrypt)
	if err != nil {
		return Result[models.Document]{}, fail(span, err)
	}

	res := Result[models.Document]{Value: doc}
	res.Audit = g.recordAudit(ctx, opts.Audit, models.AuditActionRead, collection, id, models.AuditDetails{
		"decrypted": opts.Decrypt && rec.Encrypted,
	})
	g.events.LogSecurityEvent(ctx, models.DataAccess{Collection: collection, RecordID: id, Operation: models.AuditActionRead, Count: 1})

	return res, nil
}

// Update merges patch into a record and bumps its version. A nil value in
// patch removes the field. Sealed records stay sealed.
func (g *SecureGateway) Update(ctx context.Context, collection, id string, patch models.Document, opts WriteOptions) (Result[*WriteReceipt], error) {
	ctx, span := g.start(ctx, "Update", collection, id)
	defer span.End()

	if err := validateTarget(collection, id); err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	current, err := g.store.Get(ctx, collection, id)
	if err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	doc, err := g.open(current, true)
	if err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}
	for k, v := range cleanInput(patch) {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	encrypted := false
	if current.Encrypted || (opts.Encrypt && g.encryption) {
		if doc, encrypted, err = g.seal(doc); err != nil {
			return Result[*WriteReceipt]{}, fail(span, err)
		}
	}

	now, err := g.store.Now(ctx)
	if err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	rec := &models.Record{
		Collection: collection,
		ID:         id,
		Data:       doc,
		CreatedAt:  current.CreatedAt,
		UpdatedAt:  now,
		Version:    current.Version + 1,
		Encrypted:  encrypted,
	}
	if err := g.store.Replace(ctx, rec, current.Version); err != nil {
		return Result[*WriteReceipt]{}, fail(span, err)
	}

	res := Result[*WriteReceipt]{Value: receiptOf(rec)}
	res.Audit = g.recordAudit(ctx, opts.Audit, models.AuditActionUpdate, collection, id, models.AuditDetails{
		"version":   rec.Version,
		"fields":    len(patch),
		"encrypted": encrypted,
	})
	g.events.LogSecurityEvent(ctx, models.DataModified{Collection: collection, RecordID: id, Operation: models.AuditActionUpdate})

	return res, nil
}

// Remove deletes a record. The DELETE audit entry is written first.
func (g *SecureGateway) Remove(ctx context.Context, collection, id string, opts ReadOptions) (Result[struct{}], error) {
	ctx, span := g.start(ctx, "Remove", collection, id)
	defer span.End()

	if err := validateTarget(collection, id); err != nil {
		return Result[struct{}]{}, fail(span, err)
	}

	res := Result[struct{}]{}
	res.Audit = g.recordAudit(ctx, opts.Audit, models.AuditActionDelete, collection, id, nil)

	if err := g.store.Delete(ctx, collection, id); err != nil {
		return res, fail(span, err)
	}

	g.events.LogSecurityEvent(ctx, models.DataModified{Collection: collection, RecordID: id, Operation: models.AuditActionDelete})
	return res, nil
}

// Query returns the records of collection matching every predicate, with
// one QUERY audit entry for the whole result.
func (g *SecureGateway) Query(ctx context.Context, collection string, preds []models.Predicate, opts QueryOptions) (Result[[]QueryHit], error) {
	ctx, span := g.start(ctx, "Query", collection, "")
	defer span.End()

	if collection == "" {
		return Result[[]QueryHit]{}, fail(span, &models.ValidationError{Field: "collection", Reasons: []string{"is required"}})
	}
	for _, p := range preds {
		if p.Field == "" || !p.Op.Valid() {
			return Result[[]QueryHit]{}, fail(span, &models.ValidationError{
				Field:   "predicates",
				Reasons: []string{fmt.Sprintf("invalid predicate %q %q", p.Field, p.Op)},
			})
		}
	}

	records, err := g.store.Query(ctx, collection, preds, opts.Limit, opts.Offset)
	if err != nil {
		return Result[[]QueryHit]{}, fail(span, err)
	}

	hits := make([]QueryHit, 0, len(records))
	for _, rec := range records {
		doc, err := g.open(rec, opts.Decrypt)
		if err != nil {
			return Result[[]QueryHit]{}, fail(span, err)
		}
		hits = append(hits, QueryHit{ID: rec.ID, Data: doc})
	}
	span.SetAttributes(attribute.Int("careguard.result_count", len(hits)))

	res := Result[[]QueryHit]{Value: hits}
	res.Audit = g.recordAudit(ctx, opts.Audit, models.AuditActionQuery, collection, "", models.AuditDetails{
		"count":      len(hits),
		"predicates": len(preds),
	})
	g.events.LogSecurityEvent(ctx, models.DataAccess{Collection: collection, Operation: models.AuditActionQuery, Count: len(hits)})

	return res, nil
}

// Batch runs heterogeneous operations in order. A failing operation is
// reported in its outcome and does not stop the rest.
func (g *SecureGateway) Batch(ctx context.Context, ops []models.BatchOperation) (Result[[]models.BatchOutcome], error) {
	ctx, span := g.start(ctx, "Batch", batchScope, "")
	defer span.End()

	if len(ops) == 0 || len(ops) > maxBatchOps {
		return Result[[]models.BatchOutcome]{}, fail(span, &models.ValidationError{
			Field:   "operations",
			Reasons: []string{fmt.Sprintf("must contain between 1 and %d operations", maxBatchOps)},
		})
	}

	outcomes := make([]models.BatchOutcome, 0, len(ops))
	succeeded := 0
	for i, op := range ops {
		var err error
		switch op.Type {
		case models.BatchCreate:
			_, err = g.Store(ctx, op.Collection, op.ID, op.Data, WriteOptions{Encrypt: op.Encrypt})
		case models.BatchUpdate:
			_, err = g.Update(ctx, op.Collection, op.ID, op.Data, WriteOptions{Encrypt: op.Encrypt})
		case models.BatchDelete:
			_, err = g.Remove(ctx, op.Collection, op.ID, ReadOptions{})
		default:
			err = &models.ValidationError{Field: "type", Reasons: []string{fmt.Sprintf("unknown operation %q", op.Type)}}
		}

		outcome := models.BatchOutcome{Index: i, Type: op.Type, Collection: op.Collection, ID: op.ID, Success: err == nil}
		if err != nil {
			outcome.Error = err.Error()
		} else {
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	res := Result[[]models.BatchOutcome]{Value: outcomes}
	res.Audit = g.recordAudit(ctx, true, models.AuditActionBatch, batchScope, "", models.AuditDetails{
		"operations": len(ops),
		"succeeded":  succeeded,
		"failed":     len(ops) - succeeded,
	})
	return res, nil
}

// Anonymize returns a copy of doc with the named fields replaced by their
// hash. Missing and nil fields are left out.
func (g *SecureGateway) Anonymize(doc models.Document, fields []string) models.Document {
	out := doc.Clone()
	for _, f := range fields {
		if v, ok := out[f]; ok && v != nil {
			out[f] = g.cipher.Hash(v)
		}
	}
	return out
}

// CleanupExpired deletes the records of collection created more than
// retentionDays ago and returns how many were removed.
func (g *SecureGateway) CleanupExpired(ctx context.Context, collection string, retentionDays int) (Result[int64], error) {
	ctx, span := g.start(ctx, "CleanupExpired", collection, "")
	defer span.End()

	if collection == "" {
		return Result[int64]{}, fail(span, &models.ValidationError{Field: "collection", Reasons: []string{"is required"}})
	}
	if retentionDays < 0 {
		return Result[int64]{}, fail(span, &models.ValidationError{Field: "retention_days", Reasons: []string{"must not be negative"}})
	}

	now, err := g.store.Now(ctx)
	if err != nil {
		return Result[int64]{}, fail(span, err)
	}
	cutoff := now.AddDate(0, 0, -retentionDays)

	removed, err := g.store.DeleteCreatedBefore(ctx, collection, cutoff)
	if err != nil {
		return Result[int64]{}, fail(span, err)
	}
	span.SetAttributes(attribute.Int64("careguard.removed", removed))

	res := Result[int64]{Value: removed}
	res.Audit = g.recordAudit(ctx, true, models.AuditActionCleanup, collection, "", models.AuditDetails{
		"removed":        removed,
		"retention_days": retentionDays,
		"cutoff":         cutoff.Format(time.RFC3339),
	})
	if removed > 0 {
		g.events.LogSecurityEvent(ctx, models.DataModified{Collection: collection, Operation: models.AuditActionCleanup})
	}

	g.logger.InfoContext(ctx, "expired records removed",
		slog.String("collection", collection),
		slog.Int64("removed", removed),
		slog.Int("retention_days", retentionDays),
	)
	return res, nil
}

func (g *SecureGateway) recordAudit(ctx context.Context, enabled bool, action, category, recordID string, details models.AuditDetails) models.AuditOutcome {
	if !enabled || g.audit == nil {
		return models.AuditOutcome{}
	}
	return g.audit.Record(ctx, &models.AuditEntry{
		Action:   action,
		Category: category,
		RecordID: recordID,
		Details:  details,
	})
}

func receiptOf(rec *models.Record) *WriteReceipt {
	return &WriteReceipt{
		Collection: rec.Collection,
		ID:         rec.ID,
		Version:    rec.Version,
		Encrypted:  rec.Encrypted,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// IsDecryptionFailure reports whether err came from opening sealed fields.
func IsDecryptionFailure(err error) bool {
	return errors.Is(err, vault.ErrDecryption)
}
