package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/careguard/internal/auth"
	"github.com/BradenHooton/careguard/internal/background"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/google/uuid"
)

// AuditLogStore is the append-only persistence of audit entries.
type AuditLogStore interface {
	Create(ctx context.Context, e *models.AuditEntry) (*models.AuditEntry, error)
	GetByRecord(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error)
	GetByActor(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error)
}

// AuditService handles audit logging with dual-write pattern (slog + database)
type AuditService struct {
	repo    AuditLogStore
	enabled bool
	clock   background.Clock
	logger  *slog.Logger
}

// NewAuditService creates a new AuditService. With enabled false, Record
// writes nothing.
func NewAuditService(repo AuditLogStore, enabled bool, clock background.Clock, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:    repo,
		enabled: enabled,
		clock:   clock,
		logger:  logger,
	}
}

// Record stamps and writes an entry. Actor, IP and user agent come from ctx
// when the entry leaves them empty. Persistence failures are logged and
// reported in the outcome only.
func (s *AuditService) Record(ctx context.Context, entry *models.AuditEntry) models.AuditOutcome {
	if !s.enabled {
		return models.AuditOutcome{}
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.clock.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = auth.ActorFromContext(ctx)
	}
	info := auth.RequestInfoFromContext(ctx)
	if entry.IPAddress == "" {
		entry.IPAddress = info.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = info.UserAgent
	}

	// Dual-write: immediate slog output
	s.logger.InfoContext(ctx, "audit entry",
		slog.String("audit_id", entry.ID),
		slog.String("action", entry.Action),
		slog.String("category", entry.Category),
		slog.String("record_id", entry.RecordID),
		slog.String("actor", entry.Actor),
		slog.Any("details", entry.Details),
	)

	outcome := models.AuditOutcome{Attempted: true, EntryID: entry.ID}

	created, err := s.repo.Create(ctx, entry)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit entry",
			slog.String("audit_id", entry.ID),
			slog.String("action", entry.Action),
			slog.Any("error", err),
		)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Recorded = true
	outcome.EntryID = created.ID
	return outcome
}

// GetRecordTrail returns the audit trail of one record, newest first
func (s *AuditService) GetRecordTrail(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error) {
	limit, offset = clampPage(limit, offset)

	entries, err := s.repo.GetByRecord(ctx, category, recordID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get record audit trail: %w", err)
	}
	return entries, nil
}

// GetActorTrail returns the entries written on behalf of one actor
func (s *AuditService) GetActorTrail(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error) {
	limit, offset = clampPage(limit, offset)

	entries, err := s.repo.GetByActor(ctx, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get actor audit trail: %w", err)
	}
	return entries, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
