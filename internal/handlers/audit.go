package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/careguard/internal/models"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

const defaultTrailLimit = 50

// AuditTrailInterface reads audit trails.
type AuditTrailInterface interface {
	GetRecordTrail(ctx context.Context, category, recordID string, limit, offset int) ([]*models.AuditEntry, error)
	GetActorTrail(ctx context.Context, actor string, limit, offset int) ([]*models.AuditEntry, error)
}

// AuditHandler serves audit trails to administrators.
type AuditHandler struct {
	trails AuditTrailInterface
	logger *slog.Logger
}

func NewAuditHandler(trails AuditTrailInterface, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{trails: trails, logger: logger}
}

func paging(r *http.Request) (int, int, error) {
	limit, err := queryInt(r, "limit", defaultTrailLimit)
	if err != nil {
		return 0, 0, err
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// RecordTrail handles GET /audit/records/{collection}/{id}
func (h *AuditHandler) RecordTrail(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	collection, id := target(r)
	entries, err := h.trails.GetRecordTrail(r.Context(), collection, id, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, entries)
}

// ActorTrail handles GET /audit/actors/{actor}
func (h *AuditHandler) ActorTrail(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	entries, err := h.trails.GetActorTrail(r.Context(), chi.URLParam(r, "actor"), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, entries)
}
