package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/services"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// GatewayInterface is the record API of services.SecureGateway.
type GatewayInterface interface {
	Store(ctx context.Context, collection, id string, data models.Document, opts services.WriteOptions) (services.Result[*services.WriteReceipt], error)
	Fetch(ctx context.Context, collection, id string, opts services.ReadOptions) (services.Result[models.Document], error)
	Update(ctx context.Context, collection, id string, patch models.Document, opts services.WriteOptions) (services.Result[*services.WriteReceipt], error)
	Remove(ctx context.Context, collection, id string, opts services.ReadOptions) (services.Result[struct{}], error)
	Query(ctx context.Context, collection string, preds []models.Predicate, opts services.QueryOptions) (services.Result[[]services.QueryHit], error)
	Batch(ctx context.Context, ops []models.BatchOperation) (services.Result[[]models.BatchOutcome], error)
	CleanupExpired(ctx context.Context, collection string, retentionDays int) (services.Result[int64], error)
	Anonymize(doc models.Document, fields []string) models.Document
}

// RecordHandler exposes care records through the gateway. Every request is
// audited when audit logging is enabled.
type RecordHandler struct {
	gateway GatewayInterface
	audit   bool
	logger  *slog.Logger
}

func NewRecordHandler(gateway GatewayInterface, audit bool, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{gateway: gateway, audit: audit, logger: logger}
}

// Request DTOs

// WriteRecordRequest is the body of store and update. Encrypt defaults to
// true.
type WriteRecordRequest struct {
	Data    models.Document `json:"data" validate:"required"`
	Encrypt *bool           `json:"encrypt,omitempty"`
}

func (req WriteRecordRequest) encrypt() bool {
	return req.Encrypt == nil || *req.Encrypt
}

type QueryRecordsRequest struct {
	Predicates []models.Predicate `json:"predicates" validate:"max=16,dive"`
	Limit      int                `json:"limit" validate:"gte=0,lte=500"`
	Offset     int                `json:"offset" validate:"gte=0"`
	Decrypt    *bool              `json:"decrypt,omitempty"`
}

type BatchRequest struct {
	Operations []models.BatchOperation `json:"operations" validate:"required,min=1,max=100,dive"`
}

type CleanupRequest struct {
	RetentionDays int `json:"retention_days" validate:"gte=0"`
}

type AnonymizeRequest struct {
	Data   models.Document `json:"data" validate:"required"`
	Fields []string        `json:"fields" validate:"required,min=1"`
}

// Response DTOs

type CleanupResponse struct {
	Removed int64               `json:"removed"`
	Audit   models.AuditOutcome `json:"audit"`
}

func target(r *http.Request) (string, string) {
	return chi.URLParam(r, "collection"), chi.URLParam(r, "id")
}

// Store handles PUT /records/{collection}/{id}
func (h *RecordHandler) Store(w http.ResponseWriter, r *http.Request) {
	var req WriteRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	collection, id := target(r)
	res, err := h.gateway.Store(r.Context(), collection, id, req.Data, services.WriteOptions{Encrypt: req.encrypt(), Audit: h.audit})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, res)
}

// Fetch handles GET /records/{collection}/{id}?decrypt=bool
func (h *RecordHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	decrypt, err := queryBool(r, "decrypt", true)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	collection, id := target(r)
	res, err := h.gateway.Fetch(r.Context(), collection, id, services.ReadOptions{Decrypt: decrypt, Audit: h.audit})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Update handles PATCH /records/{collection}/{id}. A null value removes
// the field.
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req WriteRecordRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	collection, id := target(r)
	res, err := h.gateway.Update(r.Context(), collection, id, req.Data, services.WriteOptions{Encrypt: req.encrypt(), Audit: h.audit})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Remove handles DELETE /records/{collection}/{id}
func (h *RecordHandler) Remove(w http.ResponseWriter, r *http.Request) {
	collection, id := target(r)
	res, err := h.gateway.Remove(r.Context(), collection, id, services.ReadOptions{Audit: h.audit})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Query handles POST /records/{collection}/query
func (h *RecordHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRecordsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	opts := services.QueryOptions{
		Decrypt: req.Decrypt == nil || *req.Decrypt,
		Audit:   h.audit,
		Limit:   req.Limit,
		Offset:  req.Offset,
	}
	res, err := h.gateway.Query(r.Context(), chi.URLParam(r, "collection"), req.Predicates, opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Batch handles POST /records/batch. Per-operation failures are reported in
// the outcomes with a 200.
func (h *RecordHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.gateway.Batch(r.Context(), req.Operations)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, res)
}

// Cleanup handles POST /records/{collection}/cleanup
func (h *RecordHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	res, err := h.gateway.CleanupExpired(r.Context(), chi.URLParam(r, "collection"), req.RetentionDays)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, CleanupResponse{Removed: res.Value, Audit: res.Audit})
}

// Anonymize handles POST /records/anonymize. Nothing is stored.
func (h *RecordHandler) Anonymize(w http.ResponseWriter, r *http.Request) {
	var req AnonymizeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.gateway.Anonymize(req.Data, req.Fields))
}
