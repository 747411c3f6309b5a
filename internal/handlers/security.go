package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/careguard/internal/models"
	pkghttp "github.com/BradenHooton/careguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

const defaultRecentEvents = 100

// ThreatMonitorInterface is the operator-facing part of services.ThreatMonitor.
type ThreatMonitorInterface interface {
	GetActiveAlerts() []models.Alert
	GetActiveThreats() []models.Threat
	GetThreat(id string) (models.Threat, error)
	DismissAlert(id string) error
	ResolveThreat(id string) error
	RecentEvents(n int) []models.SecurityEvent
	RunPeriodicChecks(ctx context.Context) []*models.SecurityEvent
}

// SecurityHandler serves alerts, threats and the event log to administrators.
type SecurityHandler struct {
	monitor ThreatMonitorInterface
	logger  *slog.Logger
}

func NewSecurityHandler(monitor ThreatMonitorInterface, logger *slog.Logger) *SecurityHandler {
	return &SecurityHandler{monitor: monitor, logger: logger}
}

type ScanResponse struct {
	Raised []*models.SecurityEvent `json:"raised"`
}

// ListAlerts handles GET /security/alerts
func (h *SecurityHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.monitor.GetActiveAlerts())
}

// DismissAlert handles POST /security/alerts/{id}/dismiss
func (h *SecurityHandler) DismissAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.DismissAlert(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListThreats handles GET /security/threats
func (h *SecurityHandler) ListThreats(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteJSON(w, http.StatusOK, h.monitor.GetActiveThreats())
}

// GetThreat handles GET /security/threats/{id}
func (h *SecurityHandler) GetThreat(w http.ResponseWriter, r *http.Request) {
	threat, err := h.monitor.GetThreat(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, threat)
}

// ResolveThreat handles POST /security/threats/{id}/resolve
func (h *SecurityHandler) ResolveThreat(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.ResolveThreat(chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecentEvents handles GET /security/events?limit=n
func (h *SecurityHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultRecentEvents)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, h.monitor.RecentEvents(limit))
}

// RunScan handles POST /security/scan
func (h *SecurityHandler) RunScan(w http.ResponseWriter, r *http.Request) {
	raised := h.monitor.RunPeriodicChecks(r.Context())
	if raised == nil {
		raised = []*models.SecurityEvent{}
	}
	pkghttp.WriteJSON(w, http.StatusOK, ScanResponse{Raised: raised})
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &models.ValidationError{Field: name, Reasons: []string{"must be a non-negative integer"}}
	}
	return n, nil
}

// queryBool reads a boolean query parameter.
func queryBool(r *http.Request, name string, fallback bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &models.ValidationError{Field: name, Reasons: []string{"must be true or false"}}
	}
	return b, nil
}
