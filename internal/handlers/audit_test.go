package handlers_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/careguard/internal/handlers"
	"github.com/BradenHooton/careguard/internal/handlers/handlerstest"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudit_RecordTrail(t *testing.T) {
	trails := &handlerstest.MockAuditTrails{Entries: []*models.AuditEntry{
		{ID: "a-2", Action: models.AuditActionRead, Category: "residents", RecordID: "r-1", Actor: "nurse-1"},
		{ID: "a-1", Action: models.AuditActionCreate, Category: "residents", RecordID: "r-1", Actor: "nurse-1"},
		{ID: "a-0", Action: models.AuditActionCreate, Category: "residents", RecordID: "r-2", Actor: "nurse-2"},
	}}
	handler := handlers.NewAuditHandler(trails, discardLogger())

	w := httptest.NewRecorder()
	handler.RecordTrail(w, adminRequest(http.MethodGet, "/audit/records/residents/r-1?limit=10&offset=0",
		map[string]string{"collection": "residents", "id": "r-1"}))

	var entries []models.AuditEntry
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "a-2", entries[0].ID)
	assert.Equal(t, 10, trails.LastLimit)
}

func TestAudit_ActorTrail(t *testing.T) {
	trails := &handlerstest.MockAuditTrails{Entries: []*models.AuditEntry{
		{ID: "a-1", Category: "residents", RecordID: "r-1", Actor: "nurse-1"},
		{ID: "a-2", Category: "visits", RecordID: "v-1", Actor: "nurse-2"},
	}}
	handler := handlers.NewAuditHandler(trails, discardLogger())

	w := httptest.NewRecorder()
	handler.ActorTrail(w, adminRequest(http.MethodGet, "/audit/actors/nurse-2", map[string]string{"actor": "nurse-2"}))

	var entries []models.AuditEntry
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "visits", entries[0].Category)
	assert.Equal(t, 50, trails.LastLimit)
	assert.Equal(t, 0, trails.LastOffset)
}

func TestAudit_Errors(t *testing.T) {
	handler := handlers.NewAuditHandler(&handlerstest.MockAuditTrails{Err: errors.New("connection reset")}, discardLogger())

	w := httptest.NewRecorder()
	handler.ActorTrail(w, adminRequest(http.MethodGet, "/audit/actors/nurse-1", map[string]string{"actor": "nurse-1"}))
	handlerstest.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error")

	w = httptest.NewRecorder()
	handler.ActorTrail(w, adminRequest(http.MethodGet, "/audit/actors/nurse-1?offset=x", map[string]string{"actor": "nurse-1"}))
	handlerstest.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}
