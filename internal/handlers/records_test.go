package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BradenHooton/careguard/internal/background"
	"github.com/BradenHooton/careguard/internal/handlers"
	"github.com/BradenHooton/careguard/internal/handlers/handlerstest"
	"github.com/BradenHooton/careguard/internal/models"
	"github.com/BradenHooton/careguard/internal/services"
	"github.com/BradenHooton/careguard/internal/services/servicestest"
	"github.com/BradenHooton/careguard/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handlerVaultKey = "Zr5$wQ8!kLm2@pXv7#nTb4&jHc9*gFdY"

type recordFixture struct {
	handler *handlers.RecordHandler
	store   *servicestest.MemoryDocumentStore
	audit   *servicestest.MockAuditLogStore
	clock   *background.ManualScheduler
}

func newRecordHandler(t *testing.T) *recordFixture {
	t.Helper()

	v, err := vault.New(handlerVaultKey)
	require.NoError(t, err)

	f := &recordFixture{
		audit: &servicestest.MockAuditLogStore{},
		clock: background.NewManualScheduler(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	f.store = servicestest.NewMemoryDocumentStore(f.clock.Now)
	auditSvc := services.NewAuditService(f.audit, true, f.clock, discardLogger())
	gateway := services.NewSecureGateway(f.store, v, auditSvc, &servicestest.EventRecorder{}, true, discardLogger())
	f.handler = handlers.NewRecordHandler(gateway, true, discardLogger())
	return f
}

func recordRequest(t *testing.T, method, path string, body any, params map[string]string) *http.Request {
	req := handlerstest.NewTestRequest(t, method, path, body)
	req = handlerstest.WithSession(req, "nurse-1", models.RoleMember)
	return handlerstest.WithURLParams(req, params)
}

func resident() models.Document {
	return models.Document{"name": "Ada Lovelace", "ssn": "123-45-6789", "room": "12B"}
}

type writeResponse struct {
	Value services.WriteReceipt `json:"value"`
	Audit models.AuditOutcome   `json:"audit"`
}

type fetchResponse struct {
	Value models.Document     `json:"value"`
	Audit models.AuditOutcome `json:"audit"`
}

func TestRecords_StoreAndFetch(t *testing.T) {
	f := newRecordHandler(t)
	params := map[string]string{"collection": "residents", "id": "r-1"}

	w := httptest.NewRecorder()
	f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/residents/r-1", handlers.WriteRecordRequest{Data: resident()}, params))

	var stored writeResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusCreated, &stored)
	assert.Equal(t, 1, stored.Value.Version)
	assert.True(t, stored.Value.Encrypted)
	assert.True(t, stored.Audit.Recorded)

	raw, ok := f.store.Raw("residents", "r-1")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(raw.Data["ssn"].(string), vault.Prefix))

	w = httptest.NewRecorder()
	f.handler.Fetch(w, recordRequest(t, http.MethodGet, "/records/residents/r-1", nil, params))

	var fetched fetchResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &fetched)
	assert.Equal(t, "123-45-6789", fetched.Value["ssn"])
	assert.NotContains(t, fetched.Value, vault.EncryptedFlag)

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, models.AuditActionCreate, entries[0].Action)
	assert.Equal(t, models.AuditActionRead, entries[1].Action)
	assert.Equal(t, "nurse-1", entries[1].Actor)
}

func TestRecords_FetchWithoutDecrypt(t *testing.T) {
	f := newRecordHandler(t)
	params := map[string]string{"collection": "residents", "id": "r-1"}

	w := httptest.NewRecorder()
	f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/residents/r-1", handlers.WriteRecordRequest{Data: resident()}, params))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	f.handler.Fetch(w, recordRequest(t, http.MethodGet, "/records/residents/r-1?decrypt=false", nil, params))

	var fetched fetchResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &fetched)
	assert.True(t, strings.HasPrefix(fetched.Value["ssn"].(string), vault.Prefix))
	assert.Equal(t, true, fetched.Value[vault.EncryptedFlag])

	w = httptest.NewRecorder()
	f.handler.Fetch(w, recordRequest(t, http.MethodGet, "/records/residents/r-1?decrypt=maybe", nil, params))
	handlerstest.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}

func TestRecords_StorePlaintextOnRequest(t *testing.T) {
	f := newRecordHandler(t)
	plain := false

	w := httptest.NewRecorder()
	f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/residents/r-2",
		handlers.WriteRecordRequest{Data: resident(), Encrypt: &plain},
		map[string]string{"collection": "residents", "id": "r-2"}))

	var stored writeResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusCreated, &stored)
	assert.False(t, stored.Value.Encrypted)

	raw, _ := f.store.Raw("residents", "r-2")
	assert.Equal(t, "123-45-6789", raw.Data["ssn"])
}

func TestRecords_UpdateAndRemove(t *testing.T) {
	f := newRecordHandler(t)
	params := map[string]string{"collection": "residents", "id": "r-1"}

	w := httptest.NewRecorder()
	f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/residents/r-1", handlers.WriteRecordRequest{Data: resident()}, params))
	require.Equal(t, http.StatusCreated, w.Code)

	// null removes a field
	body := strings.NewReader(`{"data":{"room":"14C","name":null}}`)
	req := httptest.NewRequest(http.MethodPatch, "/records/residents/r-1", body)
	req = handlerstest.WithURLParams(handlerstest.WithSession(req, "nurse-1", models.RoleMember), params)

	w = httptest.NewRecorder()
	f.handler.Update(w, req)

	var updated writeResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &updated)
	assert.Equal(t, 2, updated.Value.Version)

	raw, _ := f.store.Raw("residents", "r-1")
	assert.Equal(t, "14C", raw.Data["room"])
	assert.NotContains(t, raw.Data, "name")

	w = httptest.NewRecorder()
	f.handler.Remove(w, recordRequest(t, http.MethodDelete, "/records/residents/r-1", nil, params))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	f.handler.Fetch(w, recordRequest(t, http.MethodGet, "/records/residents/r-1", nil, params))
	handlerstest.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")

	w = httptest.NewRecorder()
	f.handler.Update(w, recordRequest(t, http.MethodPatch, "/records/residents/r-1", handlers.WriteRecordRequest{Data: models.Document{"room": "1A"}}, params))
	handlerstest.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestRecords_Query(t *testing.T) {
	f := newRecordHandler(t)
	for id, room := range map[string]string{"r-1": "12B", "r-2": "12B", "r-3": "3A"} {
		doc := resident()
		doc["room"] = room
		w := httptest.NewRecorder()
		f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/residents/"+id, handlers.WriteRecordRequest{Data: doc},
			map[string]string{"collection": "residents", "id": id}))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := httptest.NewRecorder()
	f.handler.Query(w, recordRequest(t, http.MethodPost, "/records/residents/query", handlers.QueryRecordsRequest{
		Predicates: []models.Predicate{{Field: "room", Op: models.OpEqual, Value: "12B"}},
	}, map[string]string{"collection": "residents"}))

	var resp struct {
		Value []services.QueryHit `json:"value"`
	}
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Value, 2)
	for _, hit := range resp.Value {
		assert.Equal(t, "123-45-6789", hit.Data["ssn"])
	}

	w = httptest.NewRecorder()
	f.handler.Query(w, recordRequest(t, http.MethodPost, "/records/residents/query", handlers.QueryRecordsRequest{
		Predicates: []models.Predicate{{Field: "room", Op: "~=", Value: "12"}},
	}, map[string]string{"collection": "residents"}))
	handlerstest.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}

func TestRecords_BatchReportsPartialFailure(t *testing.T) {
	f := newRecordHandler(t)

	w := httptest.NewRecorder()
	f.handler.Batch(w, recordRequest(t, http.MethodPost, "/records/batch", handlers.BatchRequest{
		Operations: []models.BatchOperation{
			{Type: models.BatchCreate, Collection: "residents", ID: "r-1", Data: resident(), Encrypt: true},
			{Type: models.BatchUpdate, Collection: "residents", ID: "missing", Data: models.Document{"room": "1A"}},
			{Type: models.BatchDelete, Collection: "residents", ID: "r-1"},
		},
	}, nil))

	var resp struct {
		Value []models.BatchOutcome `json:"value"`
		Audit models.AuditOutcome   `json:"audit"`
	}
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &resp)
	require.Len(t, resp.Value, 3)
	assert.True(t, resp.Value[0].Success)
	assert.False(t, resp.Value[1].Success)
	assert.NotEmpty(t, resp.Value[1].Error)
	assert.True(t, resp.Value[2].Success)
	assert.True(t, resp.Audit.Recorded)

	w = httptest.NewRecorder()
	f.handler.Batch(w, recordRequest(t, http.MethodPost, "/records/batch", handlers.BatchRequest{}, nil))
	handlerstest.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}

func TestRecords_Cleanup(t *testing.T) {
	f := newRecordHandler(t)
	for _, id := range []string{"r-1", "r-2"} {
		w := httptest.NewRecorder()
		f.handler.Store(w, recordRequest(t, http.MethodPut, "/records/visits/"+id, handlers.WriteRecordRequest{Data: models.Document{"room": "1A"}},
			map[string]string{"collection": "visits", "id": id}))
		require.Equal(t, http.StatusCreated, w.Code)
	}
	f.clock.Advance(31 * 24 * time.Hour)

	w := httptest.NewRecorder()
	f.handler.Cleanup(w, recordRequest(t, http.MethodPost, "/records/visits/cleanup", handlers.CleanupRequest{RetentionDays: 30},
		map[string]string{"collection": "visits"}))

	var resp handlers.CleanupResponse
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, int64(2), resp.Removed)
	assert.True(t, resp.Audit.Recorded)
}

func TestRecords_Anonymize(t *testing.T) {
	f := newRecordHandler(t)

	w := httptest.NewRecorder()
	f.handler.Anonymize(w, recordRequest(t, http.MethodPost, "/records/anonymize", handlers.AnonymizeRequest{
		Data:   resident(),
		Fields: []string{"name", "ssn"},
	}, nil))

	var doc models.Document
	handlerstest.AssertJSONResponse(t, w, http.StatusOK, &doc)
	assert.NotEqual(t, "Ada Lovelace", doc["name"])
	assert.NotEqual(t, "123-45-6789", doc["ssn"])
	assert.Equal(t, "12B", doc["room"])
	assert.Empty(t, f.audit.Entries())
}

func TestRecords_DecryptionFailureIs422(t *testing.T) {
	f := newRecordHandler(t)
	f.store.Seed(&models.Record{
		Collection: "residents",
		ID:         "r-bad",
		Data:       models.Document{"ssn": vault.Prefix + "deadbeef:AAAA", vault.EncryptedFlag: true},
		Version:    1,
		Encrypted:  true,
		CreatedAt:  f.clock.Now(),
		UpdatedAt:  f.clock.Now(),
	})

	w := httptest.NewRecorder()
	f.handler.Fetch(w, recordRequest(t, http.MethodGet, "/records/residents/r-bad", nil,
		map[string]string{"collection": "residents", "id": "r-bad"}))

	handlerstest.AssertErrorResponse(t, w, http.StatusUnprocessableEntity, "decryption_failed")
}
