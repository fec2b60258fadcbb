package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-reconciliation-backend/internal/middleware"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/allocation"
	"invoice-reconciliation-backend/internal/services/matching"
	tu "invoice-reconciliation-backend/internal/testutil"
)

type server struct {
	t     *testing.T
	r     *gin.Engine
	store *repository.Store
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	store := tu.NewStore(t)
	r := gin.New()
	RegisterRoutes(r, store.DB(), matching.DefaultConfig(), allocation.DefaultMaxAttempts)
	return &server{t: t, r: r, store: store}
}

func (s *server) do(method, path string, role models.Role, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(middleware.HeaderUserID, "u-"+string(role))
		req.Header.Set(middleware.HeaderUserRole, string(role))
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReconcile_RoleGate(t *testing.T) {
	s := newServer(t)
	tu.Invoice(t, s.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Transaction(t, s.store, "S-1", "INV-1", "", "100.00", tu.Day)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/dashboard/reconcile", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/dashboard/reconcile", models.RoleViewer, nil).Code)

	w := s.do(http.MethodPost, "/api/dashboard/reconcile", models.RoleEditor, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		RunID      uuid.UUID `json:"runId"`
		NewMatches int       `json:"newMatches"`
	}
	decode(t, w, &body)
	assert.Equal(t, 1, body.NewMatches)

	w = s.do(http.MethodGet, "/api/reconciliation/runs/"+body.RunID.String(), models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var run models.ReconciliationRun
	decode(t, w, &run)
	assert.Equal(t, models.RunStatusCompleted, run.Status)

	w = s.do(http.MethodGet, "/api/reconciliation/runs/"+uuid.NewString(), models.RoleViewer, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummaryAndLists(t *testing.T) {
	s := newServer(t)
	tu.Invoice(t, s.store, "L-1", "INV-1", "100.00", tu.Day)
	tu.Transaction(t, s.store, "S-1", "", "", "40.00", tu.Day)

	w := s.do(http.MethodGet, "/api/dashboard/summary", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum map[string]interface{}
	decode(t, w, &sum)
	assert.EqualValues(t, 1, sum["totalInvoices"])
	assert.Contains(t, sum, "matchPercentByAmount")

	w = s.do(http.MethodGet, "/api/dashboard/invoices?status=unmatched", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var invoices []models.Invoice
	decode(t, w, &invoices)
	assert.Len(t, invoices, 1)

	w = s.do(http.MethodGet, "/api/dashboard/transactions?status=matched", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var txs []models.BankTransaction
	decode(t, w, &txs)
	assert.Empty(t, txs)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/dashboard/invoices/nope/matches", models.RoleViewer, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/dashboard/invoices/"+uuid.NewString()+"/matches", models.RoleViewer, nil).Code)
}

func TestLink_DefaultsReasonAndMapsErrors(t *testing.T) {
	s := newServer(t)
	inv := tu.Invoice(t, s.store, "L-1", "INV-1", "100.00", tu.Day)
	tx := tu.Transaction(t, s.store, "S-1", "", "", "60.00", tu.Day)

	w := s.do(http.MethodPost, "/api/override/link", models.RoleEditor, gin.H{"invoiceId": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/override/link", models.RoleEditor, gin.H{
		"invoiceId": uuid.NewString(), "transactionId": tx.ID,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/override/link", models.RoleEditor, gin.H{
		"invoiceId": inv.ID, "transactionId": tx.ID, "amount": "75",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "amount beyond the transaction")

	w = s.do(http.MethodPost, "/api/override/link", models.RoleViewer, gin.H{
		"invoiceId": inv.ID, "transactionId": tx.ID,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/override/link", models.RoleEditor, gin.H{
		"invoiceId": inv.ID, "transactionId": tx.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var linked struct {
		Match models.Match `json:"match"`
	}
	decode(t, w, &linked)
	assert.Equal(t, "Manual override", linked.Match.Reason)
	assert.Equal(t, models.SourceManual, linked.Match.Source)

	w = s.do(http.MethodPost, "/api/override/unlink", models.RoleEditor, gin.H{"reason": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/override/unlink", models.RoleEditor, gin.H{"matchId": linked.Match.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusUnmatched, tu.ReloadInvoice(t, s.store, inv.ID).Status)
}

func TestUpdateNotes(t *testing.T) {
	s := newServer(t)
	inv := tu.Invoice(t, s.store, "L-1", "INV-1", "100.00", tu.Day)

	w := s.do(http.MethodPut, "/api/override/invoices/"+inv.ID.String()+"/notes", models.RoleAdmin, gin.H{"notes": "disputed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "disputed", tu.ReloadInvoice(t, s.store, inv.ID).InternalNotes)

	w = s.do(http.MethodPut, "/api/override/invoices/bad/notes", models.RoleAdmin, gin.H{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestAndAudit(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/ingest", models.RoleEditor, gin.H{
		"invoices": []gin.H{{"externalId": "L-1", "reference": "INV-1", "amount": "100", "date": "2025-03-10"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/api/ingest", models.RoleEditor, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "nothing to ingest")

	w = s.do(http.MethodGet, "/api/audit/logs", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []models.AuditEntry
	decode(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, models.ActionRecordsIngested, entries[0].Action)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/audit?from=yesterday", models.RoleViewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/audit?from=2025-03-11&to=2025-03-10", models.RoleViewer, nil).Code)
}

func TestExport(t *testing.T) {
	s := newServer(t)
	tu.Invoice(t, s.store, "L-1", "INV-1", "100.00", tu.Day)

	w := s.do(http.MethodGet, "/api/export/unmatched-invoices", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=unmatched-invoices.csv", w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "L-1")

	w = s.do(http.MethodGet, "/api/export/reconciliation-report?format=xlsx", models.RoleViewer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/export/payroll", models.RoleViewer, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/export/audit-log?format=pdf", models.RoleViewer, nil).Code)
}
