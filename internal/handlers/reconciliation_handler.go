package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"invoice-reconciliation-backend/internal/middleware"
	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/override"
	service "invoice-reconciliation-backend/internal/services/reconciliation"
)

type ReconciliationHandler struct {
	service   *service.ReconciliationService
	overrides *override.Manager
	audit     *audit.Service
}

func NewReconciliationHandler(s *service.ReconciliationService, o *override.Manager, a *audit.Service) *ReconciliationHandler {
	return &ReconciliationHandler{service: s, overrides: o, audit: a}
}

func (h *ReconciliationHandler) Summary(c *gin.Context) {
	s, err := h.service.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ListInvoices supports ?search= and a comma separated ?status= filter.
func (h *ReconciliationHandler) ListInvoices(c *gin.Context) {
	invoices, err := h.service.ListInvoices(c.Request.Context(), c.Query("search"), statusFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoices)
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	txs, err := h.service.ListTransactions(c.Request.Context(), c.Query("search"), statusFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (h *ReconciliationHandler) InvoiceMatches(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
		return
	}
	matches, err := h.service.InvoiceMatches(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, matches)
}

// Reconcile runs the matching engine. The body may carry a scope; an empty
// body reconciles everything.
func (h *ReconciliationHandler) Reconcile(c *gin.Context) {
	var scope service.Scope
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&scope); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	result, err := h.service.Run(c.Request.Context(), middleware.ActorFrom(c), scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runId":                 result.Run.ID,
		"newMatches":            result.Run.NewMatches,
		"invalidated":           result.Run.Invalidated,
		"unmatchedInvoices":     result.Run.UnmatchedInvoices,
		"unmatchedTransactions": result.Run.UnmatchedTransactions,
		"attempts":              result.Run.Attempts,
	})
}

func (h *ReconciliationHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("runId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}
	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Ingest upserts normalized invoice and transaction records.
func (h *ReconciliationHandler) Ingest(c *gin.Context) {
	var req service.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.Ingest(c.Request.Context(), req, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func statusFilter(c *gin.Context) []string {
	raw := c.Query("status")
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
