package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/export"
)

// AuditLog serves ?entityId=&from=&to= queries, oldest entry first.
func (h *ReconciliationHandler) AuditLog(c *gin.Context) {
	f, err := audit.ParseFilter(c.Query("entityId"), c.Query("from"), c.Query("to"))
	if err != nil {
		respondError(c, err)
		return
	}
	entries, err := h.audit.Entries(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Export streams one report as CSV (default) or XLSX.
func (h *ReconciliationHandler) Export(c *gin.Context) {
	kind, err := export.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	table, err := h.buildReport(c, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, table, format); err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+format.Filename(string(kind)))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *ReconciliationHandler) buildReport(c *gin.Context, kind export.Kind) (export.Table, error) {
	ctx := c.Request.Context()
	var src export.Source
	if kind == export.KindAuditLog {
		entries, err := h.audit.Entries(ctx, audit.Filter{})
		if err != nil {
			return export.Table{}, err
		}
		src.Audit = entries
	} else {
		ledger, err := h.service.Ledger(ctx)
		if err != nil {
			return export.Table{}, err
		}
		src = export.Source{Invoices: ledger.Invoices, Transactions: ledger.Transactions, Matches: ledger.Matches}
	}
	return export.Build(kind, src), nil
}
