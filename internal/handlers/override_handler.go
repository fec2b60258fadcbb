package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"invoice-reconciliation-backend/internal/middleware"
	"invoice-reconciliation-backend/internal/services/override"
)

const defaultReason = "Manual override"

type linkRequest struct {
	InvoiceID        uuid.UUID        `json:"invoiceId" binding:"required"`
	TransactionID    uuid.UUID        `json:"transactionId" binding:"required"`
	Amount           *decimal.Decimal `json:"amount"`
	Reason           string           `json:"reason"`
	AllowOverpayment bool             `json:"allowOverpayment"`
}

// unlinkRequest names either a match or an invoice/transaction pair.
type unlinkRequest struct {
	MatchID       *uuid.UUID `json:"matchId"`
	InvoiceID     *uuid.UUID `json:"invoiceId"`
	TransactionID *uuid.UUID `json:"transactionId"`
	Reason        string     `json:"reason"`
}

type notesRequest struct {
	Notes string `json:"notes"`
}

func (h *ReconciliationHandler) Link(c *gin.Context) {
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := h.overrides.Link(c.Request.Context(), override.LinkRequest{
		InvoiceID:        req.InvoiceID,
		TransactionID:    req.TransactionID,
		Amount:           req.Amount,
		Reason:           reasonOrDefault(req.Reason),
		AllowOverpayment: req.AllowOverpayment,
	}, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "linked", "match": match})
}

func (h *ReconciliationHandler) Unlink(c *gin.Context) {
	var req unlinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actor := middleware.ActorFrom(c)
	reason := reasonOrDefault(req.Reason)

	switch {
	case req.MatchID != nil:
		match, err := h.overrides.Unlink(c.Request.Context(), *req.MatchID, actor, reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "unlinked", "matches": []interface{}{match}})
	case req.InvoiceID != nil && req.TransactionID != nil:
		matches, err := h.overrides.UnlinkPair(c.Request.Context(), *req.InvoiceID, *req.TransactionID, actor, reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "unlinked", "matches": matches})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "matchId or invoiceId and transactionId are required"})
	}
}

func (h *ReconciliationHandler) UpdateNotes(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invoice ID"})
		return
	}
	var req notesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	inv, err := h.overrides.UpdateInvoiceNotes(c.Request.Context(), id, req.Notes, middleware.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func reasonOrDefault(reason string) string {
	if strings.TrimSpace(reason) == "" {
		return defaultReason
	}
	return reason
}
