package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"invoice-reconciliation-backend/internal/apperror"
)

// respondError maps core error kinds onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch apperror.KindOf(err) {
	case apperror.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperror.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperror.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperror.KindAuthorization:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
