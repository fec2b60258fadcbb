package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"invoice-reconciliation-backend/internal/apperror"
	"invoice-reconciliation-backend/internal/repository"
)

func TestRespondError_StatusByKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperror.Validation("op", "bad amount"), http.StatusBadRequest},
		{"not found", apperror.NotFound("op", "no invoice"), http.StatusNotFound},
		{"conflict", apperror.Conflict("op", repository.ErrStaleVersion, "gave up after %d attempts", 3), http.StatusConflict},
		{"authorization", apperror.Authorization("op", "viewer"), http.StatusForbidden},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/api/dashboard/reconcile", nil)

			respondError(c, tt.err)

			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, w.Body.String(), "disk full")
			}
		})
	}
}
