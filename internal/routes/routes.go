package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	handler "invoice-reconciliation-backend/internal/handlers"
	"invoice-reconciliation-backend/internal/middleware"
	"invoice-reconciliation-backend/internal/models"
	"invoice-reconciliation-backend/internal/repository"
	"invoice-reconciliation-backend/internal/services/audit"
	"invoice-reconciliation-backend/internal/services/matching"
	"invoice-reconciliation-backend/internal/services/override"
	service "invoice-reconciliation-backend/internal/services/reconciliation"
)

func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg matching.Config, maxAttempts int) {
	store := repository.NewStore(db)

	reconService := service.NewReconciliationService(store, cfg, maxAttempts)
	overrides := override.NewManager(store, maxAttempts)
	auditService := audit.NewService(store)

	reconHandler := handler.NewReconciliationHandler(reconService, overrides, auditService)
	canMutate := middleware.RequireRole(models.RoleAdmin, models.RoleEditor)

	api := r.Group("/api")
	api.Use(middleware.ResolveActor())

	// Health check
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	dashboard := api.Group("/dashboard")
	dashboard.GET("/summary", reconHandler.Summary)
	dashboard.GET("/invoices", reconHandler.ListInvoices)
	dashboard.GET("/invoices/:id/matches", reconHandler.InvoiceMatches)
	dashboard.GET("/transactions", reconHandler.ListTransactions)
	dashboard.POST("/reconcile", canMutate, reconHandler.Reconcile)

	recon := api.Group("/reconciliation")
	recon.GET("/runs/:runId", reconHandler.GetRun)

	overrideGroup := api.Group("/override", canMutate)
	{
		overrideGroup.POST("/link", reconHandler.Link)
		overrideGroup.POST("/unlink", reconHandler.Unlink)
		overrideGroup.PUT("/invoices/:id/notes", reconHandler.UpdateNotes)
	}

	api.POST("/ingest", canMutate, reconHandler.Ingest)

	api.GET("/audit", reconHandler.AuditLog)
	api.GET("/audit/logs", reconHandler.AuditLog)

	api.GET("/export/:kind", reconHandler.Export)
}
