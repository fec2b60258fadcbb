// Package middleware resolves the caller identity placed on requests by the
// upstream auth layer and gates routes by role.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"invoice-reconciliation-backend/internal/models"
)

const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"

	actorKey = "actor"
)

// ResolveActor reads the already-validated identity headers into the context.
func ResolveActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role: models.Role(strings.ToUpper(strings.TrimSpace(c.GetHeader(HeaderUserRole)))),
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor ResolveActor stored, or the zero Actor.
func ActorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(models.Actor); ok {
			return a
		}
	}
	return models.Actor{}
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := ActorFrom(c)
		if actor.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role " + string(actor.Role) + " may not perform this action"})
	}
}
