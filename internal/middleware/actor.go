package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/parcelheat/internal/models"
)

const (
	// ActorKey is the context key for the acting principal.
	ActorKey = "actor"
	// ActorHeader names the principal that triggered a write.
	ActorHeader = "X-Actor"
)

// Actor records who is calling so every audited write carries a principal.
// Requests without the header act as fallback.
func Actor(fallback models.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := models.Actor(strings.TrimSpace(c.GetHeader(ActorHeader)))
		if actor == "" {
			actor = fallback
		}
		c.Set(ActorKey, actor)
		c.Next()
	}
}

// GetActor returns the request's actor, or models.ActorSystem when the
// middleware did not run.
func GetActor(c *gin.Context) models.Actor {
	if v, exists := c.Get(ActorKey); exists {
		if actor, ok := v.(models.Actor); ok && actor != "" {
			return actor
		}
	}
	return models.ActorSystem
}
