package server

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nextgenfiber/fieldbill/internal/auditcontext"
)

// Actor identity headers, resolved by the upstream identity provider.
const (
	actorIDHeader   = "X-Actor-Id"
	actorRoleHeader = "X-Actor-Role"
	actorTypeHeader = "X-Actor-Type"
)

// ActorMiddleware captures the caller identity into the request context so
// services can authorize and audit it.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := auditcontext.Actor{
			ID:   strings.TrimSpace(c.GetHeader(actorIDHeader)),
			Role: strings.TrimSpace(c.GetHeader(actorRoleHeader)),
			Type: strings.TrimSpace(c.GetHeader(actorTypeHeader)),
		}
		if actor.Type == "" {
			actor.Type = auditcontext.ActorTypeUser
		}
		ctx := auditcontext.WithActor(c.Request.Context(), actor)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
