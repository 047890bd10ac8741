package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

const (
	// HeaderActorID carries the id of the caller
	HeaderActorID = "X-Actor-ID"
	// HeaderActorRole carries the organisational role of the caller
	HeaderActorRole = "X-Actor-Role"

	actorIDKey   = "actor_id"
	actorRoleKey = "actor_role"
)

// RequireActor reads the caller identity set by the upstream gateway.
// The SYSTEM role is reserved for the scheduler.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderActorID)
		role := domainwf.Role(c.GetHeader(HeaderActorRole))

		if id == "" || !role.IsValid() || role == domainwf.RoleSystem {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing or invalid actor headers",
			})
			return
		}

		c.Set(actorIDKey, id)
		c.Set(actorRoleKey, string(role))
		c.Next()
	}
}

func actorFrom(c *gin.Context) domainwf.Actor {
	return domainwf.Actor{
		ID:   c.GetString(actorIDKey),
		Role: domainwf.Role(c.GetString(actorRoleKey)),
	}
}
