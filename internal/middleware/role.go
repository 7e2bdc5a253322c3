package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/livepulse/backend/pkg/response"
)

// RequireRole allows only callers whose token carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[Role(c)]; !ok {
			if _, authed := c.Get(ContextUserRole); !authed {
				response.Unauthorized(c, "missing user context")
			} else {
				response.Forbidden(c, "insufficient permissions")
			}
			c.Abort()
			return
		}
		c.Next()
	}
}

// Role returns the authenticated caller's role, or "" outside the JWT middleware.
func Role(c *gin.Context) string {
	v, _ := c.Get(ContextUserRole)
	role, _ := v.(string)
	return role
}
