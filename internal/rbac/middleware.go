package rbac

import (
	"net/http"

	"videokyc-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole lets the request through when the caller's role is allowed (see Allows).
// A missing identity is 401; a known identity with the wrong role is 403.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.IdentityFrom(c.Request.Context())
		if !ok || id.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if !Allows(id.Role, allowed...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": forbiddenMessage(id.Role)})
			return
		}
		c.Next()
	}
}

func forbiddenMessage(role string) string {
	switch role {
	case RoleUser:
		return "only verifiers can do this"
	case RoleAdmin:
		return "verifiers cannot do this"
	default:
		return "forbidden"
	}
}
