package httpapi

import (
	"context"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

// clientIPKey is an unexported context key for passing client IP through internal layers.
type clientIPKey struct{}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIPFromContext(ctx context.Context) string {
	v := ctx.Value(clientIPKey{})
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// ClientIP resolves the caller's address once (gin honours the configured trusted proxies)
// and carries it on the request context for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// actorFrom builds the audit actor for the authenticated caller.
func actorFrom(ctx context.Context) audit.Actor {
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return audit.Actor{UserID: uid, Role: role, IP: ClientIPFromContext(ctx)}
}
