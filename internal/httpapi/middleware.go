package httpapi

import (
	"context"
	"errors"
	"net/http"

	"videokyc-platform/internal/auth"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/rbac"
	"videokyc-platform/internal/signaling"

	"github.com/gin-gonic/gin"
)

const ctxCallKey = "call"

// CallReader is the minimal call service interface needed by middleware.
type CallReader interface {
	Get(ctx context.Context, id string) (calls.Record, error)
}

// canAccess reports whether the caller is a party to the call.
// Rules:
// - the requester always may
// - responders may while the call is unclaimed or claimed by them
// - super_admin may always
func canAccess(r calls.Record, userID, role string) bool {
	switch {
	case userID == "":
		return false
	case r.RequesterID == userID:
		return true
	case rbac.IsSuperAdmin(role):
		return true
	case rbac.IsResponder(role):
		return r.ResponderID == "" || r.ResponderID == userID
	default:
		return false
	}
}

// RequireCallAccess loads :id and blocks callers who are not a party to it.
// The record is stored on the gin context under "call".
func RequireCallAccess(svc CallReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())

		r, err := svc.Get(c.Request.Context(), c.Param("id"))
		switch {
		case errors.Is(err, calls.ErrNotFound), errors.Is(err, calls.ErrInvalidArgument):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call lookup failed"})
			return
		}
		if !canAccess(r, uid, role) {
			// Do not reveal that the call exists.
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
			return
		}
		c.Set(ctxCallKey, r)
		c.Next()
	}
}

// SignalAuthorizer admits only the parties of a call onto its signaling channel.
func SignalAuthorizer(svc CallReader) signaling.Authorizer {
	return func(c *gin.Context, callID string) error {
		r, err := svc.Get(c.Request.Context(), callID)
		if errors.Is(err, calls.ErrNotFound) {
			return signaling.ErrForbidden
		}
		if err != nil {
			return err
		}
		uid, _ := auth.UserID(c.Request.Context())
		role, _ := auth.Role(c.Request.Context())
		if !canAccess(r, uid, role) || !r.Status.IsLive() {
			return signaling.ErrForbidden
		}
		return nil
	}
}

func callFrom(c *gin.Context) calls.Record {
	v, _ := c.Get(ctxCallKey)
	r, _ := v.(calls.Record)
	return r
}
