package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"videokyc-platform/internal/auth"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/rbac"
	"videokyc-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultSSEKeepAlive = 25 * time.Second

// CreateCall opens a verification call for the caller.
func (h Handlers) CreateCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	r, err := h.Calls.CreateCall(c.Request.Context(), uid, calls.CallTypeKYC)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GetCall returns the record loaded by RequireCallAccess.
func (h Handlers) GetCall(c *gin.Context) {
	c.JSON(http.StatusOK, callFrom(c))
}

// CallAudit lists the audit trail of the call loaded by RequireCallAccess.
func (h Handlers) CallAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	r := callFrom(c)
	evs, err := h.Audit.ForCall(c.Request.Context(), r.ID)
	if err != nil {
		logger.FromGin(c).Error("load audit trail failed", "call_id", r.ID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": r.ID, "events": evs})
}

type updateStatusRequest struct {
	Status calls.Status `json:"status"`
	Notes  *string      `json:"notes,omitempty"`
}

// UpdateCallStatus moves a call through its lifecycle on behalf of a browser participant.
// Rules:
// - the requester may only cancel (rejected)
// - responders may claim (responder_connected), start (in_call) or reject
// - completed is reserved for the decision endpoint
func (h Handlers) UpdateCallStatus(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	current := callFrom(c)

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	f := calls.Fields{Notes: req.Notes}
	switch {
	case req.Status == calls.StatusCompleted:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "use the decision endpoint to complete a call"})
		return
	case current.RequesterID == uid && !rbac.IsSuperAdmin(role):
		if req.Status != calls.StatusRejected {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "requesters may only cancel"})
			return
		}
	case rbac.IsResponder(role):
		f.ResponderID = uid
	default:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	r, err := h.Calls.UpdateStatus(ctx, current.ID, req.Status, f)
	if err != nil {
		writeCallError(c, err)
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogTransition(ctx, actorFrom(ctx), r.ID, r.RequesterID, string(current.Status), string(r.Status)); err != nil {
			logger.FromGin(c).Warn("audit transition failed", "call_id", r.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, r)
}

type decisionRequest struct {
	Result calls.Result `json:"result"`
	Notes  string       `json:"notes"`
}

// Decide records the KYC verdict for a call. RBAC: admin or super_admin.
func (h Handlers) Decide(c *gin.Context) {
	if h.KYC == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "kyc not configured"})
		return
	}
	ctx := c.Request.Context()
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	actor := actorFrom(ctx)
	r, err := h.KYC.Decide(ctx, kyc.Decision{
		CallID:        callFrom(c).ID,
		ResponderID:   actor.UserID,
		ResponderRole: actor.Role,
		IPAddress:     actor.IP,
		Result:        req.Result,
		Notes:         req.Notes,
	})
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// CallEvents streams call changes as server-sent events.
// Requesters see their own calls; responders see every call.
func (h Handlers) CallEvents(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	log := logger.FromGin(c)

	f := calls.Filter{}
	if !rbac.IsResponder(role) {
		f.RequesterID = uid
	}

	events := make(chan calls.Change, 32)
	cancel, err := h.Calls.Subscribe(ctx, f, func(ch calls.Change) {
		select {
		case events <- ch:
		default:
			log.Warn("event stream backlog full, dropping change", "call_id", ch.Record.ID)
		}
	})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer cancel()

	keepAlive := h.SSEKeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultSSEKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"user_id": uid})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ch := <-events:
			c.SSEvent("call", ch)
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}

// writeCallError maps domain errors onto HTTP statuses.
func writeCallError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, calls.ErrNotFound):
		status, msg = http.StatusNotFound, "call not found"
	case errors.Is(err, calls.ErrLiveCallExists):
		status, msg = http.StatusConflict, "a verification call is already in progress"
	case errors.Is(err, calls.ErrConflict):
		status, msg = http.StatusConflict, "call changed, reload and retry"
	case errors.Is(err, calls.ErrInvalidTransition):
		status, msg = http.StatusConflict, strings.TrimPrefix(err.Error(), "calls: ")
	case errors.Is(err, calls.ErrInvalidArgument), errors.Is(err, kyc.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, kyc.ErrNotesRequired):
		status, msg = http.StatusBadRequest, "notes are required"
	case errors.Is(err, kyc.ErrNotResponder):
		status, msg = http.StatusForbidden, "call is assigned to another verifier"
	}
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("call request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
