package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"videokyc-platform/internal/kyc"
	"videokyc-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// PendingKYC lists profiles awaiting verification. RBAC: admin or super_admin.
func (h Handlers) PendingKYC(c *gin.Context) {
	if h.KYC == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "kyc not configured"})
		return
	}
	ps, err := h.KYC.ListPending(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("list pending kyc failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if ps == nil {
		ps = []kyc.Profile{}
	}
	c.JSON(http.StatusOK, gin.H{"profiles": ps})
}

// DocumentURL returns a short-lived link to the user's identity document. RBAC: admin or super_admin.
func (h Handlers) DocumentURL(c *gin.Context) {
	if h.KYC == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "kyc not configured"})
		return
	}
	link, err := h.KYC.DocumentURL(c.Request.Context(), c.Param("user_id"))
	switch {
	case errors.Is(err, kyc.ErrNotFound), errors.Is(err, kyc.ErrNoDocument), errors.Is(err, kyc.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no document on file"})
		return
	case err != nil:
		logger.FromGin(c).Error("document url failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "document link failed"})
		return
	}
	c.JSON(http.StatusOK, link)
}

// ReviewProfile verifies or rejects a profile from its document alone. RBAC: admin or super_admin.
func (h Handlers) ReviewProfile(c *gin.Context) {
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
	p, err := h.KYC.ReviewProfile(ctx, kyc.ProfileReview{
		UserID:       c.Param("user_id"),
		ReviewerID:   actor.UserID,
		ReviewerRole: actor.Role,
		IPAddress:    actor.IP,
		Result:       req.Result,
		Notes:        req.Notes,
	})
	switch {
	case errors.Is(err, kyc.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "result must be approved or rejected"})
		return
	case errors.Is(err, kyc.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(err, kyc.ErrAlreadyDecided):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "profile already decided"})
		return
	case err != nil:
		logger.FromGin(c).Error("profile review failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "review failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// InviteToCall emails the user a link to start their verification call. RBAC: admin or super_admin.
func (h Handlers) InviteToCall(c *gin.Context) {
	if h.Mailer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "email not configured"})
		return
	}
	link := strings.TrimRight(h.PublicBaseURL, "/") + "/kyc/video-call"
	if err := h.Mailer.Invite(c.Request.Context(), c.Param("user_id"), link); err != nil {
		if errors.Is(err, kyc.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		logger.FromGin(c).Warn("invite email failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "email delivery failed"})
		return
	}
	c.Status(http.StatusAccepted)
}
