package httpapi

import (
	"net/http"
	"strings"
	"time"

	"videokyc-platform/internal/audit"
	"videokyc-platform/internal/auth"
	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/config"
	"videokyc-platform/internal/kyc"
	"videokyc-platform/internal/notify"
	"videokyc-platform/internal/peer"
	"videokyc-platform/internal/rbac"
	"videokyc-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Service
	KYC     *kyc.Service
	Audit   *audit.Service
	Mailer  *notify.Mailer
	Reports *reporting.Service

	WebRTC config.WebRTCConfig
	// PublicBaseURL prefixes links sent to users.
	PublicBaseURL string
	// SSEKeepAlive is how often an idle event stream gets a ping. Zero means 25s.
	SSEKeepAlive time.Duration
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: Development-only endpoint; it is not routed in production. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || !rbac.Valid(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a valid role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a token pair. Long verification sessions outlive one access token.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Media ---

type iceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential any      `json:"credential,omitempty"`
}

// ICEServers returns the STUN/TURN list browsers should configure their peer connection with.
func (h Handlers) ICEServers(c *gin.Context) {
	servers := peer.ICEServers(h.WebRTC)
	out := make([]iceServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, iceServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	c.JSON(http.StatusOK, gin.H{"ice_servers": out})
}
