package httpapi

import (
	"errors"
	"net/http"
	"time"

	"videokyc-platform/internal/reporting"
	"videokyc-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 24 * time.Hour

// CallsReport summarizes verification calls in [from, to). RBAC: admin or super_admin.
// from/to are RFC3339; the default window is the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	r, err := parseRange(c.Query("from"), c.Query("to"), time.Now().UTC())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC3339 timestamps"})
		return
	}
	ctx := c.Request.Context()

	summary, err := h.Reports.CallsSummary(ctx, reporting.CallsSummaryRequest{Range: r, ResponderID: c.Query("responder_id")})
	if err == nil && c.Query("responder_id") == "" {
		var rows []reporting.ResponderStats
		rows, err = h.Reports.ResponderBreakdown(ctx, r)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"range": r, "summary": summary, "responders": rows})
			return
		}
	}
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"range": r, "summary": summary})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
	default:
		logger.FromGin(c).Error("calls report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
	}
}

func parseRange(from, to string, now time.Time) (reporting.TimeRange, error) {
	r := reporting.TimeRange{To: now}
	if to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		r.To = t.UTC()
	}
	r.From = r.To.Add(-defaultReportWindow)
	if from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return reporting.TimeRange{}, err
		}
		r.From = t.UTC()
	}
	return r, nil
}
