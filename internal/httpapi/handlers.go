package httpapi

import (
	"errors"
	"net/http"
	"time"

	"cadence-dialer/internal/auth"
	"cadence-dialer/internal/leads"
	"cadence-dialer/internal/rbac"
	"cadence-dialer/internal/reconcile"
	"cadence-dialer/internal/reporting"
	"cadence-dialer/internal/scheduler"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Leads      *leads.Service
	Reconciler *reconcile.Reconciler
	Scheduler  *scheduler.Loop
	Reports    *reporting.Service

	// StaleThreshold bounds the sweep endpoint's default cutoff.
	StaleThreshold time.Duration
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
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
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Leads ---

// IngestLead accepts one lead and enqueues its first-call entry.
func (h Handlers) IngestLead(c *gin.Context) {
	if h.Leads == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "leads not configured"})
		return
	}
	var req leads.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	l, err := h.Leads.Ingest(c.Request.Context(), req)
	switch {
	case errors.Is(err, leads.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "destination must be E.164"})
		return
	case errors.Is(err, leads.ErrDuplicate):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "destination already ingested"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		return
	}
	c.JSON(http.StatusCreated, l)
}

// --- Outcome webhook ---

type outcomeRequest struct {
	TrackingToken     string            `json:"tracking_token"`
	Destination       string            `json:"destination"`
	Category          string            `json:"category"`
	EndedAt           time.Time         `json:"ended_at"`
	TranscriptSummary string            `json:"transcript_summary,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// CallOutcome receives the provider's post-call report and reconciles it.
// The tracking token may arrive on the callback query string instead of
// the body; the query value wins when both are present.
func (h Handlers) CallOutcome(c *gin.Context) {
	if h.Reconciler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reconciler not configured"})
		return
	}
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if tok := c.Query("token"); tok != "" {
		req.TrackingToken = tok
	}

	rec, err := h.Reconciler.HandleOutcome(c.Request.Context(), reconcile.OutcomeEvent{
		TrackingToken:     req.TrackingToken,
		Destination:       req.Destination,
		Category:          req.Category,
		EndedAt:           req.EndedAt,
		TranscriptSummary: req.TranscriptSummary,
		Metadata:          req.Metadata,
	})
	switch {
	case errors.Is(err, reconcile.ErrInvalidEvent):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		// Let the provider retry the delivery.
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "outcome handling failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"identifier":    rec.Identifier,
		"status":        rec.Status,
		"attempt_count": rec.AttemptCount,
		"next_call_at":  rec.NextCallAt,
	})
}

// --- Scheduler ---

// RunScheduler triggers one dial pass and returns its counters.
func (h Handlers) RunScheduler(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	rep, err := h.Scheduler.RunOnce(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler run failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// SweepStale reverts contacts whose reserved call never produced an
// outcome. Accepts ?older_than=90m; falls back to the configured default.
func (h Handlers) SweepStale(c *gin.Context) {
	if h.Scheduler == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "scheduler not configured"})
		return
	}
	olderThan := h.StaleThreshold
	if olderThan <= 0 {
		olderThan = time.Hour
	}
	if raw := c.Query("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		olderThan = d
	}
	n, err := h.Scheduler.SweepStale(c.Request.Context(), olderThan)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": n})
}

// --- Reporting ---

// CampaignReport aggregates reconciled outcomes over ?from= / ?to= (RFC 3339).
func (h Handlers) CampaignReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
		return
	}
	out, err := h.Reports.CampaignSummary(c.Request.Context(), reporting.CampaignSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
	})
	switch {
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be after from"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
