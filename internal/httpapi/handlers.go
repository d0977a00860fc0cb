package httpapi

import (
	"net/http"
	"strings"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/auth"
	"survey-platform/internal/calls"
	"survey-platform/internal/dedupe"
	"survey-platform/internal/queue"
	"survey-platform/internal/rbac"
	"survey-platform/internal/reconcile"
	"survey-platform/internal/reporting"
	"survey-platform/internal/responses"
	"survey-platform/internal/storage"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Queue     *queue.Service
	Dialer    *reconcile.Dialer
	Responses *responses.Service
	Calls     calls.Repository
	Store     storage.Store
	Dedupe    *dedupe.Detector
	Reporting *reporting.Service
	Audit     *audit.Service

	// URLTTL bounds signed recording URLs.
	URLTTL time.Duration
}

func notConfigured(c *gin.Context, what string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": what + " not configured"})
}

// --- Interviewer ---

// NextRespondent assigns (or returns the already held) respondent for a survey.
func (h Handlers) NextRespondent(c *gin.Context) {
	if h.Queue == nil {
		notConfigured(c, "queue")
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	e, err := h.Queue.Next(c.Request.Context(), c.Param("survey_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type startCallRequest struct {
	AgentNumber string `json:"agent_number"`
	Provider    string `json:"provider,omitempty"`
}

// StartCall bridges the interviewer to their assigned respondent.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Dialer == nil {
		notConfigured(c, "dialer")
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.AgentNumber) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_number required"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	res, err := h.Dialer.StartCall(c.Request.Context(), reconcile.StartRequest{
		InterviewerID: uid,
		EntryID:       c.Param("entry_id"),
		AgentNumber:   req.AgentNumber,
		Provider:      req.Provider,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type abandonRequest struct {
	Reason      string     `json:"reason"`
	CallLaterAt *time.Time `json:"call_later_at,omitempty"`
}

func (h Handlers) AbandonEntry(c *gin.Context) {
	if h.Queue == nil {
		notConfigured(c, "queue")
		return
	}
	var req abandonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Reason == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "reason required"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	e, err := h.Queue.Abandon(c.Request.Context(), c.Param("entry_id"), queue.AbandonRequest{
		InterviewerID: uid,
		Reason:        req.Reason,
		CallLaterAt:   req.CallLaterAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": e.ID, "status": e.Status})
}

// SubmitResponse stores an interview. The interviewer only ever learns the
// nominal status; classification details stay with reviewers.
func (h Handlers) SubmitResponse(c *gin.Context) {
	if h.Responses == nil {
		notConfigured(c, "responses")
		return
	}
	var sub responses.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sub.InterviewerID, _ = auth.UserID(c.Request.Context())
	res, err := h.Responses.Submit(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CallRecording hands out a signed URL for an archived recording.
// Interviewers may only fetch recordings of their own calls.
func (h Handlers) CallRecording(c *gin.Context) {
	if h.Calls == nil || h.Store == nil {
		notConfigured(c, "recordings")
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)

	rec, err := h.Calls.Get(ctx, c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if !rbac.CanReview(role) && rec.InterviewerID != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if rec.RecordingKey == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "recording not archived"})
		return
	}
	ttl := h.URLTTL
	if ttl <= 0 {
		ttl = storage.DefaultURLTTL
	}
	url, err := h.Store.SignedURL(ctx, rec.RecordingKey, ttl)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(ttl.Seconds())})
}

// --- Review ---

func (h Handlers) GetResponse(c *gin.Context) {
	if h.Responses == nil {
		notConfigured(c, "responses")
		return
	}
	r, err := h.Responses.Get(c.Request.Context(), c.Param("response_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type reviewRequest struct {
	Approve  bool   `json:"approve"`
	Feedback string `json:"feedback,omitempty"`
}

func (h Handlers) ReviewResponse(c *gin.Context) {
	if h.Responses == nil {
		notConfigured(c, "responses")
		return
	}
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	r, err := h.Responses.Review(c.Request.Context(), c.Param("response_id"), responses.ReviewDecision{
		ReviewerID: uid,
		Approve:    req.Approve,
		Feedback:   req.Feedback,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// Convenience middleware bundles.

func RequireCompanyAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireCompany(), rbac.RequireAnyRole(roles...)}
}
