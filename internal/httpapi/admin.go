package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/auth"
	"survey-platform/internal/ingest"
	"survey-platform/internal/reporting"
	"survey-platform/internal/responses"
	"survey-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const defaultStuckAfter = 30 * time.Minute

// --- Admin: queue ---

type importRequest struct {
	// Path is a spreadsheet already present on the server.
	Path      string `json:"path"`
	SheetName string `json:"sheet_name,omitempty"`
	HeaderRow int    `json:"header_row,omitempty"`
}

// ImportContacts queues respondents from an xlsx contact sheet.
func (h Handlers) ImportContacts(c *gin.Context) {
	if h.Queue == nil {
		notConfigured(c, "queue")
		return
	}
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "path required"})
		return
	}
	surveyID := c.Param("survey_id")
	sheet, err := ingest.ReadContactSheet(req.Path, ingest.Options{SheetName: req.SheetName, HeaderRow: req.HeaderRow})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Queue.Initialize(c.Request.Context(), surveyID, sheet.Contacts)
	if err != nil {
		writeError(c, err)
		return
	}
	h.adminAction(c, surveyID, "queue import", gin.H{"path": req.Path, "result": res, "dropped": sheet.Dropped})
	c.JSON(http.StatusOK, gin.H{"result": res, "dropped_rows": sheet.Dropped, "columns": sheet.Columns})
}

type resetStuckRequest struct {
	OlderThan string `json:"older_than,omitempty"`
}

func (h Handlers) ResetStuck(c *gin.Context) {
	if h.Queue == nil {
		notConfigured(c, "queue")
		return
	}
	var req resetStuckRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	olderThan := defaultStuckAfter
	if req.OlderThan != "" {
		d, err := time.ParseDuration(req.OlderThan)
		if err != nil || d <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "older_than must be a positive duration"})
			return
		}
		olderThan = d
	}
	surveyID := c.Param("survey_id")
	n, err := h.Queue.ResetStuck(c.Request.Context(), surveyID, olderThan)
	if err != nil {
		writeError(c, err)
		return
	}
	h.adminAction(c, surveyID, "queue reset stuck", gin.H{"older_than": olderThan.String(), "reset": n})
	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (h Handlers) QueueStats(c *gin.Context) {
	if h.Queue == nil {
		notConfigured(c, "queue")
		return
	}
	st, err := h.Queue.Stats(c.Request.Context(), c.Param("survey_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// --- Admin: duplicates ---

func (h Handlers) DuplicateReport(c *gin.Context) {
	if h.Dedupe == nil {
		notConfigured(c, "duplicate detector")
		return
	}
	f, ok := duplicateFilter(c)
	if !ok {
		return
	}
	rep, err := h.Dedupe.Analyze(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": rep, "duplicates": rep.DuplicateCount()})
}

// ApplyDuplicates re-runs the analysis and marks what it finds.
func (h Handlers) ApplyDuplicates(c *gin.Context) {
	if h.Dedupe == nil {
		notConfigured(c, "duplicate detector")
		return
	}
	f, ok := duplicateFilter(c)
	if !ok {
		return
	}
	rep, err := h.Dedupe.Analyze(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.Dedupe.Apply(c.Request.Context(), rep)
	if err != nil {
		writeError(c, err)
		return
	}
	h.adminAction(c, f.SurveyID, "duplicates applied", gin.H{"groups": len(rep.Groups), "result": res})
	c.JSON(http.StatusOK, gin.H{"groups": len(rep.Groups), "result": res})
}

func duplicateFilter(c *gin.Context) (responses.Filter, bool) {
	f := responses.Filter{SurveyID: c.Param("survey_id")}
	if m := c.Query("mode"); m != "" {
		f.Mode = responses.Mode(m)
		if !f.Mode.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "mode must be in_person or phone"})
			return f, false
		}
	}
	rng, ok := queryRange(c)
	if !ok {
		return f, false
	}
	f.From, f.To = rng.From, rng.To
	return f, true
}

// --- Admin: statistics ---

func (h Handlers) CallsSummary(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	rng, ok := queryRange(c)
	if !ok {
		return
	}
	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		SurveyID:      c.Param("survey_id"),
		InterviewerID: c.Query("interviewer_id"),
		Range:         rng,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SurveyProgress(c *gin.Context) {
	if h.Reporting == nil {
		notConfigured(c, "reporting")
		return
	}
	rng, ok := queryRange(c)
	if !ok {
		return
	}
	out, err := h.Reporting.SurveyProgress(c.Request.Context(), reporting.SurveyProgressRequest{
		SurveyID: c.Param("survey_id"),
		Range:    rng,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// queryRange reads optional RFC 3339 from/to query parameters.
func queryRange(c *gin.Context) (reporting.TimeRange, bool) {
	var rng reporting.TimeRange
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.name + " must be RFC 3339"})
			return rng, false
		}
		*p.dst = t
	}
	return rng, true
}

// adminAction writes a best-effort audit event for an admin operation.
func (h Handlers) adminAction(c *gin.Context, surveyID, message string, meta any) {
	if h.Audit == nil {
		return
	}
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	if err := h.Audit.LogAdminAction(ctx, uid, role, surveyID, message, audit.Metadata(meta)); err != nil {
		logger.FromGin(c).Warn("audit append failed", slog.Any("err", err))
	}
}
