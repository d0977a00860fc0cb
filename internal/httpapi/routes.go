package httpapi

import (
	"survey-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the authenticated API on v1. Identity must already be in
// the request context (auth.RequireAccessToken).
//
// Hidden review metadata (auto-rejection reasons) is only reachable through
// the review group; interviewers get nominal statuses.
func (h Handlers) Register(v1 *gin.RouterGroup) {
	interviewers := v1.Group("")
	interviewers.Use(RequireCompanyAndAnyRole(rbac.RoleInterviewer)...)
	{
		interviewers.POST("/surveys/:survey_id/next", h.NextRespondent)
		interviewers.POST("/queue/:entry_id/call", h.StartCall)
		interviewers.POST("/queue/:entry_id/abandon", h.AbandonEntry)
		interviewers.POST("/responses", h.SubmitResponse)
	}

	// Interviewers may fetch their own recordings; reviewers any.
	recordings := v1.Group("/calls")
	recordings.Use(RequireCompanyAndAnyRole(rbac.RoleInterviewer, rbac.RoleQualityAgent, rbac.RoleProjectManager, rbac.RoleCompanyAdmin)...)
	{
		recordings.GET("/:call_id/recording", h.CallRecording)
	}

	review := v1.Group("/review")
	review.Use(RequireCompanyAndAnyRole(rbac.RoleQualityAgent, rbac.RoleProjectManager, rbac.RoleCompanyAdmin)...)
	{
		review.GET("/responses/:response_id", h.GetResponse)
		review.POST("/responses/:response_id", h.ReviewResponse)
	}

	// ADMIN routes
	// Project managers and company admins run queue and QC operations.
	admin := v1.Group("/admin/surveys/:survey_id")
	admin.Use(RequireCompanyAndAnyRole(rbac.RoleProjectManager, rbac.RoleCompanyAdmin)...)
	{
		admin.POST("/queue/import", h.ImportContacts)
		admin.POST("/queue/reset-stuck", h.ResetStuck)
		admin.GET("/queue/stats", h.QueueStats)
		admin.GET("/duplicates", h.DuplicateReport)
		admin.POST("/duplicates/apply", h.ApplyDuplicates)
		admin.GET("/calls/summary", h.CallsSummary)
		admin.GET("/progress", h.SurveyProgress)
	}
}
