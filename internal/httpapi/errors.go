package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/reconcile"
	"survey-platform/internal/reporting"
	"survey-platform/internal/responses"
	"survey-platform/internal/storage"
	"survey-platform/internal/telephony"
	"survey-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// statusFor maps service sentinels to HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrNoRespondent):
		return http.StatusNotFound, "no respondent available"
	case errors.Is(err, queue.ErrNotFound),
		errors.Is(err, responses.ErrNotFound),
		errors.Is(err, calls.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, queue.ErrNotAssigned):
		return http.StatusForbidden, "entry not assigned to caller"
	case errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, responses.ErrInvalidTransition),
		errors.Is(err, queue.ErrConflict),
		errors.Is(err, responses.ErrConflict):
		return http.StatusConflict, "conflicting state"
	case errors.Is(err, reconcile.ErrTooManyCalls):
		return http.StatusTooManyRequests, "too many active calls"
	case errors.Is(err, telephony.ErrInitiateFailed):
		return http.StatusBadGateway, "call initiation failed"
	case errors.Is(err, queue.ErrInvalidArgument),
		errors.Is(err, responses.ErrInvalidArgument),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, telephony.ErrInvalidRequest),
		errors.Is(err, telephony.ErrUnknownProvider),
		errors.Is(err, storage.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid request"
	}
	return http.StatusInternalServerError, "internal error"
}

func writeError(c *gin.Context, err error) {
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError || code == http.StatusBadGateway {
		logger.FromGin(c).Error("request failed", slog.String("path", c.FullPath()), slog.Any("err", err))
	}
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
