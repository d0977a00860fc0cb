package queue

import (
	"context"
	"log/slog"

	"survey-platform/internal/audit"
	"survey-platform/pkg/logger"
)

// AuditObserver writes queue assignments and transitions to the audit log.
// Failures are logged and swallowed.
type AuditObserver struct {
	Audit *audit.Service
}

func (o AuditObserver) Assigned(ctx context.Context, e Entry, stage string) {
	o.append(ctx, audit.Event{
		Type:        audit.EventTypeQueueAssigned,
		ActorUserID: e.AssignedTo,
		SurveyID:    e.SurveyID,
		EntityID:    e.ID,
		Message:     "respondent assigned",
		Metadata:    audit.Metadata(map[string]string{"stage": stage}),
	})
}

func (o AuditObserver) Transitioned(ctx context.Context, e Entry, from Status, reason string) {
	o.append(ctx, audit.Event{
		Type:     audit.EventTypeQueueTransition,
		SurveyID: e.SurveyID,
		EntityID: e.ID,
		Message:  string(from) + " -> " + string(e.Status),
		Metadata: audit.Metadata(map[string]any{
			"from":    from,
			"to":      e.Status,
			"reason":  reason,
			"attempt": e.CurrentAttemptNumber,
		}),
	})
}

func (o AuditObserver) append(ctx context.Context, ev audit.Event) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.Append(ctx, ev); err != nil {
		logger.From(ctx).Warn("audit append failed", slog.String("type", string(ev.Type)), slog.Any("err", err))
	}
}

// Observers fans out to several observers in order.
type Observers []Observer

func (os Observers) Assigned(ctx context.Context, e Entry, stage string) {
	for _, o := range os {
		o.Assigned(ctx, e, stage)
	}
}

func (os Observers) Transitioned(ctx context.Context, e Entry, from Status, reason string) {
	for _, o := range os {
		o.Transitioned(ctx, e, from, reason)
	}
}
