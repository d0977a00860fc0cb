package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/telephony"
	"survey-platform/pkg/logger"
	"survey-platform/pkg/utils"

	"github.com/google/uuid"
)

var (
	// ErrUnmatched means a webhook without a provider call id matched no
	// un-reconciled call record within the recency window.
	ErrUnmatched    = errors.New("reconcile: webhook matches no call record")
	ErrTooManyCalls = errors.New("reconcile: interviewer has too many active calls")
)

// Queue is the part of queue.Service the reconciler and the dialer drive.
type Queue interface {
	Get(ctx context.Context, id string) (queue.Entry, error)
	MarkCalling(ctx context.Context, entryID, interviewerID, callID, callRecordID string) (queue.Entry, error)
	ApplyCallOutcome(ctx context.Context, entryID string, o queue.Outcome) (queue.Entry, error)
	Abandon(ctx context.Context, entryID string, req queue.AbandonRequest) (queue.Entry, error)
}

// Archiver copies a vendor recording into object storage and returns its key.
type Archiver interface {
	Archive(ctx context.Context, rec calls.Record) (string, error)
}

// Metrics receives reconciliation counters.
type Metrics interface {
	CallReconciled(provider string, status string)
}

const (
	DefaultRecencyWindow = 10 * time.Minute
	writeTries           = 5
)

// Reconciler folds normalized webhooks into call records and propagates the
// result to the respondent queue. It implements telephony.EventSink.
type Reconciler struct {
	calls calls.Repository
	queue Queue

	Archiver Archiver
	Audit    *audit.Service
	Cap      CallCap
	Metrics  Metrics
	// RecencyWindow bounds the phone-number fallback match.
	RecencyWindow time.Duration

	clock func() time.Time
}

func NewReconciler(repo calls.Repository, q Queue) *Reconciler {
	return &Reconciler{calls: repo, queue: q, RecencyWindow: DefaultRecencyWindow, clock: time.Now}
}

// Apply reconciles one webhook event. Applying the same event twice leaves
// the record and the queue unchanged.
func (r *Reconciler) Apply(ctx context.Context, ev telephony.WebhookEvent) error {
	log := logger.From(ctx).With(
		slog.String("provider", ev.Provider),
		slog.String("provider_call_id", ev.ProviderCallID))

	obs := ev.Observation()
	var (
		rec      calls.Record
		replay   bool
		released bool
	)
	for attempt := 0; ; attempt++ {
		if attempt == writeTries {
			return fmt.Errorf("reconcile call %q: %w", ev.ProviderCallID, calls.ErrConflict)
		}
		cur, found, err := r.locate(ctx, ev)
		if err != nil {
			return err
		}
		if found && obs.PayloadHash != "" && containsHash(cur.PayloadHashes, obs.PayloadHash) {
			rec, replay = cur, true
			break
		}

		now := r.clock().UTC()
		next := cur
		wasFinal := found && cur.Status.Final()
		next.Merge(obs)
		next.UpdatedAt = now

		if !found {
			next.ID = uuid.NewString()
			next.FromKey = utils.NormalizePhone(next.FromNumber)
			next.ToKey = utils.NormalizePhone(next.ToNumber)
			next.CreatedAt = now
			next.Version = 1
			err = r.calls.Create(ctx, next)
		} else {
			next.Version = cur.Version + 1
			err = r.calls.Update(ctx, next, cur.Version)
		}
		if errors.Is(err, calls.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("persist call record: %w", err)
		}
		rec = next
		released = !wasFinal && rec.Status.Final()
		if !found {
			log.Info("call record created from webhook", slog.String("call_record_id", rec.ID))
		}
		break
	}

	if replay {
		log.Debug("webhook replay ignored", slog.String("call_record_id", rec.ID))
	} else {
		if r.Metrics != nil {
			r.Metrics.CallReconciled(rec.Provider, string(rec.Status))
		}
		r.audit(ctx, rec)
	}

	if released && rec.InterviewerID != "" && r.Cap != nil {
		if err := r.Cap.Release(ctx, rec.InterviewerID); err != nil {
			log.Warn("release call cap failed", slog.String("interviewer_id", rec.InterviewerID), slog.Any("err", err))
		}
	}

	if err := r.propagate(ctx, rec); err != nil {
		return err
	}
	if !replay {
		r.archive(ctx, rec)
	}
	return nil
}

// locate finds the record an event belongs to. Events with a provider id
// that match nothing yield a fresh record to create.
func (r *Reconciler) locate(ctx context.Context, ev telephony.WebhookEvent) (calls.Record, bool, error) {
	if ev.ProviderCallID != "" {
		rec, err := r.calls.FindByProviderCallID(ctx, ev.ProviderCallID)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, calls.ErrNotFound) {
			return calls.Record{}, false, fmt.Errorf("find call %q: %w", ev.ProviderCallID, err)
		}
		return calls.Record{}, false, nil
	}

	toKey := utils.NormalizePhone(ev.ToNumber)
	if toKey == "" {
		return calls.Record{}, false, telephony.ErrNoCallIdentity
	}
	window := r.RecencyWindow
	if window <= 0 {
		window = DefaultRecencyWindow
	}
	since := r.clock().UTC().Add(-window)
	rec, err := r.calls.FindUnreconciled(ctx, utils.NormalizePhone(ev.FromNumber), toKey, since)
	if errors.Is(err, calls.ErrNotFound) {
		return calls.Record{}, false, ErrUnmatched
	}
	if err != nil {
		return calls.Record{}, false, fmt.Errorf("phone fallback: %w", err)
	}
	return rec, true, nil
}

func (r *Reconciler) propagate(ctx context.Context, rec calls.Record) error {
	if rec.QueueEntryID == "" || r.queue == nil {
		return nil
	}
	o, ok := OutcomeFor(rec)
	if !ok {
		return nil
	}
	if _, err := r.queue.ApplyCallOutcome(ctx, rec.QueueEntryID, o); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			logger.From(ctx).Warn("call record points at a missing queue entry",
				slog.String("call_record_id", rec.ID), slog.String("entry_id", rec.QueueEntryID))
			return nil
		}
		return fmt.Errorf("propagate call outcome: %w", err)
	}
	return nil
}

// OutcomeFor maps a reconciled record onto the queue. Ringing records carry
// no outcome yet.
func OutcomeFor(rec calls.Record) (queue.Outcome, bool) {
	o := queue.Outcome{CallID: rec.ProviderCallID}
	switch {
	case rec.InvalidNumber:
		o.Kind = queue.OutcomeInvalidNumber
		o.AttemptStatus = queue.ReasonNumberDoesNotExist
		o.Reason = queue.ReasonNumberDoesNotExist
	case rec.Status.Connected():
		o.Kind = queue.OutcomeConnected
		o.AttemptStatus = queue.AttemptConnected
	case rec.Status.Final():
		o.Kind = queue.OutcomeRetry
		o.AttemptStatus = string(rec.Status)
		if rec.Reachability != "" {
			o.AttemptStatus = rec.Reachability
		}
		o.Reason = o.AttemptStatus
	default:
		return queue.Outcome{}, false
	}
	return o, true
}

func (r *Reconciler) audit(ctx context.Context, rec calls.Record) {
	if r.Audit == nil {
		return
	}
	err := r.Audit.Append(ctx, audit.Event{
		Type:           audit.EventTypeCallReconciled,
		ActorUserID:    rec.InterviewerID,
		SurveyID:       rec.SurveyID,
		EntityID:       rec.ID,
		ProviderCallID: rec.ProviderCallID,
		Message:        "call status " + string(rec.Status),
		Metadata: audit.Metadata(map[string]any{
			"provider":       rec.Provider,
			"status":         rec.Status,
			"invalid_number": rec.InvalidNumber,
			"reachability":   rec.Reachability,
			"webhook_count":  rec.WebhookCount,
		}),
	})
	if err != nil {
		logger.From(ctx).Warn("audit append failed", slog.Any("err", err))
	}
}

// archive stores the recording once the call is final. Failures only log;
// the vendor URL stays on the record.
func (r *Reconciler) archive(ctx context.Context, rec calls.Record) {
	if r.Archiver == nil || rec.RecordingURL == "" || rec.RecordingKey != "" || !rec.Status.Final() {
		return
	}
	log := logger.From(ctx).With(slog.String("call_record_id", rec.ID))
	key, err := r.Archiver.Archive(ctx, rec)
	if err != nil {
		log.Warn("recording archive failed", slog.Any("err", err))
		return
	}
	for attempt := 0; attempt < writeTries; attempt++ {
		cur, err := r.calls.Get(ctx, rec.ID)
		if err != nil {
			log.Warn("reload call record failed", slog.Any("err", err))
			return
		}
		if cur.RecordingKey != "" {
			return
		}
		next := cur
		next.RecordingKey = key
		next.Version = cur.Version + 1
		next.UpdatedAt = r.clock().UTC()
		err = r.calls.Update(ctx, next, cur.Version)
		if err == nil {
			return
		}
		if !errors.Is(err, calls.ErrConflict) {
			log.Warn("store recording key failed", slog.Any("err", err))
			return
		}
	}
}

func containsHash(list []string, h string) bool {
	for _, v := range list {
		if strings.EqualFold(v, h) {
			return true
		}
	}
	return false
}
