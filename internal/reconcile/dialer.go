package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/telephony"
	"survey-platform/pkg/logger"
	"survey-platform/pkg/utils"

	"github.com/google/uuid"
)

// ProviderResolver is satisfied by *telephony.Registry.
type ProviderResolver interface {
	Provider(name string) (telephony.Provider, error)
}

// CallInitiations counts click-to-call attempts by result.
type CallInitiations interface {
	CallInitiated(provider string, ok bool)
}

// StartRequest asks the dialer to bridge an interviewer to their assigned respondent.
type StartRequest struct {
	InterviewerID string
	EntryID       string
	// AgentNumber is the interviewer's own phone, dialed first by the vendor.
	AgentNumber string
	// Provider selects a vendor; empty uses the registry default.
	Provider string
}

type StartResult struct {
	Entry  queue.Entry  `json:"entry"`
	Record calls.Record `json:"call"`
}

// Dialer starts calls for assigned queue entries.
type Dialer struct {
	queue     Queue
	calls     calls.Repository
	providers ProviderResolver

	Cap     CallCap
	Metrics CallInitiations
	// CallbackBase is the public base URL vendors post webhooks to.
	CallbackBase string

	clock func() time.Time
}

func NewDialer(q Queue, repo calls.Repository, providers ProviderResolver) *Dialer {
	return &Dialer{queue: q, calls: repo, providers: providers, clock: time.Now}
}

// StartCall initiates a click-to-call for the interviewer's assigned entry.
// A failed initiation requeues the entry and frees the interviewer's slot.
func (d *Dialer) StartCall(ctx context.Context, req StartRequest) (StartResult, error) {
	if req.InterviewerID == "" || req.EntryID == "" || req.AgentNumber == "" {
		return StartResult{}, queue.ErrInvalidArgument
	}
	log := logger.From(ctx).With(
		slog.String("entry_id", req.EntryID),
		slog.String("interviewer_id", req.InterviewerID))

	e, err := d.queue.Get(ctx, req.EntryID)
	if err != nil {
		return StartResult{}, err
	}
	if !e.Status.Active() || e.AssignedTo != req.InterviewerID {
		return StartResult{}, queue.ErrNotAssigned
	}

	p, err := d.providers.Provider(req.Provider)
	if err != nil {
		return StartResult{}, err
	}

	if d.Cap != nil {
		ok, err := d.Cap.Acquire(ctx, req.InterviewerID)
		if err != nil {
			return StartResult{}, fmt.Errorf("acquire call cap: %w", err)
		}
		if !ok {
			return StartResult{}, ErrTooManyCalls
		}
	}

	res, err := p.InitiateCall(ctx, telephony.CallRequest{
		From:        req.AgentNumber,
		To:          e.Contact.Phone,
		Reference:   e.ID,
		CallbackURL: d.callbackURL(p.Name()),
	})
	if d.Metrics != nil {
		d.Metrics.CallInitiated(p.Name(), err == nil)
	}
	if err != nil {
		log.Warn("call initiation failed", slog.String("provider", p.Name()), slog.Any("err", err))
		d.release(ctx, req.InterviewerID)
		if _, qerr := d.queue.Abandon(ctx, e.ID, queue.AbandonRequest{
			InterviewerID: req.InterviewerID,
			Reason:        queue.ReasonCallFailed,
		}); qerr != nil {
			log.Error("requeue after failed initiation", slog.Any("err", qerr))
		}
		return StartResult{}, err
	}

	rec, err := d.linkRecord(ctx, e, req, p.Name(), res.ProviderCallID)
	if err != nil {
		return StartResult{}, err
	}

	entry, err := d.queue.MarkCalling(ctx, e.ID, req.InterviewerID, res.ProviderCallID, rec.ID)
	if err != nil {
		return StartResult{}, err
	}

	// The webhook can beat the dialer; its outcome could not reach the queue then.
	if rec.WebhookReceived {
		if rec.Status.Final() {
			d.release(ctx, req.InterviewerID)
		}
		if o, ok := OutcomeFor(rec); ok {
			if entry, err = d.queue.ApplyCallOutcome(ctx, e.ID, o); err != nil {
				return StartResult{}, err
			}
		}
	}

	log.Info("call started", slog.String("provider", p.Name()), slog.String("provider_call_id", res.ProviderCallID))
	return StartResult{Entry: entry, Record: rec}, nil
}

// linkRecord finds or creates the record for the provider call id and ties
// it to the queue entry and interviewer.
func (d *Dialer) linkRecord(ctx context.Context, e queue.Entry, req StartRequest, provider, providerCallID string) (calls.Record, error) {
	for attempt := 0; attempt < writeTries; attempt++ {
		now := d.clock().UTC()
		cur, err := d.calls.FindByProviderCallID(ctx, providerCallID)
		switch {
		case errors.Is(err, calls.ErrNotFound):
			rec := calls.Record{
				ID:              uuid.NewString(),
				ProviderCallID:  providerCallID,
				ProviderCallKey: strings.ToLower(providerCallID),
				Provider:        provider,
				QueueEntryID:    e.ID,
				SurveyID:        e.SurveyID,
				InterviewerID:   req.InterviewerID,
				FromNumber:      req.AgentNumber,
				ToNumber:        e.Contact.Phone,
				FromKey:         utils.NormalizePhone(req.AgentNumber),
				ToKey:           e.PhoneKey,
				Version:         1,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			err = d.calls.Create(ctx, rec)
			if err == nil {
				return rec, nil
			}
			if !errors.Is(err, calls.ErrConflict) {
				return calls.Record{}, fmt.Errorf("create call record: %w", err)
			}
		case err != nil:
			return calls.Record{}, fmt.Errorf("find call record: %w", err)
		default:
			next := cur
			next.QueueEntryID = e.ID
			next.SurveyID = e.SurveyID
			next.InterviewerID = req.InterviewerID
			if next.FromKey == "" {
				next.FromKey = utils.NormalizePhone(req.AgentNumber)
			}
			if next.ToKey == "" {
				next.ToKey = e.PhoneKey
			}
			next.Version = cur.Version + 1
			next.UpdatedAt = now
			err = d.calls.Update(ctx, next, cur.Version)
			if err == nil {
				return next, nil
			}
			if !errors.Is(err, calls.ErrConflict) {
				return calls.Record{}, fmt.Errorf("link call record: %w", err)
			}
		}
	}
	return calls.Record{}, fmt.Errorf("link call %q: %w", providerCallID, calls.ErrConflict)
}

func (d *Dialer) callbackURL(provider string) string {
	if d.CallbackBase == "" {
		return ""
	}
	return strings.TrimRight(d.CallbackBase, "/") + "/webhooks/" + provider
}

func (d *Dialer) release(ctx context.Context, interviewerID string) {
	if d.Cap == nil {
		return
	}
	if err := d.Cap.Release(ctx, interviewerID); err != nil {
		logger.From(ctx).Warn("release call cap failed", slog.String("interviewer_id", interviewerID), slog.Any("err", err))
	}
}
