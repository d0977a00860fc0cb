package responses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/queue"
	"survey-platform/pkg/logger"

	"github.com/google/uuid"
)

var ErrInvalidTransition = errors.New("responses: invalid disposition transition")

// Abandonment reasons set on Disposition.AbandonedReason.
const (
	AbandonCallNotConnected = "call_not_connected"
	AbandonConsentRefused   = "consent_refused"
	AbandonByInterviewer    = "interviewer_abandoned"
	AbandonShortNoAnswers   = "short_no_answers"
	// DuplicateOfPrefix prefixes the reason of batch-detected duplicates.
	DuplicateOfPrefix = "duplicate_of:"
)

// Classifier decides the disposition of a stored response.
type Classifier interface {
	Classify(ctx context.Context, r Response) (Classification, error)
}

// Queue is the part of queue.Service a finished interview drives.
type Queue interface {
	Complete(ctx context.Context, entryID, responseID string) (queue.Entry, error)
	Abandon(ctx context.Context, entryID string, req queue.AbandonRequest) (queue.Entry, error)
}

type Metrics interface {
	ResponseClassified(disposition string)
	DuplicateMarked()
}

const updateTries = 5

type Service struct {
	repo       Repository
	classifier Classifier
	queue      Queue

	Audit   *audit.Service
	Metrics Metrics

	clock func() time.Time
}

func NewService(repo Repository, classifier Classifier, q Queue) *Service {
	return &Service{repo: repo, classifier: classifier, queue: q, clock: time.Now}
}

// SetClock replaces the time source used for CreatedAt and classification stamps.
func (s *Service) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	s.clock = clock
}

func (s *Service) Get(ctx context.Context, id string) (Response, error) {
	if id == "" {
		return Response{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, after Cursor, limit int) ([]Response, error) {
	return s.repo.List(ctx, f, after, limit)
}

// Submit stores a finished interview and classifies it. A retried
// submission (same session, or same content hash) returns the response
// stored first and never overwrites it. Interviewers always get
// NominalStatus back, whatever the classification.
func (s *Service) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if sub.SessionID == "" || sub.SurveyID == "" || sub.InterviewerID == "" || !sub.Mode.Valid() || sub.StartTime.IsZero() {
		return SubmitResult{}, ErrInvalidArgument
	}

	r := sub.response()
	existing, err := s.repo.FindBySession(ctx, sub.SessionID)
	if err == nil {
		return s.duplicate(ctx, existing, r, "session")
	}
	if !errors.Is(err, ErrNotFound) {
		return SubmitResult{}, err
	}

	r.ContentHash = ContentHash(r.InterviewerID, r.SurveyID, r.StartTime, r.Answers)
	existing, err = s.repo.FindByContentHash(ctx, r.ContentHash)
	if err == nil {
		return s.duplicate(ctx, existing, r, "content_hash")
	}
	if !errors.Is(err, ErrNotFound) {
		return SubmitResult{}, err
	}

	now := s.clock().UTC()
	r.ID = uuid.NewString()
	r.Disposition = Disposition{Kind: DispositionPendingApproval}
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.repo.Create(ctx, r); err != nil {
		if !errors.Is(err, ErrConflict) {
			return SubmitResult{}, fmt.Errorf("store response: %w", err)
		}
		// Lost a race with a concurrent retry of the same interview.
		if existing, ferr := s.repo.FindBySession(ctx, r.SessionID); ferr == nil {
			return s.duplicate(ctx, existing, r, "session")
		}
		if existing, ferr := s.repo.FindByContentHash(ctx, r.ContentHash); ferr == nil {
			return s.duplicate(ctx, existing, r, "content_hash")
		}
		return SubmitResult{}, fmt.Errorf("store response: %w", err)
	}

	logger.From(ctx).Info("response stored",
		slog.String("response_id", r.ID),
		slog.String("survey_id", r.SurveyID),
		slog.String("session_id", r.SessionID))
	return s.Complete(ctx, r.ID)
}

// duplicate answers a submission that matched a stored response. The stored
// response is classified only if the first submission died before that.
// When the incoming submission came from a different queue entry (two
// unanswered calls in the same minute hash alike) that entry is driven by
// the incoming submission's own outcome so it does not stay assigned.
func (s *Service) duplicate(ctx context.Context, existing, incoming Response, by string) (SubmitResult, error) {
	log := logger.From(ctx).With(slog.String("response_id", existing.ID), slog.String("matched_by", by))
	log.Info("duplicate submission returned existing response")
	if _, err := s.Complete(ctx, existing.ID); err != nil {
		return SubmitResult{}, err
	}

	if incoming.QueueEntryID != "" && incoming.QueueEntryID != existing.QueueEntryID {
		log.Warn("matched submission carries another queue entry",
			slog.String("entry_id", incoming.QueueEntryID),
			slog.String("stored_entry_id", existing.QueueEntryID))
		incoming.ID = existing.ID
		incoming.CreatedAt = existing.CreatedAt
		incoming.Disposition = Disposition{Kind: DispositionPendingApproval}
		cls, err := s.classify(ctx, incoming)
		if err != nil {
			return SubmitResult{}, err
		}
		incoming.Disposition = cls.Disposition
		s.propagate(ctx, incoming)
	}
	return SubmitResult{ResponseID: existing.ID, Status: NominalStatus, Duplicate: true}, nil
}

func (s *Service) classify(ctx context.Context, r Response) (Classification, error) {
	if s.classifier == nil {
		return Classification{Disposition: Disposition{Kind: DispositionPendingApproval}}, nil
	}
	cls, err := s.classifier.Classify(ctx, r)
	if err != nil {
		return Classification{}, fmt.Errorf("classify response: %w", err)
	}
	return cls, nil
}

// Complete classifies a stored response and closes its queue entry.
// Responses already classified or in a terminal disposition are left alone.
// Only the disposition, verification data and contact key change; Derived and
// every other field survive.
func (s *Service) Complete(ctx context.Context, id string) (SubmitResult, error) {
	if id == "" {
		return SubmitResult{}, ErrInvalidArgument
	}
	log := logger.From(ctx).With(slog.String("response_id", id))

	for attempt := 0; attempt < updateTries; attempt++ {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return SubmitResult{}, err
		}
		if cur.Disposition.Kind.Terminal() || cur.Verification.ClassifiedAt != nil {
			return SubmitResult{ResponseID: id, Status: NominalStatus}, nil
		}

		cls, err := s.classify(ctx, cur)
		if err != nil {
			return SubmitResult{}, err
		}

		now := s.clock().UTC()
		next := cur
		next.Verification.ClassifiedAt = &now
		next.Disposition = cls.Disposition
		next.Verification.AutoRejected = cls.AutoRejected
		if cls.AutoRejected {
			next.Verification.Reasons = slices.Clone(cls.Disposition.Reasons)
		}
		if cls.ContactKey != "" {
			next.ContactKey = cls.ContactKey
		}

		next.Version = cur.Version + 1
		next.UpdatedAt = now
		err = s.repo.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return SubmitResult{}, fmt.Errorf("update response: %w", err)
		}
		s.classified(ctx, next)

		log.Info("response classified",
			slog.String("disposition", string(next.Disposition.Kind)),
			slog.Any("reasons", next.Disposition.Reasons))
		s.propagate(ctx, next)
		return SubmitResult{ResponseID: id, Status: NominalStatus}, nil
	}
	return SubmitResult{}, fmt.Errorf("complete response %q: %w", id, ErrConflict)
}

func (s *Service) classified(ctx context.Context, r Response) {
	if s.Metrics != nil {
		s.Metrics.ResponseClassified(string(r.Disposition.Kind))
	}
	s.audit(ctx, audit.Event{
		Type:        audit.EventTypeResponseClassified,
		ActorUserID: r.InterviewerID,
		SurveyID:    r.SurveyID,
		EntityID:    r.ID,
		Message:     string(r.Disposition.Kind),
		Metadata: audit.Metadata(map[string]any{
			"reasons":          r.Disposition.Reasons,
			"abandoned_reason": r.Disposition.AbandonedReason,
			"auto_rejected":    r.Verification.AutoRejected,
		}),
	})
}

// queueReasons are abandonment reasons the queue acts on directly.
var queueReasons = []string{
	queue.ReasonConsentRefused,
	queue.ReasonNumberDoesNotExist,
	queue.ReasonCallLater,
	queue.ReasonSwitchedOff,
	queue.ReasonNotReachable,
	queue.ReasonBusy,
	queue.ReasonNoAnswer,
	queue.ReasonCallFailed,
}

func queueReason(r Response) string {
	for _, candidate := range []string{r.Disposition.AbandonedReason, r.Intake.AbandonedReason, r.KnownCallStatus} {
		c := strings.ToLower(strings.TrimSpace(candidate))
		if slices.Contains(queueReasons, c) {
			return c
		}
	}
	return AbandonByInterviewer
}

// propagate closes or requeues the queue entry the interview came from.
// Queue failures are logged: the response itself is safely stored.
func (s *Service) propagate(ctx context.Context, r Response) {
	if r.QueueEntryID == "" || s.queue == nil {
		return
	}
	log := logger.From(ctx).With(slog.String("response_id", r.ID), slog.String("entry_id", r.QueueEntryID))

	var err error
	if r.Disposition.Kind == DispositionAbandoned {
		_, err = s.queue.Abandon(ctx, r.QueueEntryID, queue.AbandonRequest{
			InterviewerID: r.InterviewerID,
			Reason:        queueReason(r),
		})
	} else {
		_, err = s.queue.Complete(ctx, r.QueueEntryID, r.ID)
	}
	if err != nil {
		log.Warn("queue update after submission failed", slog.Any("err", err))
	}
}

// ReviewDecision is a quality reviewer's verdict.
type ReviewDecision struct {
	ReviewerID string
	Approve    bool
	Feedback   string
}

// Review records a manual verdict on a pending or auto-rejected response.
func (s *Service) Review(ctx context.Context, id string, d ReviewDecision) (Response, error) {
	if id == "" || d.ReviewerID == "" {
		return Response{}, ErrInvalidArgument
	}
	for attempt := 0; attempt < updateTries; attempt++ {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return Response{}, err
		}
		switch cur.Disposition.Kind {
		case DispositionPendingApproval, DispositionRejected:
		default:
			return Response{}, ErrInvalidTransition
		}

		next := cur
		if d.Approve {
			next.Disposition = Disposition{Kind: DispositionApproved}
		} else {
			next.Disposition = Disposition{Kind: DispositionRejected, Reasons: cur.Disposition.Reasons}
		}
		next.Verification.Feedback = d.Feedback
		next.Verification.ReviewedBy = d.ReviewerID
		next.Version = cur.Version + 1
		next.UpdatedAt = s.clock().UTC()

		err = s.repo.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Response{}, err
		}
		s.audit(ctx, audit.Event{
			Type:        audit.EventTypeResponseClassified,
			ActorUserID: d.ReviewerID,
			SurveyID:    next.SurveyID,
			EntityID:    next.ID,
			Message:     "manual review: " + string(next.Disposition.Kind),
		})
		return next, nil
	}
	return Response{}, ErrConflict
}

// MarkDuplicate abandons a response as a duplicate of originalID. It reports
// false when the response was already marked.
func (s *Service) MarkDuplicate(ctx context.Context, id, originalID string) (bool, error) {
	if id == "" || originalID == "" || id == originalID {
		return false, ErrInvalidArgument
	}
	reason := DuplicateOfPrefix + originalID
	for attempt := 0; attempt < updateTries; attempt++ {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return false, err
		}
		if cur.Disposition.Kind == DispositionAbandoned && strings.HasPrefix(cur.Disposition.AbandonedReason, DuplicateOfPrefix) {
			return false, nil
		}

		next := cur
		next.Disposition = Disposition{Kind: DispositionAbandoned, AbandonedReason: reason}
		next.Version = cur.Version + 1
		next.UpdatedAt = s.clock().UTC()

		err = s.repo.Update(ctx, next, cur.Version)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return false, err
		}
		if s.Metrics != nil {
			s.Metrics.DuplicateMarked()
		}
		s.audit(ctx, audit.Event{
			Type:     audit.EventTypeDuplicateMarked,
			SurveyID: next.SurveyID,
			EntityID: next.ID,
			Message:  reason,
			Metadata: audit.Metadata(map[string]string{
				"original_id":          originalID,
				"previous_disposition": string(cur.Disposition.Kind),
			}),
		})
		return true, nil
	}
	return false, ErrConflict
}

func (s *Service) audit(ctx context.Context, ev audit.Event) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Append(ctx, ev); err != nil {
		logger.From(ctx).Warn("audit append failed", slog.String("type", string(ev.Type)), slog.Any("err", err))
	}
}
