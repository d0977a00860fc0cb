package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"survey-platform/internal/priority"
	"survey-platform/pkg/logger"
	"survey-platform/pkg/utils"

	"github.com/google/uuid"
)

// PriorityIndex is the subset of priority.Index the selection function needs.
type PriorityIndex interface {
	Snapshot(ctx context.Context) priority.Snapshot
}

// Observer is notified after successful queue writes. Implementations must not block.
type Observer interface {
	Assigned(ctx context.Context, e Entry, stage string)
	Transitioned(ctx context.Context, e Entry, from Status, reason string)
}

type nopObserver struct{}

func (nopObserver) Assigned(context.Context, Entry, string)             {}
func (nopObserver) Transitioned(context.Context, Entry, Status, string) {}

const (
	InitBatchSize = 500

	sampleSize      = 5
	stageAttempts   = 3
	transitionTries = 5
)

type Service struct {
	repo       Repository
	priorities PriorityIndex
	observer   Observer
	clock      func() time.Time
}

func NewService(repo Repository, priorities PriorityIndex) *Service {
	return &Service{repo: repo, priorities: priorities, observer: nopObserver{}, clock: time.Now}
}

// SetObserver replaces the write observer; nil restores the no-op.
func (s *Service) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

func (s *Service) Get(ctx context.Context, id string) (Entry, error) {
	if id == "" {
		return Entry{}, ErrInvalidArgument
	}
	return s.repo.Get(ctx, id)
}

// Next assigns a pending respondent to the interviewer. An interviewer that
// already holds an active entry for the survey gets that entry back.
func (s *Service) Next(ctx context.Context, surveyID, interviewerID string) (Entry, error) {
	if surveyID == "" || interviewerID == "" {
		return Entry{}, ErrInvalidArgument
	}

	held, err := s.repo.ActiveByInterviewer(ctx, surveyID, interviewerID)
	if err == nil {
		return held, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entry{}, err
	}

	var snap priority.Snapshot
	if s.priorities != nil {
		snap = s.priorities.Snapshot(ctx)
	}

	for _, st := range selectionStages(surveyID, snap) {
		e, ok, err := s.pickFromStage(ctx, st, interviewerID)
		if err != nil {
			return Entry{}, err
		}
		if ok {
			logger.From(ctx).Debug("respondent assigned",
				slog.String("survey_id", surveyID),
				slog.String("entry_id", e.ID),
				slog.String("stage", st.name))
			s.observer.Assigned(ctx, e, st.name)
			return e, nil
		}
	}
	return Entry{}, ErrNoRespondent
}

type stage struct {
	name   string
	filter Filter
	order  Order
}

// selectionStages lists the selection order:
//  1. each positive tier ascending, call-later entries first and requeued entries last;
//  2. entries with no AC, then entries whose AC is not in the map, band by band;
//  3. oldest-first over everything except excluded (tier 0) ACs.
//
// Every stage but the last samples randomly. Requeued entries are drawn
// oldest-first so the most recently failed contact goes last.
func selectionStages(surveyID string, snap priority.Snapshot) []stage {
	bands := []Band{BandBoosted, BandDefault, BandRequeued}
	orderFor := func(b Band) Order {
		if b == BandRequeued {
			return OrderOldest
		}
		return OrderRandom
	}

	var out []stage
	for _, tier := range snap.Tiers() {
		for _, b := range bands {
			out = append(out, stage{
				name:   fmt.Sprintf("tier_%d", tier.Rank),
				filter: Filter{SurveyID: surveyID, ACIn: tier.ACs, Band: b},
				order:  orderFor(b),
			})
		}
	}

	known := snap.Known()
	for _, b := range bands {
		out = append(out,
			stage{name: "no_ac", filter: Filter{SurveyID: surveyID, NoAC: true, Band: b}, order: orderFor(b)},
			stage{name: "unmapped_ac", filter: Filter{SurveyID: surveyID, RequireAC: true, ACNotIn: known, Band: b}, order: orderFor(b)},
		)
	}

	out = append(out, stage{
		name:   "oldest_first",
		filter: Filter{SurveyID: surveyID, ACNotIn: snap.Excluded()},
		order:  OrderOldest,
	})
	return out
}

func (s *Service) pickFromStage(ctx context.Context, st stage, interviewerID string) (Entry, bool, error) {
	for attempt := 0; attempt < stageAttempts; attempt++ {
		cands, err := s.repo.Candidates(ctx, st.filter, st.order, sampleSize)
		if err != nil {
			return Entry{}, false, err
		}
		if len(cands) == 0 {
			return Entry{}, false, nil
		}
		for _, c := range cands {
			e, ok, err := s.tryAssign(ctx, c, interviewerID)
			if err != nil {
				return Entry{}, false, err
			}
			if ok {
				return e, true, nil
			}
		}
	}
	return Entry{}, false, nil
}

func (s *Service) tryAssign(ctx context.Context, c Entry, interviewerID string) (Entry, bool, error) {
	if c.PhoneKey != "" {
		busy, err := s.repo.ActiveByPhone(ctx, c.PhoneKey, c.ID)
		if err != nil {
			return Entry{}, false, err
		}
		if busy {
			return Entry{}, false, nil
		}
	}

	now := s.clock().UTC()
	next := c.clone()
	next.Status = StatusAssigned
	next.AssignedTo = interviewerID
	next.AssignedAt = &now
	next.UpdatedAt = now
	next.Version = c.Version + 1

	err := s.repo.CompareAndSwap(ctx, next, c.Version, []Status{StatusPending})
	if errors.Is(err, ErrConflict) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return next, true, nil
}

// transition re-reads and retries on version conflicts. mutate may return
// errSkip to leave the entry untouched.
func (s *Service) transition(ctx context.Context, id string, from []Status, reason string, mutate func(e *Entry, now time.Time) error) (Entry, error) {
	for i := 0; i < transitionTries; i++ {
		cur, err := s.repo.Get(ctx, id)
		if err != nil {
			return Entry{}, err
		}
		if len(from) > 0 && !statusIn(cur.Status, from) {
			return cur, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, cur.Status)
		}

		now := s.clock().UTC()
		next := cur.clone()
		if err := mutate(&next, now); err != nil {
			if errors.Is(err, errSkip) {
				return cur, nil
			}
			return cur, err
		}
		next.UpdatedAt = now
		next.Version = cur.Version + 1

		err = s.repo.CompareAndSwap(ctx, next, cur.Version, from)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return Entry{}, err
		}
		if next.Status != cur.Status {
			s.observer.Transitioned(ctx, next, cur.Status, reason)
		}
		return next, nil
	}
	return Entry{}, ErrConflict
}

var errSkip = errors.New("skip")

// MarkCalling records a new call attempt: assigned -> calling.
func (s *Service) MarkCalling(ctx context.Context, entryID, interviewerID, callID, callRecordID string) (Entry, error) {
	if entryID == "" || interviewerID == "" {
		return Entry{}, ErrInvalidArgument
	}
	return s.transition(ctx, entryID, []Status{StatusAssigned, StatusCalling}, AttemptInitiated, func(e *Entry, now time.Time) error {
		if e.AssignedTo != interviewerID {
			return ErrNotAssigned
		}
		for _, a := range e.CallAttempts {
			if callID != "" && a.CallID == callID {
				return errSkip
			}
		}
		e.Status = StatusCalling
		e.CurrentAttemptNumber++
		e.CallAttempts = append(e.CallAttempts, Attempt{
			AttemptNumber: e.CurrentAttemptNumber,
			AttemptedAt:   now,
			AttemptedBy:   interviewerID,
			CallID:        callID,
			Status:        AttemptInitiated,
		})
		if callRecordID != "" {
			e.CallRecordID = callRecordID
		}
		return nil
	})
}

// ApplyCallOutcome propagates a reconciled call status. Outcomes for an older
// call than the entry's latest attempt only update the attempt log.
func (s *Service) ApplyCallOutcome(ctx context.Context, entryID string, o Outcome) (Entry, error) {
	if entryID == "" || o.Kind == "" {
		return Entry{}, ErrInvalidArgument
	}
	return s.transition(ctx, entryID, nil, string(o.Kind), func(e *Entry, now time.Time) error {
		latest := o.CallID == "" || len(e.CallAttempts) == 0 || latestCallID(e) == o.CallID
		changed := recordAttempt(e, o, now)

		switch o.Kind {
		case OutcomeRetry:
			if e.Status.Active() && latest {
				requeue(e, now, o.AttemptStatus)
				return nil
			}
		case OutcomeInvalidNumber:
			if !e.Status.Terminal() {
				closeEntry(e, StatusDoesNotExist, ReasonNumberDoesNotExist)
				return nil
			}
		}
		if !changed {
			return errSkip
		}
		return nil
	})
}

// Complete closes an interviewed entry: calling -> interview_success.
func (s *Service) Complete(ctx context.Context, entryID, responseID string) (Entry, error) {
	if entryID == "" {
		return Entry{}, ErrInvalidArgument
	}
	cur, err := s.repo.Get(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if cur.Status == StatusInterviewSuccess {
		return cur, nil
	}
	return s.transition(ctx, entryID, []Status{StatusAssigned, StatusCalling}, AttemptCompleted, func(e *Entry, now time.Time) error {
		e.Status = StatusInterviewSuccess
		e.ResponseID = responseID
		if n := len(e.CallAttempts); n > 0 {
			e.CallAttempts[n-1].Status = AttemptCompleted
		}
		return nil
	})
}

// AbandonRequest describes an interviewer-reported abandonment.
type AbandonRequest struct {
	InterviewerID string
	Reason        string
	CallLaterAt   *time.Time
}

// Abandon applies an abandonment reason:
//   - consent_refused closes the entry as rejected
//   - number_does_not_exist closes it as does_not_exist
//   - call_later returns it to pending with a boosted priority
//   - anything else requeues it at the tail
func (s *Service) Abandon(ctx context.Context, entryID string, req AbandonRequest) (Entry, error) {
	if entryID == "" || req.Reason == "" {
		return Entry{}, ErrInvalidArgument
	}
	nonTerminal := []Status{StatusPending, StatusAssigned, StatusCalling}

	checkOwner := func(e *Entry) error {
		if req.InterviewerID != "" && e.Status.Active() && e.AssignedTo != req.InterviewerID {
			return ErrNotAssigned
		}
		return nil
	}
	markAttempt := func(e *Entry) {
		if n := len(e.CallAttempts); n > 0 {
			e.CallAttempts[n-1].Status = req.Reason
		}
	}

	switch req.Reason {
	case ReasonConsentRefused, ReasonNumberDoesNotExist:
		final := StatusRejected
		if req.Reason == ReasonNumberDoesNotExist {
			final = StatusDoesNotExist
		}
		return s.transition(ctx, entryID, nonTerminal, req.Reason, func(e *Entry, now time.Time) error {
			if err := checkOwner(e); err != nil {
				return err
			}
			markAttempt(e)
			closeEntry(e, final, req.Reason)
			return nil
		})

	case ReasonCallLater:
		return s.transition(ctx, entryID, nonTerminal, req.Reason, func(e *Entry, now time.Time) error {
			if err := checkOwner(e); err != nil {
				return err
			}
			markAttempt(e)
			e.Status = StatusPending
			e.Priority = CallLaterPriority
			e.AbandonmentReason = req.Reason
			e.AssignedTo = ""
			e.AssignedAt = nil
			if req.CallLaterAt != nil {
				at := req.CallLaterAt.UTC()
				e.ScheduledFor = &at
			}
			return nil
		})
	}

	return s.transition(ctx, entryID, []Status{StatusAssigned, StatusCalling}, req.Reason, func(e *Entry, now time.Time) error {
		if err := checkOwner(e); err != nil {
			return err
		}
		markAttempt(e)
		requeue(e, now, req.Reason)
		return nil
	})
}

// Initialize queues new contacts for a survey. Contacts whose phone is already
// queued are skipped, so repeated calls are safe. If nothing is pending
// afterwards, non-terminal entries are reset to pending.
func (s *Service) Initialize(ctx context.Context, surveyID string, contacts []Contact) (InitResult, error) {
	if surveyID == "" {
		return InitResult{}, ErrInvalidArgument
	}
	res := InitResult{Received: len(contacts)}

	seen := map[string]bool{}
	unique := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		key := utils.NormalizePhone(c.Phone)
		if key == "" {
			res.Invalid++
			continue
		}
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true
		unique = append(unique, c)
	}

	for start := 0; start < len(unique); start += InitBatchSize {
		end := min(start+InitBatchSize, len(unique))
		batch := unique[start:end]

		keys := make([]string, len(batch))
		for i, c := range batch {
			keys[i] = utils.NormalizePhone(c.Phone)
		}
		existing, err := s.repo.ExistingPhones(ctx, surveyID, keys)
		if err != nil {
			return res, err
		}

		now := s.clock().UTC()
		fresh := make([]Entry, 0, len(batch))
		for i, c := range batch {
			if existing[keys[i]] {
				res.Skipped++
				continue
			}
			fresh = append(fresh, Entry{
				ID:           uuid.NewString(),
				SurveyID:     surveyID,
				Contact:      c,
				ACKey:        priority.Normalize(c.AC),
				PhoneKey:     keys[i],
				Status:       StatusPending,
				Priority:     DefaultPriority,
				CallAttempts: []Attempt{},
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
		n, err := s.repo.InsertMany(ctx, fresh)
		if err != nil {
			return res, err
		}
		res.Inserted += n
		res.Skipped += len(fresh) - n
	}

	counts, err := s.repo.CountByStatus(ctx, surveyID)
	if err != nil {
		return res, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	if total > 0 && counts[StatusPending] == 0 {
		reset, err := s.repo.ResetNonTerminal(ctx, surveyID, s.clock().UTC())
		if err != nil {
			return res, err
		}
		res.Reset = reset
		logger.From(ctx).Warn("queue had no pending entries; reset non-terminal entries",
			slog.String("survey_id", surveyID), slog.Int("reset", reset))
	}
	return res, nil
}

// ResetStuck returns assigned/calling entries untouched for olderThan to the queue tail.
func (s *Service) ResetStuck(ctx context.Context, surveyID string, olderThan time.Duration) (int, error) {
	if surveyID == "" || olderThan <= 0 {
		return 0, ErrInvalidArgument
	}
	stale, err := s.repo.ListActiveBefore(ctx, surveyID, s.clock().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range stale {
		_, err := s.transition(ctx, e.ID, []Status{StatusAssigned, StatusCalling}, ReasonAdministrativeReset, func(e *Entry, now time.Time) error {
			requeue(e, now, ReasonAdministrativeReset)
			return nil
		})
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) Stats(ctx context.Context, surveyID string) (Stats, error) {
	if surveyID == "" {
		return Stats{}, ErrInvalidArgument
	}
	counts, err := s.repo.CountByStatus(ctx, surveyID)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{SurveyID: surveyID, ByStatus: counts}
	for _, n := range counts {
		out.Total += n
	}
	return out, nil
}

func requeue(e *Entry, now time.Time, reason string) {
	e.Status = StatusPending
	e.Priority = RequeuePriority
	e.CreatedAt = now
	e.AssignedTo = ""
	e.AssignedAt = nil
	e.AbandonmentReason = reason
}

func closeEntry(e *Entry, final Status, reason string) {
	e.Status = final
	e.AbandonmentReason = reason
	e.AssignedAt = nil
}

func recordAttempt(e *Entry, o Outcome, now time.Time) bool {
	status := o.AttemptStatus
	if status == "" {
		status = string(o.Kind)
	}
	for i := len(e.CallAttempts) - 1; i >= 0; i-- {
		a := &e.CallAttempts[i]
		if o.CallID != "" && a.CallID != o.CallID {
			continue
		}
		if a.Status == status && a.Reason == o.Reason {
			return false
		}
		a.Status = status
		a.Reason = o.Reason
		return true
	}
	e.CurrentAttemptNumber++
	e.CallAttempts = append(e.CallAttempts, Attempt{
		AttemptNumber: e.CurrentAttemptNumber,
		AttemptedAt:   now,
		AttemptedBy:   e.AssignedTo,
		CallID:        o.CallID,
		Status:        status,
		Reason:        o.Reason,
	})
	return true
}

func latestCallID(e *Entry) string {
	if n := len(e.CallAttempts); n > 0 {
		return e.CallAttempts[n-1].CallID
	}
	return ""
}

func statusIn(s Status, list []Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (e Entry) clone() Entry {
	out := e
	if e.CallAttempts != nil {
		out.CallAttempts = append([]Attempt(nil), e.CallAttempts...)
	}
	if e.AssignedAt != nil {
		t := *e.AssignedAt
		out.AssignedAt = &t
	}
	if e.ScheduledFor != nil {
		t := *e.ScheduledFor
		out.ScheduledFor = &t
	}
	return out
}
