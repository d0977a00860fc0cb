package reporting

import (
	"context"
	"errors"
	"sort"

	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/responses"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce survey filtering.
// - ListCalls returns reconciled call records only.

type Repository interface {
	ListCalls(ctx context.Context, f calls.Filter) ([]calls.Record, error)
	CountResponses(ctx context.Context, f responses.Filter) (map[responses.DispositionKind]int, error)
	QueueStats(ctx context.Context, surveyID string) (queue.Stats, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	if r.From.IsZero() && r.To.IsZero() {
		return true
	}
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.SurveyID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, calls.Filter{
		SurveyID:      req.SurveyID,
		InterviewerID: req.InterviewerID,
		From:          req.Range.From,
		To:            req.Range.To,
	})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{SurveyID: req.SurveyID, InterviewerID: req.InterviewerID}
	perInterviewer := map[string]*InterviewerCalls{}
	connected := 0
	for _, c := range rows {
		if !c.WebhookReceived {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" || c.RecordingKey != "" {
			out.RecordedCalls++
		}
		if c.Cost > 0 {
			if out.CostByCurrency == nil {
				out.CostByCurrency = map[string]float64{}
			}
			out.CostByCurrency[c.Currency] += c.Cost
		}
		if c.InvalidNumber {
			out.InvalidNumbers++
		}
		switch c.Reachability {
		case calls.ReachabilitySwitchedOff:
			out.SwitchedOff++
		case calls.ReachabilityNotReachable:
			out.NotReachable++
		}
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusAnswered:
			out.AnsweredCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusCancelled:
			out.CancelledCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusRinging:
			out.RingingCalls++
		}
		if c.Status.Connected() {
			connected++
		}

		if c.InterviewerID != "" {
			ic := perInterviewer[c.InterviewerID]
			if ic == nil {
				ic = &InterviewerCalls{InterviewerID: c.InterviewerID}
				perInterviewer[c.InterviewerID] = ic
			}
			ic.TotalCalls++
			ic.DurationSeconds += c.DurationSeconds
			if c.Status.Connected() {
				ic.ConnectedCalls++
			}
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConnectionRate = float64(connected) / float64(out.TotalCalls)
	}
	for _, ic := range perInterviewer {
		out.ByInterviewer = append(out.ByInterviewer, *ic)
	}
	sort.Slice(out.ByInterviewer, func(i, j int) bool {
		return out.ByInterviewer[i].InterviewerID < out.ByInterviewer[j].InterviewerID
	})
	return out, nil
}

func (s *Service) SurveyProgress(ctx context.Context, req SurveyProgressRequest) (SurveyProgress, error) {
	if req.SurveyID == "" || !validRange(req.Range) {
		return SurveyProgress{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SurveyProgress{}, errors.New("reporting: repository not configured")
	}

	stats, err := s.repo.QueueStats(ctx, req.SurveyID)
	if err != nil {
		return SurveyProgress{}, err
	}
	callRows, err := s.repo.ListCalls(ctx, calls.Filter{SurveyID: req.SurveyID, From: req.Range.From, To: req.Range.To})
	if err != nil {
		return SurveyProgress{}, err
	}
	counts, err := s.repo.CountResponses(ctx, responses.Filter{SurveyID: req.SurveyID, From: req.Range.From, To: req.Range.To})
	if err != nil {
		return SurveyProgress{}, err
	}

	out := SurveyProgress{SurveyID: req.SurveyID, Queue: stats, Responses: counts}
	for _, c := range callRows {
		if !c.WebhookReceived {
			continue
		}
		out.CallsAttempted++
		if c.Status.Connected() {
			out.CallsConnected++
		}
	}
	out.CompletedInterviews = counts[responses.DispositionApproved] + counts[responses.DispositionPendingApproval]

	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
		out.CompletionRate = float64(out.CompletedInterviews) / float64(out.CallsAttempted)
	}
	return out, nil
}
