package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/responses"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces survey isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls     []calls.Record
	Responses []responses.Response
	Queue     map[string]queue.Stats
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Queue: map[string]queue.Stats{}} }

func (r *MemoryRepo) ListCalls(ctx context.Context, f calls.Filter) ([]calls.Record, error) {
	if f.SurveyID == "" {
		return nil, errors.New("survey_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Record, 0)
	for _, c := range r.Calls {
		if !c.WebhookReceived || c.SurveyID != f.SurveyID {
			continue
		}
		if f.InterviewerID != "" && c.InterviewerID != f.InterviewerID {
			continue
		}
		if !inRange(c.CreatedAt, f.From, f.To) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) CountResponses(ctx context.Context, f responses.Filter) (map[responses.DispositionKind]int, error) {
	if f.SurveyID == "" {
		return nil, errors.New("survey_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[responses.DispositionKind]int{}
	for _, resp := range r.Responses {
		if resp.SurveyID != f.SurveyID || !inRange(resp.CreatedAt, f.From, f.To) {
			continue
		}
		out[resp.Disposition.Kind]++
	}
	return out, nil
}

func (r *MemoryRepo) QueueStats(ctx context.Context, surveyID string) (queue.Stats, error) {
	if surveyID == "" {
		return queue.Stats{}, errors.New("survey_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.Queue[surveyID]
	if !ok {
		return queue.Stats{SurveyID: surveyID, ByStatus: map[queue.Status]int{}}, nil
	}
	return st, nil
}

func inRange(t, from, to time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
