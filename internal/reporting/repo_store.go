package reporting

import (
	"context"

	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/responses"
)

// ResponseLister pages through stored responses.
type ResponseLister interface {
	List(ctx context.Context, f responses.Filter, after responses.Cursor, limit int) ([]responses.Response, error)
}

// QueueStater reports queue entry counts by status.
type QueueStater interface {
	Stats(ctx context.Context, surveyID string) (queue.Stats, error)
}

// StoreRepo reads reporting data straight from the operational stores.
type StoreRepo struct {
	Calls     calls.Repository
	Responses ResponseLister
	Queue     QueueStater
}

const countPageSize = 1000

func (r StoreRepo) ListCalls(ctx context.Context, f calls.Filter) ([]calls.Record, error) {
	return r.Calls.List(ctx, f)
}

func (r StoreRepo) CountResponses(ctx context.Context, f responses.Filter) (map[responses.DispositionKind]int, error) {
	out := map[responses.DispositionKind]int{}
	var cursor responses.Cursor
	for {
		page, err := r.Responses.List(ctx, f, cursor, countPageSize)
		if err != nil {
			return nil, err
		}
		for _, resp := range page {
			out[resp.Disposition.Kind]++
		}
		if len(page) < countPageSize {
			return out, nil
		}
		last := page[len(page)-1]
		cursor = responses.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

func (r StoreRepo) QueueStats(ctx context.Context, surveyID string) (queue.Stats, error) {
	return r.Queue.Stats(ctx, surveyID)
}
