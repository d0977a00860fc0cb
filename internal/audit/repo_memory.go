package audit

import (
	"context"
	"errors"
	"sync"
)

// ErrDuplicateEvent mirrors the primary key violation PostgresRepo reports.
var ErrDuplicateEvent = errors.New("audit: duplicate event id")

// MemoryRepo keeps events in append order for tests and local runs without
// Postgres.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	ids    map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{ids: map[string]struct{}{}} }

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[e.ID]; ok {
		return ErrDuplicateEvent
	}
	r.ids[e.ID] = struct{}{}
	r.events = append(r.events, e)
	return nil
}

// Events returns every stored event.
func (r *MemoryRepo) Events() []Event {
	return r.Find(Filter{})
}

// Find returns the events matching f, oldest first.
func (r *MemoryRepo) Find(f Filter) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
