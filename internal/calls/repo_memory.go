package calls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.

type MemoryRepo struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{records: map[string]Record{}} }

func (m *MemoryRepo) Create(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrConflict
	}
	if r.ProviderCallID != "" {
		for _, cur := range m.records {
			if cur.ProviderCallID == r.ProviderCallID {
				return ErrConflict
			}
		}
	}
	m.records[r.ID] = r
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepo) FindByProviderCallID(ctx context.Context, providerCallID string) (Record, error) {
	if providerCallID == "" {
		return Record{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ProviderCallID == providerCallID {
			return r, nil
		}
	}
	for _, r := range m.records {
		if strings.EqualFold(r.ProviderCallID, providerCallID) {
			return r, nil
		}
	}
	return Record{}, ErrNotFound
}

func (m *MemoryRepo) FindUnreconciled(ctx context.Context, fromKey, toKey string, since time.Time) (Record, error) {
	if toKey == "" {
		return Record{}, ErrInvalidArgument
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Record
		found bool
	)
	for _, r := range m.records {
		if r.WebhookReceived || r.ToKey != toKey || r.CreatedAt.Before(since) {
			continue
		}
		if fromKey != "" && r.FromKey != fromKey {
			continue
		}
		if !found || r.CreatedAt.After(best.CreatedAt) {
			best, found = r, true
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return best, nil
}

func (m *MemoryRepo) Update(ctx context.Context, r Record, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrConflict
	}
	m.records[r.ID] = r
	return nil
}

func (m *MemoryRepo) List(ctx context.Context, f Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0)
	for _, r := range m.records {
		if !r.WebhookReceived {
			continue
		}
		if f.SurveyID != "" && r.SurveyID != f.SurveyID {
			continue
		}
		if f.InterviewerID != "" && r.InterviewerID != f.InterviewerID {
			continue
		}
		if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
