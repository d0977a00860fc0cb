package responses

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is an in-memory Repository for tests and local development.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Response
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byID: map[string]Response{}} }

func (m *MemoryRepo) Create(ctx context.Context, r Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[r.ID]; ok {
		return ErrConflict
	}
	for _, cur := range m.byID {
		if (r.SessionID != "" && cur.SessionID == r.SessionID) || (r.ContentHash != "" && cur.ContentHash == r.ContentHash) {
			return ErrConflict
		}
	}
	m.byID[r.ID] = r
	return nil
}

func (m *MemoryRepo) Get(ctx context.Context, id string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byID[id]
	if !ok {
		return Response{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryRepo) find(match func(Response) bool) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.byID {
		if match(r) {
			return r, nil
		}
	}
	return Response{}, ErrNotFound
}

func (m *MemoryRepo) FindBySession(ctx context.Context, sessionID string) (Response, error) {
	if sessionID == "" {
		return Response{}, ErrInvalidArgument
	}
	return m.find(func(r Response) bool { return r.SessionID == sessionID })
}

func (m *MemoryRepo) FindByContentHash(ctx context.Context, hash string) (Response, error) {
	if hash == "" {
		return Response{}, ErrInvalidArgument
	}
	return m.find(func(r Response) bool { return r.ContentHash == hash })
}

func (m *MemoryRepo) Update(ctx context.Context, r Response, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrConflict
	}
	m.byID[r.ID] = r
	return nil
}

func (m *MemoryRepo) List(ctx context.Context, f Filter, after Cursor, limit int) ([]Response, error) {
	m.mu.Lock()
	all := make([]Response, 0, len(m.byID))
	for _, r := range m.byID {
		if matches(r, f) && afterCursor(r, after) {
			all = append(all, r)
		}
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func matches(r Response, f Filter) bool {
	if f.SurveyID != "" && r.SurveyID != f.SurveyID {
		return false
	}
	if f.InterviewerID != "" && r.InterviewerID != f.InterviewerID {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !r.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

func afterCursor(r Response, c Cursor) bool {
	if c.CreatedAt.IsZero() && c.ID == "" {
		return true
	}
	if r.CreatedAt.After(c.CreatedAt) {
		return true
	}
	return r.CreatedAt.Equal(c.CreatedAt) && r.ID > c.ID
}

func beforeCursor(r Response, c Cursor) bool {
	if r.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return r.CreatedAt.Equal(c.CreatedAt) && r.ID < c.ID
}

func (m *MemoryRepo) ContactUsed(ctx context.Context, surveyID, contactKey string, before Cursor) (bool, error) {
	if contactKey == "" {
		return false, nil
	}
	_, err := m.find(func(r Response) bool {
		return r.SurveyID == surveyID && r.ContactKey == contactKey && beforeCursor(r, before)
	})
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}
