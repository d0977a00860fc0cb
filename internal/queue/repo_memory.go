package queue

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// Random sampling uses the injected RNG so tests can be deterministic.

type MemoryRepo struct {
	mu      sync.Mutex
	rng     *rand.Rand
	order   []string
	entries map[string]Entry
}

func NewMemoryRepo(rng *rand.Rand) *MemoryRepo {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &MemoryRepo{rng: rng, entries: map[string]Entry{}}
}

func (r *MemoryRepo) InsertMany(ctx context.Context, entries []Entry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}
	for _, e := range r.entries {
		seen[e.SurveyID+"|"+e.PhoneKey] = true
	}
	n := 0
	for _, e := range entries {
		k := e.SurveyID + "|" + e.PhoneKey
		if seen[k] {
			continue
		}
		if _, ok := r.entries[e.ID]; ok {
			continue
		}
		seen[k] = true
		r.entries[e.ID] = e.clone()
		r.order = append(r.order, e.ID)
		n++
	}
	return n, nil
}

func (r *MemoryRepo) ExistingPhones(ctx context.Context, surveyID string, phoneKeys []string) (map[string]bool, error) {
	want := make(map[string]bool, len(phoneKeys))
	for _, p := range phoneKeys {
		want[p] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]bool{}
	for _, e := range r.entries {
		if e.SurveyID == surveyID && want[e.PhoneKey] {
			out[e.PhoneKey] = true
		}
	}
	return out, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e.clone(), nil
}

func (r *MemoryRepo) Candidates(ctx context.Context, f Filter, order Order, limit int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Entry
	for _, id := range r.order {
		e := r.entries[id]
		if matchesFilter(e, f) {
			matched = append(matched, e.clone())
		}
	}
	switch order {
	case OrderOldest:
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	default:
		r.rng.Shuffle(len(matched), func(i, j int) { matched[i], matched[j] = matched[j], matched[i] })
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func matchesFilter(e Entry, f Filter) bool {
	if e.SurveyID != f.SurveyID || e.Status != StatusPending {
		return false
	}
	if f.NoAC && e.ACKey != "" {
		return false
	}
	if f.RequireAC && e.ACKey == "" {
		return false
	}
	if len(f.ACIn) > 0 && !contains(f.ACIn, e.ACKey) {
		return false
	}
	if contains(f.ACNotIn, e.ACKey) {
		return false
	}
	return f.Band.matches(e.Priority)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) CompareAndSwap(ctx context.Context, next Entry, expected int64, from []Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.entries[next.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected || (len(from) > 0 && !statusIn(cur.Status, from)) {
		return ErrConflict
	}
	r.entries[next.ID] = next.clone()
	return nil
}

func (r *MemoryRepo) ActiveByPhone(ctx context.Context, phoneKey, excludeID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if id != excludeID && e.PhoneKey == phoneKey && e.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepo) ActiveByInterviewer(ctx context.Context, surveyID, interviewerID string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		e := r.entries[id]
		if e.SurveyID == surveyID && e.AssignedTo == interviewerID && e.Status.Active() {
			return e.clone(), nil
		}
	}
	return Entry{}, ErrNotFound
}

func (r *MemoryRepo) ListActiveBefore(ctx context.Context, surveyID string, before time.Time) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, id := range r.order {
		e := r.entries[id]
		if e.SurveyID == surveyID && e.Status.Active() && e.UpdatedAt.Before(before) {
			out = append(out, e.clone())
		}
	}
	return out, nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, surveyID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[Status]int{}
	for _, e := range r.entries {
		if e.SurveyID == surveyID {
			out[e.Status]++
		}
	}
	return out, nil
}

func (r *MemoryRepo) ResetNonTerminal(ctx context.Context, surveyID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.entries {
		if e.SurveyID != surveyID || e.Status == StatusPending || e.Status.Terminal() {
			continue
		}
		e.Status = StatusPending
		e.AssignedTo = ""
		e.AssignedAt = nil
		e.UpdatedAt = now
		e.Version++
		r.entries[id] = e
		n++
	}
	return n, nil
}
