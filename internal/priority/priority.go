// Package priority resolves constituency (AC) names to selection tiers.
//
// Tier semantics:
//   - 0: excluded, never auto-selected
//   - >0: eligible, lower number = selected first
//   - absent: unprioritized, selected after every tier is exhausted
package priority

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"survey-platform/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// Loader fetches the raw AC name -> tier mapping from its source of truth.
type Loader interface {
	Load(ctx context.Context) (map[string]int, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (map[string]int, error)

func (f LoaderFunc) Load(ctx context.Context) (map[string]int, error) { return f(ctx) }

// Normalize case-folds, trims and collapses inner whitespace.
func Normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// Tier is one priority rank with the normalized AC names belonging to it.
type Tier struct {
	Rank int
	ACs  []string
}

// Snapshot is an immutable view of the priority map at one point in time.
type Snapshot struct {
	exact map[string]int
	norm  map[string]int
}

func newSnapshot(raw map[string]int) Snapshot {
	s := Snapshot{exact: make(map[string]int, len(raw)), norm: make(map[string]int, len(raw))}
	for name, tier := range raw {
		if tier < 0 {
			continue
		}
		s.exact[name] = tier
		s.norm[Normalize(name)] = tier
	}
	return s
}

// Lookup tries the exact name first, then the normalized form.
func (s Snapshot) Lookup(name string) (int, bool) {
	if t, ok := s.exact[name]; ok {
		return t, true
	}
	t, ok := s.norm[Normalize(name)]
	return t, ok
}

// Tiers returns the positive tiers in ascending rank order.
func (s Snapshot) Tiers() []Tier {
	byRank := map[int][]string{}
	for ac, t := range s.norm {
		if t > 0 {
			byRank[t] = append(byRank[t], ac)
		}
	}
	out := make([]Tier, 0, len(byRank))
	for rank, acs := range byRank {
		sort.Strings(acs)
		out = append(out, Tier{Rank: rank, ACs: acs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Excluded returns normalized names of tier-0 constituencies.
func (s Snapshot) Excluded() []string {
	var out []string
	for ac, t := range s.norm {
		if t == 0 {
			out = append(out, ac)
		}
	}
	sort.Strings(out)
	return out
}

// Known returns every normalized name present in the map, excluded ones included.
func (s Snapshot) Known() []string {
	out := make([]string, 0, len(s.norm))
	for ac := range s.norm {
		out = append(out, ac)
	}
	sort.Strings(out)
	return out
}

func (s Snapshot) Len() int { return len(s.norm) }

// Index caches a Snapshot for a fixed TTL and reloads it synchronously on expiry.
// A failed reload yields an empty map: priority selection degrades to "no priority".
type Index struct {
	loader Loader
	ttl    time.Duration
	clock  func() time.Time

	mu       sync.RWMutex
	snap     Snapshot
	loadedAt time.Time
	loaded   bool

	group singleflight.Group
}

const DefaultTTL = 5 * time.Minute

func NewIndex(loader Loader, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{loader: loader, ttl: ttl, clock: time.Now, snap: newSnapshot(nil)}
}

// Priority returns the tier for an AC name; ok is false when the AC is not in the map.
func (x *Index) Priority(ctx context.Context, acName string) (int, bool) {
	return x.Snapshot(ctx).Lookup(acName)
}

// Snapshot returns the current map, reloading it if the TTL has elapsed.
func (x *Index) Snapshot(ctx context.Context) Snapshot {
	x.mu.RLock()
	fresh := x.loaded && x.clock().Sub(x.loadedAt) < x.ttl
	snap := x.snap
	x.mu.RUnlock()
	if fresh {
		return snap
	}

	// The lock is not held while loading; concurrent callers share one reload.
	v, _, _ := x.group.Do("reload", func() (any, error) {
		return x.reload(ctx), nil
	})
	return v.(Snapshot)
}

// Invalidate forces a reload on the next lookup.
func (x *Index) Invalidate() {
	x.mu.Lock()
	x.loaded = false
	x.mu.Unlock()
}

func (x *Index) reload(ctx context.Context) Snapshot {
	var raw map[string]int
	if x.loader != nil {
		m, err := x.loader.Load(ctx)
		if err != nil {
			logger.From(ctx).Warn("priority map reload failed; continuing without priorities", slog.Any("err", err))
		} else {
			raw = m
		}
	}
	snap := newSnapshot(raw)

	x.mu.Lock()
	x.snap = snap
	x.loadedAt = x.clock()
	x.loaded = true
	x.mu.Unlock()
	return snap
}
