package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"survey-platform/internal/responses"
	"survey-platform/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Source pages through stored responses. responses.Service satisfies it.
type Source interface {
	List(ctx context.Context, f responses.Filter, after responses.Cursor, limit int) ([]responses.Response, error)
}

// Marker abandons a response as a duplicate. responses.Service satisfies it.
type Marker interface {
	MarkDuplicate(ctx context.Context, id, originalID string) (bool, error)
}

type Options struct {
	BatchSize     int
	Workers       int
	TimeTolerance time.Duration
	// GPSTolerance is in degrees, per axis (0.0001 is about 11m).
	GPSTolerance float64
}

const (
	DefaultBatchSize     = 100
	DefaultWorkers       = 4
	DefaultTimeTolerance = time.Second
	DefaultGPSTolerance  = 0.0001
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.TimeTolerance <= 0 {
		o.TimeTolerance = DefaultTimeTolerance
	}
	if o.GPSTolerance <= 0 {
		o.GPSTolerance = DefaultGPSTolerance
	}
	return o
}

// Detector finds duplicate interviews that the submission-time hash missed.
// Analyze never writes; Apply acts on a report.
type Detector struct {
	source Source
	marker Marker
	opts   Options
	clock  func() time.Time
}

func NewDetector(source Source, marker Marker, opts Options) *Detector {
	return &Detector{source: source, marker: marker, opts: opts.withDefaults(), clock: time.Now}
}

// Group is one cluster of duplicates: the earliest-created response is the
// original, the rest are duplicates of it.
type Group struct {
	Key          string         `json:"key"`
	Mode         responses.Mode `json:"mode"`
	OriginalID   string         `json:"original_id"`
	DuplicateIDs []string       `json:"duplicate_ids"`
}

func (g Group) Size() int { return 1 + len(g.DuplicateIDs) }

// Skipped names a record left out of analysis or application, and why.
type Skipped struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type Report struct {
	Filter      responses.Filter `json:"-"`
	Scanned     int              `json:"scanned"`
	Groups      []Group          `json:"groups"`
	Skipped     []Skipped        `json:"skipped,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}

func (r Report) DuplicateCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.DuplicateIDs)
	}
	return n
}

// fingerprint keeps only what the comparison needs, so large scans stay small.
type fingerprint struct {
	id        string
	createdAt time.Time
	start     time.Time
	answers   string
	audio     *responses.Audio
	location  *responses.Location
}

// Analyze pages through the filtered responses and reports duplicate groups.
// Responses are compared only within their group: (interviewer, survey) for
// in-person and (interviewer, call id) for phone interviews.
func (d *Detector) Analyze(ctx context.Context, f responses.Filter) (Report, error) {
	rep := Report{Filter: f, GeneratedAt: d.clock().UTC()}
	buckets := map[string][]fingerprint{}
	modes := map[string]responses.Mode{}

	var after responses.Cursor
	for {
		page, err := d.source.List(ctx, f, after, d.opts.BatchSize)
		if err != nil {
			return Report{}, fmt.Errorf("list responses: %w", err)
		}
		for _, r := range page {
			rep.Scanned++
			key, reason := groupKey(r)
			if reason != "" {
				rep.Skipped = append(rep.Skipped, Skipped{ID: r.ID, Reason: reason})
				continue
			}
			buckets[key] = append(buckets[key], fingerprint{
				id:        r.ID,
				createdAt: r.CreatedAt,
				start:     r.StartTime,
				answers:   responses.AnswersKey(r.Answers),
				audio:     r.Audio,
				location:  r.Location,
			})
			modes[key] = r.Mode
		}
		if len(page) < d.opts.BatchSize {
			break
		}
		last := page[len(page)-1]
		after = responses.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	keys := make([]string, 0, len(buckets))
	for k, b := range buckets {
		if len(b) > 1 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	results := make([][]Group, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = d.clusters(key, modes[key], buckets[key])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	for _, gs := range results {
		rep.Groups = append(rep.Groups, gs...)
	}

	logger.From(ctx).Info("duplicate analysis finished",
		slog.String("survey_id", f.SurveyID),
		slog.Int("scanned", rep.Scanned),
		slog.Int("groups", len(rep.Groups)),
		slog.Int("duplicates", rep.DuplicateCount()),
		slog.Int("skipped", len(rep.Skipped)))
	return rep, nil
}

func groupKey(r responses.Response) (string, string) {
	switch {
	case r.ID == "":
		return "", "missing id"
	case r.InterviewerID == "":
		return "", "missing interviewer"
	case r.StartTime.IsZero():
		return "", "missing start time"
	case r.Disposition.Kind == responses.DispositionAbandoned &&
		strings.HasPrefix(r.Disposition.AbandonedReason, responses.DuplicateOfPrefix):
		return "", "already marked duplicate"
	}
	switch r.Mode {
	case responses.ModeInPerson:
		return "in_person|" + r.InterviewerID + "|" + r.SurveyID, ""
	case responses.ModePhone:
		if r.CallID == "" {
			return "", "phone response without call id"
		}
		return "phone|" + r.InterviewerID + "|" + r.CallID, ""
	}
	return "", "unknown mode"
}

// clusters links every duplicate pair in a group and returns the connected
// components of size two or more.
func (d *Detector) clusters(key string, mode responses.Mode, fps []fingerprint) []Group {
	parent := make([]int, len(fps))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	for i := 0; i < len(fps); i++ {
		for j := i + 1; j < len(fps); j++ {
			if d.duplicates(mode, fps[i], fps[j]) {
				parent[find(i)] = find(j)
			}
		}
	}

	members := map[int][]fingerprint{}
	for i := range fps {
		root := find(i)
		members[root] = append(members[root], fps[i])
	}

	var out []Group
	for _, m := range members {
		if len(m) < 2 {
			continue
		}
		sort.Slice(m, func(a, b int) bool {
			if !m[a].createdAt.Equal(m[b].createdAt) {
				return m[a].createdAt.Before(m[b].createdAt)
			}
			return m[a].id < m[b].id
		})
		grp := Group{Key: key, Mode: mode, OriginalID: m[0].id}
		for _, fp := range m[1:] {
			grp.DuplicateIDs = append(grp.DuplicateIDs, fp.id)
		}
		out = append(out, grp)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].OriginalID < out[b].OriginalID })
	return out
}

func (d *Detector) duplicates(mode responses.Mode, a, b fingerprint) bool {
	if a.answers != b.answers {
		return false
	}
	if absDuration(a.start.Sub(b.start)) > d.opts.TimeTolerance {
		return false
	}
	if mode == responses.ModePhone {
		return true
	}
	return sameAudio(a.audio, b.audio) && d.nearby(a.location, b.location)
}

func sameAudio(a, b *responses.Audio) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (d *Detector) nearby(a, b *responses.Location) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return math.Abs(a.Lat-b.Lat) <= d.opts.GPSTolerance && math.Abs(a.Lng-b.Lng) <= d.opts.GPSTolerance
}

func absDuration(v time.Duration) time.Duration {
	if v < 0 {
		return -v
	}
	return v
}

type ApplyResult struct {
	Marked        int       `json:"marked"`
	AlreadyMarked int       `json:"already_marked"`
	Failed        []Skipped `json:"failed,omitempty"`
}

// Apply marks every duplicate in the report abandoned. A failure on one
// record is recorded and the rest continue. Nothing is deleted.
func (d *Detector) Apply(ctx context.Context, rep Report) (ApplyResult, error) {
	if d.marker == nil {
		return ApplyResult{}, errors.New("dedupe: no marker configured")
	}
	log := logger.From(ctx)
	var res ApplyResult
	for _, g := range rep.Groups {
		for _, id := range g.DuplicateIDs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			changed, err := d.marker.MarkDuplicate(ctx, id, g.OriginalID)
			if err != nil {
				log.Warn("mark duplicate failed", slog.String("response_id", id), slog.Any("err", err))
				res.Failed = append(res.Failed, Skipped{ID: id, Reason: err.Error()})
				continue
			}
			if changed {
				res.Marked++
			} else {
				res.AlreadyMarked++
			}
		}
	}
	log.Info("duplicates applied",
		slog.Int("marked", res.Marked),
		slog.Int("already_marked", res.AlreadyMarked),
		slog.Int("failed", len(res.Failed)))
	return res, nil
}
