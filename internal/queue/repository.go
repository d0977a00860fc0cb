package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("queue: entry not found")
	ErrConflict          = errors.New("queue: concurrent update")
	ErrInvalidArgument   = errors.New("queue: invalid argument")
	ErrInvalidTransition = errors.New("queue: invalid status transition")
	ErrNotAssigned       = errors.New("queue: entry not assigned to interviewer")
	ErrNoRespondent      = errors.New("queue: no respondent available")
)

// Band partitions pending entries by their entry priority.
type Band int

const (
	BandAny Band = iota
	// BandBoosted holds call-later entries (priority > 0).
	BandBoosted
	// BandDefault holds never-attempted entries (priority == 0).
	BandDefault
	// BandRequeued holds entries pushed to the tail after a failed attempt (priority < 0).
	BandRequeued
)

func (b Band) matches(p int) bool {
	switch b {
	case BandBoosted:
		return p > 0
	case BandDefault:
		return p == 0
	case BandRequeued:
		return p < 0
	}
	return true
}

// Order selects how candidates are drawn from the matching pending entries.
type Order int

const (
	OrderRandom Order = iota
	OrderOldest
)

// Filter describes one selection stage over pending entries of a survey.
// AC conditions compare against Entry.ACKey.
type Filter struct {
	SurveyID  string
	ACIn      []string
	ACNotIn   []string
	NoAC      bool
	RequireAC bool
	Band      Band
}

// Repository is the document-store contract for queue entries.
//
// Writes are single-document conditional updates; no multi-document transactions.
type Repository interface {
	// InsertMany inserts new entries, silently skipping phone numbers already
	// queued for the survey. It returns how many were inserted.
	InsertMany(ctx context.Context, entries []Entry) (int, error)
	ExistingPhones(ctx context.Context, surveyID string, phoneKeys []string) (map[string]bool, error)

	Get(ctx context.Context, id string) (Entry, error)
	Candidates(ctx context.Context, f Filter, order Order, limit int) ([]Entry, error)

	// CompareAndSwap stores next only if the stored entry still has version
	// expected and a status in from. ErrConflict otherwise.
	CompareAndSwap(ctx context.Context, next Entry, expected int64, from []Status) error

	ActiveByPhone(ctx context.Context, phoneKey, excludeID string) (bool, error)
	ActiveByInterviewer(ctx context.Context, surveyID, interviewerID string) (Entry, error)
	ListActiveBefore(ctx context.Context, surveyID string, before time.Time) ([]Entry, error)

	CountByStatus(ctx context.Context, surveyID string) (map[Status]int, error)
	ResetNonTerminal(ctx context.Context, surveyID string, now time.Time) (int, error)
}
