package queue

import "time"

// Entry is one respondent contact scheduled for a phone interview.
//
// Invariants:
// - status=assigned implies AssignedTo is set.
// - CurrentAttemptNumber never decreases.
// - Entries are never deleted; terminal states keep their attempt history.
// - CreatedAt doubles as the queue position and is refreshed on requeue.

type Entry struct {
	ID       string `json:"id" bson:"_id"`
	SurveyID string `json:"survey_id" bson:"surveyId"`

	Contact Contact `json:"respondent_contact" bson:"respondentContact"`
	// ACKey is the normalized constituency name used for tier matching.
	ACKey string `json:"-" bson:"acKey"`
	// PhoneKey is the normalized phone used for dedupe and the one-active-per-phone rule.
	PhoneKey string `json:"-" bson:"phoneKey"`

	Status   Status `json:"status" bson:"status"`
	Priority int    `json:"priority" bson:"priority"`

	AssignedTo string     `json:"assigned_to,omitempty" bson:"assignedTo,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty" bson:"assignedAt,omitempty"`

	CallAttempts         []Attempt `json:"call_attempts" bson:"callAttempts"`
	CurrentAttemptNumber int       `json:"current_attempt_number" bson:"currentAttemptNumber"`

	CallRecordID      string     `json:"call_record_id,omitempty" bson:"callRecordRef,omitempty"`
	ResponseID        string     `json:"response_id,omitempty" bson:"responseRef,omitempty"`
	AbandonmentReason string     `json:"abandonment_reason,omitempty" bson:"abandonmentReason,omitempty"`
	ScheduledFor      *time.Time `json:"scheduled_for,omitempty" bson:"scheduledFor,omitempty"`

	// Version is bumped on every write and guards conditional updates.
	Version int64 `json:"-" bson:"version"`

	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

type Contact struct {
	Name    string `json:"name" bson:"name"`
	Phone   string `json:"phone" bson:"phone"`
	AC      string `json:"ac,omitempty" bson:"ac,omitempty"`
	PC      string `json:"pc,omitempty" bson:"pc,omitempty"`
	PS      string `json:"ps,omitempty" bson:"ps,omitempty"`
	Email   string `json:"email,omitempty" bson:"email,omitempty"`
	Address string `json:"address,omitempty" bson:"address,omitempty"`
}

type Attempt struct {
	AttemptNumber int       `json:"attempt_number" bson:"attemptNumber"`
	AttemptedAt   time.Time `json:"attempted_at" bson:"attemptedAt"`
	AttemptedBy   string    `json:"attempted_by" bson:"attemptedBy"`
	CallID        string    `json:"call_id,omitempty" bson:"callId,omitempty"`
	Status        string    `json:"status" bson:"status"`
	Reason        string    `json:"reason,omitempty" bson:"reason,omitempty"`
}

type Status string

const (
	StatusPending          Status = "pending"
	StatusAssigned         Status = "assigned"
	StatusCalling          Status = "calling"
	StatusInterviewSuccess Status = "interview_success"
	StatusDoesNotExist     Status = "does_not_exist"
	StatusRejected         Status = "rejected"
	StatusSwitchedOff      Status = "switched_off"
	StatusNotReachable     Status = "not_reachable"
	StatusCallLater        Status = "call_later"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusInterviewSuccess, StatusDoesNotExist, StatusRejected:
		return true
	}
	return false
}

// Active reports whether an interviewer currently holds the entry.
func (s Status) Active() bool {
	return s == StatusAssigned || s == StatusCalling
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusCalling, StatusInterviewSuccess, StatusDoesNotExist,
		StatusRejected, StatusSwitchedOff, StatusNotReachable, StatusCallLater:
		return true
	}
	return false
}

// Priority sentinels. Real tiers live in the priority index, not on the entry;
// the entry priority only orders entries within one selection level.
const (
	DefaultPriority   = 0
	RequeuePriority   = -1
	CallLaterPriority = 10
)

// Attempt statuses recorded in the call attempt log.
const (
	AttemptInitiated = "initiated"
	AttemptConnected = "connected"
	AttemptCompleted = "completed"
)

// Abandonment reasons understood by Service.Abandon.
const (
	ReasonConsentRefused      = "consent_refused"
	ReasonNumberDoesNotExist  = "number_does_not_exist"
	ReasonCallLater           = "call_later"
	ReasonSwitchedOff         = "switched_off"
	ReasonNotReachable        = "not_reachable"
	ReasonBusy                = "busy"
	ReasonNoAnswer            = "no_answer"
	ReasonCallFailed          = "call_failed"
	ReasonAdministrativeReset = "administrative_reset"
)

// OutcomeKind is the queue-side meaning of a reconciled call status.
type OutcomeKind string

const (
	// OutcomeConnected leaves the entry calling; the interview is in progress.
	OutcomeConnected OutcomeKind = "connected"
	// OutcomeRetry requeues the entry at the tail.
	OutcomeRetry OutcomeKind = "retry"
	// OutcomeInvalidNumber closes the entry as does_not_exist.
	OutcomeInvalidNumber OutcomeKind = "invalid_number"
)

// Outcome is a call result propagated by the reconciler.
type Outcome struct {
	CallID        string
	Kind          OutcomeKind
	AttemptStatus string
	Reason        string
}

// InitResult summarizes Service.Initialize.
type InitResult struct {
	Received int `json:"received"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Invalid  int `json:"invalid"`
	Reset    int `json:"reset"`
}

// Stats counts entries per status for one survey.
type Stats struct {
	SurveyID string         `json:"survey_id"`
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}
