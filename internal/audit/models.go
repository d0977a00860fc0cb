package audit

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - EntityID names the queue entry, call record or response the event is about.
// - Audit writes are best-effort; callers never fail a business flow on them.

type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	// ActorUserID is the authenticated user causing the event, empty for webhooks and batch jobs.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	SurveyID       string `json:"survey_id,omitempty" db:"survey_id"`
	EntityID       string `json:"entity_id" db:"entity_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Message  string `json:"message,omitempty" db:"message"`
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction        EventType = "admin_action"
	EventTypeQueueAssigned      EventType = "queue_assigned"
	EventTypeQueueTransition    EventType = "queue_transition"
	EventTypeCallReconciled     EventType = "call_reconciled"
	EventTypeResponseClassified EventType = "response_classified"
	EventTypeDuplicateMarked    EventType = "response_duplicate_marked"
)

// Filter selects events; empty fields match any value.
type Filter struct {
	SurveyID string
	EntityID string
	Type     EventType
}

func (f Filter) Matches(e Event) bool {
	return (f.SurveyID == "" || e.SurveyID == f.SurveyID) &&
		(f.EntityID == "" || e.EntityID == f.EntityID) &&
		(f.Type == "" || e.Type == f.Type)
}

// Metadata encodes v as the JSON metadata column; encoding failures yield "".
func Metadata(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
