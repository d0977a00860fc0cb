package calls

import "time"

// Record is one externally-initiated phone call.
//
// Invariants:
// - ProviderCallID is the only reliable join key to the vendor.
// - A record is visible to listings and statistics only once WebhookReceived is true.
// - Updates are merges keyed by ProviderCallID, never by webhook arrival order.
//
// The record is created speculatively by the dialer or lazily by the reconciler
// when the webhook wins the race.

type Record struct {
	ID             string `json:"id" bson:"_id"`
	ProviderCallID string `json:"provider_call_id,omitempty" bson:"providerCallId,omitempty"`
	// ProviderCallKey is the lower-cased provider id for case-insensitive lookup.
	ProviderCallKey string `json:"-" bson:"providerCallKey,omitempty"`
	Provider        string `json:"provider" bson:"provider"`

	QueueEntryID  string `json:"queue_entry_id,omitempty" bson:"queueEntryRef,omitempty"`
	SurveyID      string `json:"survey_id,omitempty" bson:"surveyId,omitempty"`
	InterviewerID string `json:"interviewer_id,omitempty" bson:"interviewerId,omitempty"`

	FromNumber string `json:"from_number" bson:"fromNumber"`
	ToNumber   string `json:"to_number" bson:"toNumber"`
	// FromKey and ToKey hold normalized numbers for the phone fallback match.
	FromKey string `json:"-" bson:"fromKey"`
	ToKey   string `json:"-" bson:"toKey"`

	Status        Status `json:"call_status,omitempty" bson:"callStatus,omitempty"`
	InvalidNumber bool   `json:"invalid_number,omitempty" bson:"invalidNumber,omitempty"`
	Reachability  string `json:"reachability,omitempty" bson:"reachability,omitempty"`

	WebhookReceived   bool       `json:"webhook_received" bson:"webhookReceived"`
	WebhookReceivedAt *time.Time `json:"webhook_received_at,omitempty" bson:"webhookReceivedAt,omitempty"`
	// WebhookCount counts distinct payloads, so replays do not move it.
	WebhookCount  int      `json:"webhook_count" bson:"webhookCount"`
	PayloadHashes []string `json:"-" bson:"payloadHashes,omitempty"`

	CallStartTime       *time.Time `json:"call_start_time,omitempty" bson:"callStartTime,omitempty"`
	CallEndTime         *time.Time `json:"call_end_time,omitempty" bson:"callEndTime,omitempty"`
	DurationSeconds     int        `json:"call_duration_seconds" bson:"callDurationSeconds"`
	RingDurationSeconds int        `json:"ring_duration_seconds,omitempty" bson:"ringDurationSeconds,omitempty"`

	RecordingURL string `json:"-" bson:"recordingUrl,omitempty"`
	// RecordingKey is the object storage key once the recording is archived.
	RecordingKey string `json:"recording_key,omitempty" bson:"recordingKey,omitempty"`

	Cost        float64 `json:"cost,omitempty" bson:"cost,omitempty"`
	Currency    string  `json:"currency,omitempty" bson:"currency,omitempty"`
	HangupCause string  `json:"hangup_cause,omitempty" bson:"hangupCause,omitempty"`

	// RawPayload is the highest-precedence vendor payload, kept for audit.
	RawPayload map[string]any `json:"-" bson:"rawPayload,omitempty"`
	// FieldSources holds, per vendor field, the precedence of the observation
	// the current value came from.
	FieldSources map[string]string `json:"-" bson:"fieldSources,omitempty"`

	Version   int64     `json:"-" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

// Status is the canonical call status every vendor vocabulary maps onto.
type Status string

const (
	StatusRinging   Status = "ringing"
	StatusAnswered  Status = "answered"
	StatusCompleted Status = "completed"
	StatusBusy      Status = "busy"
	StatusNoAnswer  Status = "no_answer"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusAnswered, StatusCompleted, StatusBusy, StatusNoAnswer, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Final reports whether the vendor will send nothing newer for the call.
func (s Status) Final() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Connected reports whether the respondent picked up.
func (s Status) Connected() bool {
	return s == StatusAnswered || s == StatusCompleted
}

// rank orders statuses so a late "ringing" never overwrites a final status.
// completed outranks the failure statuses: a call that connected stays
// connected. Failure statuses have a fixed order among themselves so
// conflicting final webhooks settle the same way in any arrival order.
func (s Status) rank() int {
	switch s {
	case StatusRinging:
		return 1
	case StatusAnswered:
		return 2
	case StatusBusy:
		return 3
	case StatusNoAnswer:
		return 4
	case StatusCancelled:
		return 5
	case StatusFailed:
		return 6
	case StatusCompleted:
		return 7
	}
	return 0
}

// Reachability values derived from vendor hangup causes.
const (
	ReachabilitySwitchedOff  = "switched_off"
	ReachabilityNotReachable = "not_reachable"
)

// Observation is one normalized webhook's worth of facts about a call.
type Observation struct {
	Provider       string
	ProviderCallID string
	FromNumber     string
	ToNumber       string

	Status        Status
	InvalidNumber bool
	Reachability  string

	StartTime           *time.Time
	EndTime             *time.Time
	DurationSeconds     int
	RingDurationSeconds int

	RecordingURL string
	Cost         float64
	Currency     string
	HangupCause  string

	PayloadHash string
	Raw         map[string]any
	ReceivedAt  time.Time
}

// Filter narrows listings. Listings only ever return reconciled records.
type Filter struct {
	SurveyID      string
	InterviewerID string
	From          time.Time
	To            time.Time
}
