package responses

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Response is one interview attempt's full answer set plus its disposition.
//
// Invariants:
// - ContentHash is a pure function of interviewer, survey, start-time bucket and answers.
// - A stored response is never overwritten by a later submission with the same SessionID.
// - Disposition is the only status signal; legacy flags are collapsed on intake.

type Response struct {
	ID            string `json:"id" bson:"_id"`
	SurveyID      string `json:"survey_id" bson:"surveyId"`
	InterviewerID string `json:"interviewer_id" bson:"interviewerId"`
	SessionID     string `json:"session_id" bson:"sessionId"`
	QueueEntryID  string `json:"queue_entry_id,omitempty" bson:"queueEntryRef,omitempty"`
	Mode          Mode   `json:"mode" bson:"mode"`

	Disposition Disposition `json:"disposition" bson:"disposition"`
	Intake      Intake      `json:"-" bson:"intake"`

	Answers         []Answer `json:"responses" bson:"responses"`
	KnownCallStatus string   `json:"known_call_status,omitempty" bson:"knownCallStatus,omitempty"`
	ConsentResponse string   `json:"consent_response,omitempty" bson:"consentResponse,omitempty"`
	ContentHash     string   `json:"content_hash" bson:"contentHash"`
	// ContactKey is the normalized respondent phone captured by the survey's
	// contact question, if any.
	ContactKey string `json:"-" bson:"contactKey,omitempty"`

	TotalTimeSpentSeconds int       `json:"total_time_spent_seconds" bson:"totalTimeSpent"`
	CompletionPercentage  float64   `json:"completion_percentage" bson:"completionPercentage"`
	StartTime             time.Time `json:"start_time" bson:"startTime"`
	EndTime               time.Time `json:"end_time,omitempty" bson:"endTime,omitempty"`

	CallID        string    `json:"call_id,omitempty" bson:"callId,omitempty"`
	AC            string    `json:"ac,omitempty" bson:"ac,omitempty"`
	Location      *Location `json:"location,omitempty" bson:"location,omitempty"`
	SamplingPoint string    `json:"sampling_point,omitempty" bson:"samplingPoint,omitempty"`
	Audio         *Audio    `json:"audio,omitempty" bson:"audio,omitempty"`

	Verification Verification `json:"verification" bson:"verificationData"`
	// Derived holds unrelated computed fields (e.g. the answer-set variant
	// shown). Classification never touches it.
	Derived map[string]any `json:"derived,omitempty" bson:"derived,omitempty"`

	Version   int64     `json:"-" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

type Mode string

const (
	ModeInPerson Mode = "in_person"
	ModePhone    Mode = "phone"
)

func (m Mode) Valid() bool { return m == ModeInPerson || m == ModePhone }

type DispositionKind string

const (
	DispositionPendingApproval DispositionKind = "pending_approval"
	DispositionApproved        DispositionKind = "approved"
	DispositionRejected        DispositionKind = "rejected"
	DispositionAbandoned       DispositionKind = "abandoned"
	DispositionTerminated      DispositionKind = "terminated"
)

// Terminal dispositions are never reclassified.
func (k DispositionKind) Terminal() bool {
	switch k {
	case DispositionApproved, DispositionRejected, DispositionAbandoned, DispositionTerminated:
		return true
	}
	return false
}

// Disposition is the single status of a response. Reasons is set for
// rejected responses, AbandonedReason for abandoned ones.
type Disposition struct {
	Kind            DispositionKind `json:"kind" bson:"kind"`
	Reasons         []string        `json:"reasons,omitempty" bson:"reasons,omitempty"`
	AbandonedReason string          `json:"abandoned_reason,omitempty" bson:"abandonedReason,omitempty"`
}

// Intake is what the interviewer client said about the interview outcome.
type Intake struct {
	Abandoned       bool   `bson:"abandoned,omitempty"`
	AbandonedReason string `bson:"abandonedReason,omitempty"`
	Terminated      bool   `bson:"terminated,omitempty"`
}

type Answer struct {
	QuestionID    string   `json:"questionId" bson:"questionId"`
	QuestionText  string   `json:"questionText,omitempty" bson:"questionText,omitempty"`
	Response      any      `json:"response" bson:"response"`
	ResponseCodes []string `json:"responseCodes,omitempty" bson:"responseCodes,omitempty"`
}

// Text renders the answer value for rule checks.
func (a Answer) Text() string {
	switch v := a.Response.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, Answer{Response: p}.Text())
		}
		return strings.Join(parts, ",")
	case primitive.A:
		return Answer{Response: []any(v)}.Text()
	case []string:
		return strings.Join(v, ",")
	}
	return strings.TrimSpace(canonicalValue(a.Response))
}

// Find returns the answer to questionID.
func (r Response) Find(questionID string) (Answer, bool) {
	for _, a := range r.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return Answer{}, false
}

type Location struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Audio is the metadata of the interview recording.
type Audio struct {
	DurationSeconds float64 `json:"duration_seconds" bson:"duration"`
	SizeBytes       int64   `json:"size_bytes" bson:"size"`
	Format          string  `json:"format,omitempty" bson:"format,omitempty"`
	Codec           string  `json:"codec,omitempty" bson:"codec,omitempty"`
	Bitrate         int     `json:"bitrate,omitempty" bson:"bitrate,omitempty"`
}

type Verification struct {
	AutoRejected bool     `json:"auto_rejected" bson:"autoRejected"`
	Reasons      []string `json:"reasons,omitempty" bson:"reasons,omitempty"`
	Feedback     string   `json:"feedback,omitempty" bson:"feedback,omitempty"`
	ReviewedBy   string   `json:"reviewed_by,omitempty" bson:"reviewedBy,omitempty"`
	// ClassifiedAt is set once by the first classification; later retries
	// of the submission leave the verdict alone.
	ClassifiedAt *time.Time `json:"classified_at,omitempty" bson:"classifiedAt,omitempty"`
}

// Classification is the rule engine's verdict for one response.
type Classification struct {
	Disposition  Disposition
	AutoRejected bool
	// ContactKey is the normalized contact phone the engine checked, if any.
	ContactKey string
}

// NominalStatus is the only outcome interviewers are told after submitting.
const NominalStatus = "submitted_for_review"

type SubmitResult struct {
	ResponseID string `json:"response_id"`
	Status     string `json:"status"`
	// Duplicate is set when an earlier submission was returned instead.
	Duplicate bool `json:"-"`
}

// Filter narrows response listings. Listings are ordered by (CreatedAt, ID).
type Filter struct {
	SurveyID      string
	InterviewerID string
	Mode          Mode
	From          time.Time
	To            time.Time
}

// Cursor resumes a listing after the last (CreatedAt, ID) seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
