package reporting

import (
	"time"

	"survey-platform/internal/queue"
	"survey-platform/internal/responses"
)

// Common filtering inputs. A zero range means all time.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call statistics.
// Survey isolation: SurveyID is required.

type CallsSummaryRequest struct {
	SurveyID      string    `json:"survey_id"`
	InterviewerID string    `json:"interviewer_id,omitempty"`
	Range         TimeRange `json:"range"`
}

// CallsSummary counts reconciled call records only: a record the vendor
// never reported on is not a call yet.
type CallsSummary struct {
	SurveyID      string `json:"survey_id"`
	InterviewerID string `json:"interviewer_id,omitempty"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	BusyCalls      int `json:"busy_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	CancelledCalls int `json:"cancelled_calls"`
	FailedCalls    int `json:"failed_calls"`
	RingingCalls   int `json:"ringing_calls"`

	InvalidNumbers int `json:"invalid_numbers"`
	SwitchedOff    int `json:"switched_off"`
	NotReachable   int `json:"not_reachable"`

	TotalDurationSeconds   int     `json:"total_duration_seconds"`
	AverageDurationSeconds int     `json:"average_duration_seconds"`
	ConnectionRate         float64 `json:"connection_rate"`

	RecordedCalls int `json:"recorded_calls"`
	// CostByCurrency sums vendor-reported call cost.
	CostByCurrency map[string]float64 `json:"cost_by_currency,omitempty"`

	ByInterviewer []InterviewerCalls `json:"by_interviewer,omitempty"`
}

type InterviewerCalls struct {
	InterviewerID   string `json:"interviewer_id"`
	TotalCalls      int    `json:"total_calls"`
	ConnectedCalls  int    `json:"connected_calls"`
	DurationSeconds int    `json:"duration_seconds"`
}

// SurveyProgressRequest asks for the queue, dialing and response picture of one survey.

type SurveyProgressRequest struct {
	SurveyID string    `json:"survey_id"`
	Range    TimeRange `json:"range"`
}

type SurveyProgress struct {
	SurveyID string      `json:"survey_id"`
	Queue    queue.Stats `json:"queue"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`

	Responses map[responses.DispositionKind]int `json:"responses"`
	// CompletedInterviews counts approved and pending-review responses.
	CompletedInterviews int `json:"completed_interviews"`

	ConnectionRate float64 `json:"connection_rate"`
	CompletionRate float64 `json:"completion_rate"`
}
