package responses

import (
	"strings"
	"time"
)

// Submission is the interviewer client's completion payload. The legacy
// status flags (Status, AbandonedReason, Metadata.abandoned) are read only
// by FromLegacy.
type Submission struct {
	SessionID     string `json:"sessionId"`
	SurveyID      string `json:"surveyId"`
	InterviewerID string `json:"-"`
	QueueEntryID  string `json:"queueEntryId,omitempty"`
	Mode          Mode   `json:"mode"`

	Answers         []Answer `json:"responses"`
	KnownCallStatus string   `json:"knownCallStatus,omitempty"`
	ConsentResponse string   `json:"consentResponse,omitempty"`

	TotalTimeSpentSeconds int       `json:"totalTimeSpent"`
	CompletionPercentage  float64   `json:"completionPercentage"`
	StartTime             time.Time `json:"startTime"`
	EndTime               time.Time `json:"endTime,omitempty"`

	CallID        string         `json:"callId,omitempty"`
	AC            string         `json:"acName,omitempty"`
	Location      *Location      `json:"location,omitempty"`
	SamplingPoint string         `json:"pollingStation,omitempty"`
	Audio         *Audio         `json:"audioRecording,omitempty"`
	Derived       map[string]any `json:"derived,omitempty"`

	Status          string         `json:"status,omitempty"`
	AbandonedReason string         `json:"abandonedReason,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// FromLegacy collapses the overlapping legacy outcome flags into one Intake.
// Any of status "abandoned", a non-empty abandoned reason or
// metadata.abandoned=true means the client abandoned the interview.
func FromLegacy(status, abandonedReason string, metadata map[string]any) Intake {
	in := Intake{AbandonedReason: strings.TrimSpace(abandonedReason)}
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "abandoned":
		in.Abandoned = true
	case "terminated":
		in.Terminated = true
	}
	if in.AbandonedReason != "" {
		in.Abandoned = true
	}
	if metadata != nil {
		if truthy(metadata["abandoned"]) {
			in.Abandoned = true
		}
		if in.AbandonedReason == "" {
			if r, ok := metadata["abandonedReason"].(string); ok && strings.TrimSpace(r) != "" {
				in.AbandonedReason = strings.TrimSpace(r)
				in.Abandoned = true
			}
		}
	}
	if in.Abandoned {
		in.Terminated = false
	}
	return in
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
	case float64:
		return t != 0
	case int:
		return t != 0
	}
	return false
}

func (s Submission) response() Response {
	return Response{
		SurveyID:              s.SurveyID,
		InterviewerID:         s.InterviewerID,
		SessionID:             s.SessionID,
		QueueEntryID:          s.QueueEntryID,
		Mode:                  s.Mode,
		Intake:                FromLegacy(s.Status, s.AbandonedReason, s.Metadata),
		Answers:               s.Answers,
		KnownCallStatus:       s.KnownCallStatus,
		ConsentResponse:       s.ConsentResponse,
		TotalTimeSpentSeconds: s.TotalTimeSpentSeconds,
		CompletionPercentage:  s.CompletionPercentage,
		StartTime:             s.StartTime.UTC(),
		EndTime:               s.EndTime.UTC(),
		CallID:                s.CallID,
		AC:                    s.AC,
		Location:              s.Location,
		SamplingPoint:         s.SamplingPoint,
		Audio:                 s.Audio,
		Derived:               s.Derived,
	}
}
