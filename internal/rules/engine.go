package rules

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"survey-platform/internal/config"
	"survey-platform/internal/responses"
	"survey-platform/pkg/logger"
	"survey-platform/pkg/utils"
)

// Rejection reasons. Reasons are additive; a response may carry several.
const (
	ReasonTooShort         = "too_short"
	ReasonIneligible       = "ineligible_respondent"
	ReasonLocationMismatch = "location_mismatch"
	ReasonDuplicateContact = "duplicate_contact"
)

// SurveyRules are the survey-specific questions the content checks read.
type SurveyRules struct {
	// EligibilityQuestionID names the screening question, e.g. "registered
	// voter in this constituency". Empty disables the check.
	EligibilityQuestionID string `json:"eligibilityQuestionId"`
	// IneligibleAnswers are the answers (or response codes) that fail it.
	IneligibleAnswers []string `json:"ineligibleAnswers"`
	// ContactQuestionID names the question capturing the respondent phone.
	ContactQuestionID string `json:"contactQuestionId"`
}

type Config struct {
	PhoneMinSeconds      int
	InPersonMinSeconds   int
	LocationCheckEnabled bool
	LocationRadiusMeters float64

	// ShortNoAnswerHeuristic abandons very short interviews without real
	// answers. Off by default; it stands apart from the explicit signals.
	ShortNoAnswerHeuristic bool
	HeuristicMaxSeconds    int
	HeuristicMinAnswers    int

	Surveys map[string]SurveyRules
}

const (
	defaultPhoneMinSeconds     = 90
	defaultInPersonMinSeconds  = 180
	defaultHeuristicMaxSeconds = 30
	defaultHeuristicMinAnswers = 2
)

// ConfigFrom maps the environment configuration; per-survey rules are added separately.
func ConfigFrom(c config.RulesConfig) Config {
	return Config{
		PhoneMinSeconds:        c.PhoneMinSeconds,
		InPersonMinSeconds:     c.InPersonMinSeconds,
		LocationCheckEnabled:   c.LocationCheckEnabled,
		LocationRadiusMeters:   c.LocationRadiusMeters,
		ShortNoAnswerHeuristic: c.ShortNoAnswerHeuristic,
	}
}

func (c Config) withDefaults() Config {
	if c.PhoneMinSeconds <= 0 {
		c.PhoneMinSeconds = defaultPhoneMinSeconds
	}
	if c.InPersonMinSeconds <= 0 {
		c.InPersonMinSeconds = defaultInPersonMinSeconds
	}
	if c.HeuristicMaxSeconds <= 0 {
		c.HeuristicMaxSeconds = defaultHeuristicMaxSeconds
	}
	if c.HeuristicMinAnswers <= 0 {
		c.HeuristicMinAnswers = defaultHeuristicMinAnswers
	}
	return c
}

// ContactLookup finds responses created before the cursor that captured the
// same contact. responses.Repository satisfies it.
type ContactLookup interface {
	ContactUsed(ctx context.Context, surveyID, contactKey string, before responses.Cursor) (bool, error)
}

// Engine decides response dispositions. It implements responses.Classifier.
type Engine struct {
	cfg      Config
	contacts ContactLookup
	points   PointResolver
}

func NewEngine(cfg Config, contacts ContactLookup, points PointResolver) *Engine {
	return &Engine{cfg: cfg.withDefaults(), contacts: contacts, points: points}
}

// Classify applies, in order: terminal responses stay as they are; explicit
// abandonment, an unconnected phone call or refused consent abandon the
// response without any content check; the optional heuristic; and finally
// the additive content checks. Any content reason rejects the response.
func (e *Engine) Classify(ctx context.Context, r responses.Response) (responses.Classification, error) {
	if r.Disposition.Kind.Terminal() {
		return responses.Classification{
			Disposition:  r.Disposition,
			AutoRejected: r.Verification.AutoRejected,
			ContactKey:   r.ContactKey,
		}, nil
	}

	if r.Intake.Abandoned {
		reason := r.Intake.AbandonedReason
		if reason == "" {
			reason = responses.AbandonByInterviewer
		}
		return abandoned(reason), nil
	}
	if r.Intake.Terminated {
		return responses.Classification{Disposition: responses.Disposition{Kind: responses.DispositionTerminated}}, nil
	}
	if r.Mode == responses.ModePhone && !CallConnected(r.KnownCallStatus) {
		return abandoned(responses.AbandonCallNotConnected), nil
	}
	if ConsentRefused(r.ConsentResponse) {
		return abandoned(responses.AbandonConsentRefused), nil
	}
	if e.cfg.ShortNoAnswerHeuristic && e.shortWithoutAnswers(r) {
		return abandoned(responses.AbandonShortNoAnswers), nil
	}

	var reasons []string
	if r.TotalTimeSpentSeconds < e.minSeconds(r.Mode) {
		reasons = append(reasons, ReasonTooShort)
	}

	sr := e.cfg.Surveys[r.SurveyID]
	if ineligible(r, sr) {
		reasons = append(reasons, ReasonIneligible)
	}

	mismatch, err := e.locationMismatch(ctx, r)
	if err != nil {
		return responses.Classification{}, err
	}
	if mismatch {
		reasons = append(reasons, ReasonLocationMismatch)
	}

	var contactKey string
	if sr.ContactQuestionID != "" {
		if a, ok := r.Find(sr.ContactQuestionID); ok {
			contactKey = utils.NormalizePhone(a.Text())
		}
	}
	if contactKey != "" && e.contacts != nil {
		used, err := e.contacts.ContactUsed(ctx, r.SurveyID, contactKey, responses.Cursor{CreatedAt: r.CreatedAt, ID: r.ID})
		if err != nil {
			return responses.Classification{}, fmt.Errorf("duplicate contact lookup: %w", err)
		}
		if used {
			reasons = append(reasons, ReasonDuplicateContact)
		}
	}

	out := responses.Classification{
		Disposition: responses.Disposition{Kind: responses.DispositionPendingApproval},
		ContactKey:  contactKey,
	}
	if len(reasons) > 0 {
		out.Disposition = responses.Disposition{Kind: responses.DispositionRejected, Reasons: reasons}
		out.AutoRejected = true
	}
	return out, nil
}

func abandoned(reason string) responses.Classification {
	return responses.Classification{Disposition: responses.Disposition{
		Kind:            responses.DispositionAbandoned,
		AbandonedReason: reason,
	}}
}

func (e *Engine) minSeconds(m responses.Mode) int {
	if m == responses.ModePhone {
		return e.cfg.PhoneMinSeconds
	}
	return e.cfg.InPersonMinSeconds
}

var connectedStatuses = []string{"connected", "success", "answered", "completed", "call_connected"}

// CallConnected reports whether the client-reported call status means the respondent picked up.
func CallConnected(status string) bool {
	return slices.Contains(connectedStatuses, strings.ToLower(strings.TrimSpace(status)))
}

var refusals = []string{"no", "n", "refused", "declined", "false", "0"}

func ConsentRefused(answer string) bool {
	return slices.Contains(refusals, strings.ToLower(strings.TrimSpace(answer)))
}

var nonAnswers = []string{"", "n/a", "na", "skip", "skipped", "-"}

func (e *Engine) shortWithoutAnswers(r responses.Response) bool {
	if r.TotalTimeSpentSeconds >= e.cfg.HeuristicMaxSeconds {
		return false
	}
	substantive := 0
	for _, a := range r.Answers {
		if !slices.Contains(nonAnswers, strings.ToLower(a.Text())) {
			substantive++
		}
	}
	return substantive < e.cfg.HeuristicMinAnswers
}

func ineligible(r responses.Response, sr SurveyRules) bool {
	if sr.EligibilityQuestionID == "" {
		return false
	}
	a, ok := r.Find(sr.EligibilityQuestionID)
	if !ok {
		return false
	}
	bad := sr.IneligibleAnswers
	if len(bad) == 0 {
		bad = []string{"no"}
	}
	matches := func(v string) bool {
		v = strings.ToLower(strings.TrimSpace(v))
		for _, b := range bad {
			if v == strings.ToLower(strings.TrimSpace(b)) {
				return true
			}
		}
		return false
	}
	if matches(a.Text()) {
		return true
	}
	for _, code := range a.ResponseCodes {
		if matches(code) {
			return true
		}
	}
	return false
}

// locationMismatch is only evaluated for in-person interviews with a GPS fix
// and a known sampling point. A distance equal to the radius is inside.
func (e *Engine) locationMismatch(ctx context.Context, r responses.Response) (bool, error) {
	if !e.cfg.LocationCheckEnabled || e.points == nil || r.Mode != responses.ModeInPerson {
		return false, nil
	}
	if r.Location == nil || r.SamplingPoint == "" {
		return false, nil
	}
	pt, ok, err := e.points.Resolve(ctx, r.AC, r.SamplingPoint)
	if err != nil {
		return false, fmt.Errorf("resolve sampling point: %w", err)
	}
	if !ok {
		logger.From(ctx).Debug("sampling point unknown; location check skipped",
			slog.String("response_id", r.ID), slog.String("sampling_point", r.SamplingPoint))
		return false, nil
	}
	d := Haversine(r.Location.Lat, r.Location.Lng, pt.Lat, pt.Lng)
	return d > e.cfg.LocationRadiusMeters, nil
}
