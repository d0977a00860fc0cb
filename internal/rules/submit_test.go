package rules

import (
	"context"
	"slices"
	"testing"
	"time"

	"survey-platform/internal/responses"
)

func contactSubmission(session, interviewer string, at time.Time) responses.Submission {
	return responses.Submission{
		SessionID:             session,
		SurveyID:              "s1",
		InterviewerID:         interviewer,
		Mode:                  responses.ModePhone,
		KnownCallStatus:       "connected",
		ConsentResponse:       "yes",
		TotalTimeSpentSeconds: 240,
		StartTime:             at,
		Answers: []responses.Answer{
			{QuestionID: "q1", Response: "BJP"},
			{QuestionID: "q3", Response: "+91 98765 43210"},
		},
	}
}

func TestSubmit_DuplicateContactFlagsOnlyTheLaterResponse(t *testing.T) {
	ctx := context.Background()
	repo := responses.NewMemoryRepo()
	engine := NewEngine(Config{Surveys: map[string]SurveyRules{"s1": {ContactQuestionID: "q3"}}}, repo, nil)
	svc := responses.NewService(repo, engine, nil)

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})

	t0 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	first := contactSubmission("sess-a", "int-1", t0)
	a, err := svc.Submit(ctx, first)
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	b, err := svc.Submit(ctx, contactSubmission("sess-b", "int-2", t0.Add(time.Hour)))
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}

	gotB, _ := repo.Get(ctx, b.ResponseID)
	if gotB.Disposition.Kind != responses.DispositionRejected ||
		!slices.Equal(gotB.Disposition.Reasons, []string{ReasonDuplicateContact}) {
		t.Fatalf("later response must be rejected as duplicate contact, got %+v", gotB.Disposition)
	}

	// Offline sync replays the first interview, by session and by content.
	if _, err := svc.Submit(ctx, first); err != nil {
		t.Fatalf("replay a: %v", err)
	}
	replay := first
	replay.SessionID = "sess-a2"
	if _, err := svc.Submit(ctx, replay); err != nil {
		t.Fatalf("replay a with new session: %v", err)
	}

	gotA, _ := repo.Get(ctx, a.ResponseID)
	if gotA.Disposition.Kind != responses.DispositionPendingApproval || len(gotA.Disposition.Reasons) != 0 {
		t.Fatalf("original response must stay pending after replays, got %+v", gotA.Disposition)
	}
	if gotA.ContactKey != "9876543210" {
		t.Fatalf("contact key not normalized: %q", gotA.ContactKey)
	}
}

func TestClassify_DuplicateContactIgnoresLaterResponses(t *testing.T) {
	ctx := context.Background()
	repo := responses.NewMemoryRepo()
	t0 := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	later := responses.Response{
		ID: "b", SurveyID: "s1", SessionID: "sb", ContentHash: "hb",
		ContactKey: "9876543210", CreatedAt: t0.Add(time.Minute),
	}
	if err := repo.Create(ctx, later); err != nil {
		t.Fatalf("create: %v", err)
	}

	e := NewEngine(Config{Surveys: map[string]SurveyRules{"s1": {ContactQuestionID: "q3"}}}, repo, nil)
	r := phoneResponse(240)
	r.ID = "a"
	r.CreatedAt = t0
	r.Answers = append(r.Answers, responses.Answer{QuestionID: "q3", Response: "9876543210"})

	if c := classify(t, e, r); c.Disposition.Kind != responses.DispositionPendingApproval {
		t.Fatalf("a later response must not make an earlier one a duplicate, got %+v", c.Disposition)
	}

	r.ID = "c"
	r.CreatedAt = t0.Add(2 * time.Minute)
	if c := classify(t, e, r); !slices.Equal(c.Disposition.Reasons, []string{ReasonDuplicateContact}) {
		t.Fatalf("expected duplicate contact for the newer response, got %+v", c.Disposition)
	}
}
