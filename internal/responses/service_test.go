package responses

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/queue"
)

type stubClassifier struct {
	calls int
	out   Classification
}

func (c *stubClassifier) Classify(ctx context.Context, r Response) (Classification, error) {
	c.calls++
	if r.Disposition.Kind.Terminal() {
		return Classification{Disposition: r.Disposition}, nil
	}
	return c.out, nil
}

var start = time.Date(2026, 2, 1, 10, 0, 12, 0, time.UTC)

func submission(session string) Submission {
	return Submission{
		SessionID:             session,
		SurveyID:              "s1",
		InterviewerID:         "int-1",
		Mode:                  ModePhone,
		KnownCallStatus:       "connected",
		TotalTimeSpentSeconds: 240,
		StartTime:             start,
		CallID:                "C1",
		Answers: []Answer{
			{QuestionID: "q2", Response: "Yes "},
			{QuestionID: "q1", Response: "BJP", ResponseCodes: []string{"1"}},
		},
		Derived: map[string]any{"set_number": 2},
	}
}

func newTestService(cls Classifier) (*Service, *MemoryRepo, *audit.MemoryRepo) {
	repo := NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()
	svc := NewService(repo, cls, nil)
	svc.Audit = audit.NewService(auditRepo)
	svc.clock = func() time.Time { return start.Add(5 * time.Minute) }
	return svc, repo, auditRepo
}

func TestContentHash_StableAcrossRetries(t *testing.T) {
	a := []Answer{{QuestionID: "q1", Response: "BJP"}, {QuestionID: "q2", Response: []any{"a", "B"}}}
	b := []Answer{{QuestionID: "q2", Response: []any{" A", "b"}}, {QuestionID: "q1", Response: "bjp "}}

	h1 := ContentHash("int-1", "s1", start, a)
	if h1 != ContentHash("int-1", "s1", start.Add(20*time.Second), b) {
		t.Fatalf("same interview within the minute must hash equal")
	}
	if h1 == ContentHash("int-1", "s1", start.Add(time.Minute), a) {
		t.Fatalf("next minute bucket must hash differently")
	}
	if h1 == ContentHash("int-2", "s1", start, a) {
		t.Fatalf("interviewer is part of the hash")
	}
	if h1 == ContentHash("int-1", "s1", start, a[:1]) {
		t.Fatalf("answers are part of the hash")
	}
}

func TestSubmit_DuplicateHashConverges(t *testing.T) {
	ctx := context.Background()
	cls := &stubClassifier{out: Classification{Disposition: Disposition{Kind: DispositionPendingApproval}}}
	svc, repo, _ := newTestService(cls)

	first, err := svc.Submit(ctx, submission("sess-1"))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.Submit(ctx, submission("sess-2"))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ResponseID != first.ResponseID || !second.Duplicate {
		t.Fatalf("expected the first response back, got %+v vs %+v", second, first)
	}
	if first.Status != NominalStatus || second.Status != NominalStatus {
		t.Fatalf("interviewers only see the nominal status")
	}
	all, _ := repo.List(ctx, Filter{SurveyID: "s1"}, Cursor{}, 0)
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored response, got %d", len(all))
	}
}

func TestSubmit_SameSessionNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(&stubClassifier{out: Classification{Disposition: Disposition{Kind: DispositionPendingApproval}}})

	res, err := svc.Submit(ctx, submission("sess-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	changed := submission("sess-1")
	changed.Answers = []Answer{{QuestionID: "q1", Response: "INC"}}
	again, err := svc.Submit(ctx, changed)
	if err != nil || again.ResponseID != res.ResponseID {
		t.Fatalf("expected existing response, got %+v %v", again, err)
	}
	stored, _ := repo.Get(ctx, res.ResponseID)
	if a, _ := stored.Find("q1"); a.Response != "BJP" {
		t.Fatalf("stored answers were overwritten: %v", a.Response)
	}
}

func TestSubmit_RejectionIsHiddenAndDerivedKept(t *testing.T) {
	ctx := context.Background()
	cls := &stubClassifier{out: Classification{
		Disposition:  Disposition{Kind: DispositionRejected, Reasons: []string{"too_short"}},
		AutoRejected: true,
		ContactKey:   "9876543210",
	}}
	svc, repo, auditRepo := newTestService(cls)

	res, err := svc.Submit(ctx, submission("sess-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != NominalStatus {
		t.Fatalf("rejection must not leak to the interviewer: %q", res.Status)
	}
	stored, _ := repo.Get(ctx, res.ResponseID)
	if stored.Disposition.Kind != DispositionRejected || !stored.Verification.AutoRejected {
		t.Fatalf("unexpected stored verdict %+v", stored.Disposition)
	}
	if len(stored.Verification.Reasons) != 1 || stored.Verification.Reasons[0] != "too_short" {
		t.Fatalf("review metadata must carry reasons, got %v", stored.Verification.Reasons)
	}
	if stored.Derived["set_number"] != 2 {
		t.Fatalf("derived fields lost: %v", stored.Derived)
	}
	if stored.ContactKey != "9876543210" {
		t.Fatalf("contact key not stored")
	}
	if len(auditRepo.Events()) != 1 || auditRepo.Events()[0].Type != audit.EventTypeResponseClassified {
		t.Fatalf("expected one classification audit event, got %+v", auditRepo.Events())
	}

	// Terminal responses are not reclassified.
	if _, err := svc.Complete(ctx, res.ResponseID); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if cls.calls != 1 {
		t.Fatalf("terminal response reclassified, classifier calls=%d", cls.calls)
	}
}

func TestSubmit_ClosesQueueEntry(t *testing.T) {
	ctx := context.Background()
	q := queue.NewService(queue.NewMemoryRepo(rand.New(rand.NewSource(3))), nil)
	if _, err := q.Initialize(ctx, "s1", []queue.Contact{{Name: "A", Phone: "9876543210"}, {Name: "B", Phone: "9876543211"}}); err != nil {
		t.Fatalf("init: %v", err)
	}

	cases := []struct {
		name string
		cls  Classification
		want queue.Status
	}{
		{"completed", Classification{Disposition: Disposition{Kind: DispositionPendingApproval}}, queue.StatusInterviewSuccess},
		{"consent refused", Classification{Disposition: Disposition{Kind: DispositionAbandoned, AbandonedReason: AbandonConsentRefused}}, queue.StatusRejected},
	}
	for i, tc := range cases {
		e, err := q.Next(ctx, "s1", "int-1")
		if err != nil {
			t.Fatalf("%s: next: %v", tc.name, err)
		}
		svc := NewService(NewMemoryRepo(), &stubClassifier{out: tc.cls}, q)
		sub := submission("sess-" + tc.name)
		sub.QueueEntryID = e.ID
		sub.StartTime = start.Add(time.Duration(i) * time.Hour)
		if _, err := svc.Submit(ctx, sub); err != nil {
			t.Fatalf("%s: submit: %v", tc.name, err)
		}
		got, _ := q.Get(ctx, e.ID)
		if got.Status != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.Status)
		}
	}
}

func TestSubmit_Validation(t *testing.T) {
	svc, _, _ := newTestService(nil)
	sub := submission("sess-1")
	sub.Mode = "video"
	if _, err := svc.Submit(context.Background(), sub); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMarkDuplicateAndReview(t *testing.T) {
	ctx := context.Background()
	svc, repo, auditRepo := newTestService(nil)

	a, _ := svc.Submit(ctx, submission("sess-1"))
	other := submission("sess-2")
	other.StartTime = start.Add(2 * time.Minute)
	b, _ := svc.Submit(ctx, other)

	changed, err := svc.MarkDuplicate(ctx, b.ResponseID, a.ResponseID)
	if err != nil || !changed {
		t.Fatalf("mark duplicate: %v %v", changed, err)
	}
	changed, err = svc.MarkDuplicate(ctx, b.ResponseID, a.ResponseID)
	if err != nil || changed {
		t.Fatalf("second mark must be a no-op: %v %v", changed, err)
	}
	dup, _ := repo.Get(ctx, b.ResponseID)
	if dup.Disposition.Kind != DispositionAbandoned || dup.Disposition.AbandonedReason != DuplicateOfPrefix+a.ResponseID {
		t.Fatalf("unexpected duplicate disposition %+v", dup.Disposition)
	}

	if _, err := svc.Review(ctx, b.ResponseID, ReviewDecision{ReviewerID: "qa-1", Approve: true}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("abandoned response cannot be reviewed, got %v", err)
	}
	approved, err := svc.Review(ctx, a.ResponseID, ReviewDecision{ReviewerID: "qa-1", Approve: true, Feedback: "ok"})
	if err != nil || approved.Disposition.Kind != DispositionApproved || approved.Verification.ReviewedBy != "qa-1" {
		t.Fatalf("review: %+v %v", approved, err)
	}

	var marked int
	for _, ev := range auditRepo.Events() {
		if ev.Type == audit.EventTypeDuplicateMarked {
			marked++
		}
	}
	if marked != 1 {
		t.Fatalf("expected one duplicate audit event, got %d", marked)
	}
}

func TestFromLegacy(t *testing.T) {
	cases := []struct {
		status, reason string
		meta           map[string]any
		want           Intake
	}{
		{"Pending_Approval", "", nil, Intake{}},
		{"abandoned", "", nil, Intake{Abandoned: true}},
		{"", "respondent_busy", nil, Intake{Abandoned: true, AbandonedReason: "respondent_busy"}},
		{"", "", map[string]any{"abandoned": "true", "abandonedReason": "call_later"}, Intake{Abandoned: true, AbandonedReason: "call_later"}},
		{"terminated", "", map[string]any{"abandoned": true}, Intake{Abandoned: true}},
		{"terminated", "", nil, Intake{Terminated: true}},
	}
	for _, tc := range cases {
		if got := FromLegacy(tc.status, tc.reason, tc.meta); got != tc.want {
			t.Fatalf("FromLegacy(%q,%q,%v) = %+v, want %+v", tc.status, tc.reason, tc.meta, got, tc.want)
		}
	}
}

func TestSubmit_RetryKeepsFirstVerdict(t *testing.T) {
	ctx := context.Background()
	cls := &stubClassifier{out: Classification{Disposition: Disposition{Kind: DispositionPendingApproval}}}
	svc, repo, _ := newTestService(cls)

	res, err := svc.Submit(ctx, submission("sess-1"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// A later verdict must not reach the already classified response.
	cls.out = Classification{Disposition: Disposition{Kind: DispositionRejected, Reasons: []string{"duplicate_contact"}}, AutoRejected: true}
	if _, err := svc.Submit(ctx, submission("sess-1")); err != nil {
		t.Fatalf("retry by session: %v", err)
	}
	if _, err := svc.Submit(ctx, submission("sess-9")); err != nil {
		t.Fatalf("retry by content: %v", err)
	}
	if cls.calls != 1 {
		t.Fatalf("classified response was classified again, calls=%d", cls.calls)
	}
	stored, _ := repo.Get(ctx, res.ResponseID)
	if stored.Disposition.Kind != DispositionPendingApproval || len(stored.Disposition.Reasons) != 0 {
		t.Fatalf("retry changed the verdict: %+v", stored.Disposition)
	}
	if stored.Verification.ClassifiedAt == nil {
		t.Fatalf("classification time not recorded")
	}
}

func TestSubmit_HashCollisionAcrossEntriesReleasesBoth(t *testing.T) {
	ctx := context.Background()
	q := queue.NewService(queue.NewMemoryRepo(rand.New(rand.NewSource(7))), nil)
	if _, err := q.Initialize(ctx, "s1", []queue.Contact{{Name: "A", Phone: "9876543210"}, {Name: "B", Phone: "9876543211"}}); err != nil {
		t.Fatalf("init: %v", err)
	}
	svc := NewService(NewMemoryRepo(), &stubClassifier{out: Classification{
		Disposition: Disposition{Kind: DispositionAbandoned, AbandonedReason: AbandonCallNotConnected},
	}}, q)

	unanswered := func(session, entryID string, at time.Time) Submission {
		return Submission{
			SessionID:       session,
			SurveyID:        "s1",
			InterviewerID:   "int-1",
			QueueEntryID:    entryID,
			Mode:            ModePhone,
			KnownCallStatus: "no_answer",
			StartTime:       at,
		}
	}

	first, err := q.Next(ctx, "s1", "int-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	a, err := svc.Submit(ctx, unanswered("sess-a", first.ID, start))
	if err != nil {
		t.Fatalf("submit a: %v", err)
	}
	second, err := q.Next(ctx, "s1", "int-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("requeued entry handed out before the fresh one")
	}
	b, err := svc.Submit(ctx, unanswered("sess-b", second.ID, start.Add(30*time.Second)))
	if err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if !b.Duplicate || b.ResponseID != a.ResponseID {
		t.Fatalf("expected the hashes to converge, got %+v vs %+v", b, a)
	}

	for _, id := range []string{first.ID, second.ID} {
		got, _ := q.Get(ctx, id)
		if got.Status != queue.StatusPending {
			t.Fatalf("entry %s left in %s", id, got.Status)
		}
	}
}
