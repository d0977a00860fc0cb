package reconcile

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"survey-platform/internal/audit"
	"survey-platform/internal/calls"
	"survey-platform/internal/queue"
	"survey-platform/internal/telephony"
	"survey-platform/pkg/utils"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeProvider struct {
	id  string
	err error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) InitiateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	if p.err != nil {
		return telephony.CallResult{}, p.err
	}
	return telephony.CallResult{ProviderCallID: p.id}, nil
}

type fakeArchiver struct{ calls int }

func (a *fakeArchiver) Archive(ctx context.Context, rec calls.Record) (string, error) {
	a.calls++
	return "recordings/" + rec.ID + ".mp3", nil
}

type fixture struct {
	queue    *queue.Service
	calls    *calls.MemoryRepo
	audit    *audit.MemoryRepo
	rec      *Reconciler
	dialer   *Dialer
	provider *fakeProvider
	mr       *miniredis.Miniredis
	entry    queue.Entry
}

var testNow = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	qsvc := queue.NewService(queue.NewMemoryRepo(rand.New(rand.NewSource(7))), nil)
	if _, err := qsvc.Initialize(ctx, "s1", []queue.Contact{{Name: "Asha", Phone: "+91 98765 43210"}}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	e, err := qsvc.Next(ctx, "s1", "int-1")
	if err != nil {
		t.Fatalf("next: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	callCap := RedisCallCap{Client: rdb, Limit: 1, TTL: time.Minute}

	repo := calls.NewMemoryRepo()
	auditRepo := audit.NewMemoryRepo()

	rec := NewReconciler(repo, qsvc)
	rec.Cap = callCap
	rec.Audit = audit.NewService(auditRepo)
	rec.clock = func() time.Time { return testNow }

	provider := &fakeProvider{id: "P-1"}
	reg := telephony.NewRegistry("fake")
	reg.Register(provider, nil)
	d := NewDialer(qsvc, repo, reg)
	d.Cap = callCap
	d.clock = func() time.Time { return testNow.Add(-time.Minute) }

	return &fixture{queue: qsvc, calls: repo, audit: auditRepo, rec: rec, dialer: d, provider: provider, mr: mr, entry: e}
}

func (f *fixture) start(t *testing.T) StartResult {
	t.Helper()
	res, err := f.dialer.StartCall(context.Background(), StartRequest{
		InterviewerID: "int-1",
		EntryID:       f.entry.ID,
		AgentNumber:   "9000000001",
	})
	if err != nil {
		t.Fatalf("start call: %v", err)
	}
	return res
}

func event(id string, status calls.Status, raw string) telephony.WebhookEvent {
	return telephony.WebhookEvent{
		Provider:       "fake",
		ProviderCallID: id,
		ToNumber:       "9876543210",
		Status:         status,
		Raw:            telephony.Payload{"id": id, "status": raw},
		ReceivedAt:     testNow,
	}
}

func TestReconciler_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	ev := event("P-1", calls.StatusBusy, "4")
	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	first, _ := f.calls.FindByProviderCallID(ctx, "P-1")
	entryAfterFirst, _ := f.queue.Get(ctx, f.entry.ID)

	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("replay: %v", err)
	}
	second, _ := f.calls.FindByProviderCallID(ctx, "P-1")
	entryAfterSecond, _ := f.queue.Get(ctx, f.entry.ID)

	if second.Version != first.Version || second.WebhookCount != 1 {
		t.Fatalf("replay changed record: v%d->v%d count=%d", first.Version, second.Version, second.WebhookCount)
	}
	if entryAfterSecond.Version != entryAfterFirst.Version {
		t.Fatalf("replay changed queue entry")
	}
	if entryAfterSecond.Status != queue.StatusPending || entryAfterSecond.Priority != queue.RequeuePriority {
		t.Fatalf("busy call must requeue at the tail, got %s/%d", entryAfterSecond.Status, entryAfterSecond.Priority)
	}
	if got := entryAfterSecond.CallAttempts[0].Status; got != "busy" {
		t.Fatalf("expected attempt status busy, got %q", got)
	}
	if n := len(f.audit.Events()); n != 1 {
		t.Fatalf("expected one reconciliation audit event, got %d", n)
	}
	if f.mr.Exists(utils.InterviewerCallKey("int-1")) {
		t.Fatalf("final status must release the interviewer call slot")
	}
}

func TestReconciler_LateRingingDoesNotReopen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	if err := f.rec.Apply(ctx, event("P-1", calls.StatusCompleted, "3")); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	if err := f.rec.Apply(ctx, event("P-1", calls.StatusRinging, "1")); err != nil {
		t.Fatalf("apply ringing: %v", err)
	}
	rec, _ := f.calls.FindByProviderCallID(ctx, "P-1")
	if rec.Status != calls.StatusCompleted || rec.WebhookCount != 2 {
		t.Fatalf("expected completed with 2 webhooks, got %s/%d", rec.Status, rec.WebhookCount)
	}
	e, _ := f.queue.Get(ctx, f.entry.ID)
	if e.Status != queue.StatusCalling {
		t.Fatalf("connected call keeps the entry calling, got %s", e.Status)
	}
}

func TestReconciler_LazyCreateThenDialerLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.rec.Apply(ctx, event("P-1", calls.StatusNoAnswer, "5")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	lazy, err := f.calls.FindByProviderCallID(ctx, "p-1")
	if err != nil {
		t.Fatalf("lazy record not found case-insensitively: %v", err)
	}
	if lazy.QueueEntryID != "" || !lazy.WebhookReceived {
		t.Fatalf("unexpected lazy record %+v", lazy)
	}

	res := f.start(t)
	if res.Record.ID != lazy.ID || res.Record.QueueEntryID != f.entry.ID || res.Record.InterviewerID != "int-1" {
		t.Fatalf("dialer did not link the lazy record: %+v", res.Record)
	}
	if res.Entry.Status != queue.StatusPending || res.Entry.Priority != queue.RequeuePriority {
		t.Fatalf("early no_answer must still requeue the entry, got %s", res.Entry.Status)
	}
	if f.mr.Exists(utils.InterviewerCallKey("int-1")) {
		t.Fatalf("dialer must free the slot of an already finished call")
	}
}

func TestReconciler_PhoneFallbackOnlyMatchesUnreconciled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mk := func(id string, age time.Duration, reconciled bool) {
		if err := f.calls.Create(ctx, calls.Record{
			ID:              id,
			ToNumber:        "9876543210",
			ToKey:           "9876543210",
			WebhookReceived: reconciled,
			Version:         1,
			CreatedAt:       testNow.Add(-age),
		}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	mk("reconciled", time.Minute, true)
	mk("pending", 2*time.Minute, false)
	mk("stale", 30*time.Minute, false)

	ev := event("", calls.StatusBusy, "busy-1")
	ev.ToNumber = "+91 98765 43210"
	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, _ := f.calls.Get(ctx, "pending")
	if !got.WebhookReceived || got.Status != calls.StatusBusy {
		t.Fatalf("fallback should reconcile the un-reconciled record, got %+v", got)
	}
	if r, _ := f.calls.Get(ctx, "reconciled"); r.Status != "" {
		t.Fatalf("reconciled record must not be touched")
	}

	ev2 := event("", calls.StatusBusy, "busy-2")
	if err := f.rec.Apply(ctx, ev2); !errors.Is(err, ErrUnmatched) {
		t.Fatalf("expected ErrUnmatched outside window, got %v", err)
	}
}

func TestReconciler_InvalidNumberClosesEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	ev := event("P-1", calls.StatusFailed, "8")
	ev.InvalidNumber = true
	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	e, _ := f.queue.Get(ctx, f.entry.ID)
	if e.Status != queue.StatusDoesNotExist {
		t.Fatalf("expected does_not_exist, got %s", e.Status)
	}
}

func TestReconciler_ArchivesRecordingOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	arch := &fakeArchiver{}
	f.rec.Archiver = arch
	f.start(t)

	ev := event("P-1", calls.StatusCompleted, "3")
	ev.RecordingURL = "https://vendor.example/rec/P-1.mp3"
	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	ev.Raw = telephony.Payload{"id": "P-1", "status": "3", "retry": "1"}
	if err := f.rec.Apply(ctx, ev); err != nil {
		t.Fatalf("apply again: %v", err)
	}
	rec, _ := f.calls.FindByProviderCallID(ctx, "P-1")
	if rec.RecordingKey != "recordings/"+rec.ID+".mp3" {
		t.Fatalf("unexpected recording key %q", rec.RecordingKey)
	}
	if arch.calls != 1 {
		t.Fatalf("expected one archive call, got %d", arch.calls)
	}
}

func TestDialer_InitiationFailureRequeuesAndReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.provider.err = telephony.ErrInitiateFailed

	_, err := f.dialer.StartCall(ctx, StartRequest{InterviewerID: "int-1", EntryID: f.entry.ID, AgentNumber: "9000000001"})
	if !errors.Is(err, telephony.ErrInitiateFailed) {
		t.Fatalf("expected ErrInitiateFailed, got %v", err)
	}
	e, _ := f.queue.Get(ctx, f.entry.ID)
	if e.Status != queue.StatusPending || e.AbandonmentReason != queue.ReasonCallFailed {
		t.Fatalf("expected requeue after failure, got %s/%s", e.Status, e.AbandonmentReason)
	}
	if f.mr.Exists(utils.InterviewerCallKey("int-1")) {
		t.Fatalf("failed initiation must release the slot")
	}
}

func TestDialer_CapAndOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.start(t)

	f.provider.id = "P-2"
	_, err := f.dialer.StartCall(ctx, StartRequest{InterviewerID: "int-1", EntryID: f.entry.ID, AgentNumber: "9000000001"})
	if !errors.Is(err, ErrTooManyCalls) {
		t.Fatalf("expected ErrTooManyCalls, got %v", err)
	}

	_, err = f.dialer.StartCall(ctx, StartRequest{InterviewerID: "int-2", EntryID: f.entry.ID, AgentNumber: "9000000002"})
	if !errors.Is(err, queue.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
}

func TestOutcomeFor(t *testing.T) {
	cases := []struct {
		rec  calls.Record
		kind queue.OutcomeKind
		ok   bool
	}{
		{calls.Record{Status: calls.StatusRinging}, "", false},
		{calls.Record{Status: calls.StatusAnswered}, queue.OutcomeConnected, true},
		{calls.Record{Status: calls.StatusCancelled}, queue.OutcomeRetry, true},
		{calls.Record{Status: calls.StatusFailed, InvalidNumber: true}, queue.OutcomeInvalidNumber, true},
	}
	for _, tc := range cases {
		o, ok := OutcomeFor(tc.rec)
		if ok != tc.ok || o.Kind != tc.kind {
			t.Fatalf("%s: got %v/%v", tc.rec.Status, o.Kind, ok)
		}
	}

	o, _ := OutcomeFor(calls.Record{Status: calls.StatusFailed, Reachability: calls.ReachabilitySwitchedOff})
	if o.AttemptStatus != calls.ReachabilitySwitchedOff {
		t.Fatalf("reachability should name the attempt status, got %q", o.AttemptStatus)
	}
}
