package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tealeg/xlsx/v2"

	"survey-platform/internal/audit"
	"survey-platform/internal/auth"
	"survey-platform/internal/calls"
	"survey-platform/internal/dedupe"
	"survey-platform/internal/queue"
	"survey-platform/internal/rbac"
	"survey-platform/internal/reconcile"
	"survey-platform/internal/reporting"
	"survey-platform/internal/responses"
	"survey-platform/internal/rules"
	"survey-platform/internal/storage"
	"survey-platform/internal/telephony"
)

type fakeProvider struct{}

func (fakeProvider) Name() string { return "fake" }

func (fakeProvider) InitiateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallResult, error) {
	return telephony.CallResult{ProviderCallID: "P-" + req.Reference}, nil
}

type env struct {
	h      Handlers
	queue  *queue.Service
	calls  *calls.MemoryRepo
	store  *storage.MemoryStore
	audits *audit.MemoryRepo
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	qsvc := queue.NewService(queue.NewMemoryRepo(rand.New(rand.NewSource(3))), nil)
	if _, err := qsvc.Initialize(ctx, "s1", []queue.Contact{{Name: "Asha", Phone: "9876543210"}}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	callRepo := calls.NewMemoryRepo()
	reg := telephony.NewRegistry("fake")
	reg.Register(fakeProvider{}, nil)
	dialer := reconcile.NewDialer(qsvc, callRepo, reg)

	respRepo := responses.NewMemoryRepo()
	engine := rules.NewEngine(rules.Config{}, respRepo, nil)
	respSvc := responses.NewService(respRepo, engine, qsvc)

	auditRepo := audit.NewMemoryRepo()
	store := storage.NewMemoryStore()

	return &env{
		h: Handlers{
			Queue:     qsvc,
			Dialer:    dialer,
			Responses: respSvc,
			Calls:     callRepo,
			Store:     store,
			Dedupe:    dedupe.NewDetector(respSvc, respSvc, dedupe.Options{}),
			Reporting: reporting.NewService(reporting.StoreRepo{Calls: callRepo, Responses: respSvc, Queue: qsvc}),
			Audit:     audit.NewService(auditRepo),
		},
		queue:  qsvc,
		calls:  callRepo,
		store:  store,
		audits: auditRepo,
	}
}

func (e *env) do(t *testing.T, id auth.Identity, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	v1 := r.Group("/v1", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	})
	e.h.Register(v1)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var (
	interviewer1 = auth.Identity{UserID: "int-1", CompanyID: "co", Role: rbac.RoleInterviewer}
	interviewer2 = auth.Identity{UserID: "int-2", CompanyID: "co", Role: rbac.RoleInterviewer}
	reviewer     = auth.Identity{UserID: "qa-1", CompanyID: "co", Role: rbac.RoleQualityAgent}
	manager      = auth.Identity{UserID: "pm-1", CompanyID: "co", Role: rbac.RoleProjectManager}
)

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestInterviewerFlow_NextStartCallAbandon(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, interviewer1, http.MethodPost, "/v1/surveys/s1/next", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("next: %d %s", w.Code, w.Body.String())
	}
	var entry queue.Entry
	decode(t, w, &entry)
	if entry.AssignedTo != "int-1" || entry.Status != queue.StatusAssigned {
		t.Fatalf("unexpected entry %+v", entry)
	}

	if w := e.do(t, interviewer2, http.MethodPost, "/v1/surveys/s1/next", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when queue is drained, got %d", w.Code)
	}
	if w := e.do(t, interviewer2, http.MethodPost, "/v1/queue/"+entry.ID+"/call", gin.H{"agent_number": "9000000000"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign entry, got %d", w.Code)
	}
	if w := e.do(t, interviewer1, http.MethodPost, "/v1/queue/"+entry.ID+"/call", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without agent number, got %d", w.Code)
	}

	w = e.do(t, interviewer1, http.MethodPost, "/v1/queue/"+entry.ID+"/call", gin.H{"agent_number": "9000000000"})
	if w.Code != http.StatusOK {
		t.Fatalf("start call: %d %s", w.Code, w.Body.String())
	}
	var started reconcile.StartResult
	decode(t, w, &started)
	if started.Entry.Status != queue.StatusCalling || started.Record.ProviderCallID != "P-"+entry.ID {
		t.Fatalf("unexpected start result %+v", started)
	}

	w = e.do(t, interviewer1, http.MethodPost, "/v1/queue/"+entry.ID+"/abandon", gin.H{"reason": queue.ReasonBusy})
	if w.Code != http.StatusOK {
		t.Fatalf("abandon: %d %s", w.Code, w.Body.String())
	}
	got, _ := e.queue.Get(context.Background(), entry.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("expected requeued entry, got %s", got.Status)
	}
}

func TestSubmitResponse_RejectionHiddenFromInterviewer(t *testing.T) {
	e := newEnv(t)
	sub := gin.H{
		"sessionId":       "sess-1",
		"surveyId":        "s1",
		"mode":            "phone",
		"knownCallStatus": "connected",
		"consentResponse": "yes",
		"totalTimeSpent":  40,
		"startTime":       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		"responses":       []gin.H{{"questionId": "q1", "response": "A"}},
	}

	w := e.do(t, interviewer1, http.MethodPost, "/v1/responses", sub)
	if w.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), rules.ReasonTooShort) {
		t.Fatalf("interviewer must not see rejection reasons: %s", w.Body.String())
	}
	var res responses.SubmitResult
	decode(t, w, &res)
	if res.Status != responses.NominalStatus {
		t.Fatalf("expected nominal status, got %q", res.Status)
	}

	if w := e.do(t, interviewer1, http.MethodGet, "/v1/review/responses/"+res.ResponseID, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for interviewer on review routes, got %d", w.Code)
	}
	w = e.do(t, reviewer, http.MethodGet, "/v1/review/responses/"+res.ResponseID, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), rules.ReasonTooShort) {
		t.Fatalf("reviewer should see reasons: %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, reviewer, http.MethodPost, "/v1/review/responses/"+res.ResponseID, gin.H{"approve": true, "feedback": "ok on listen"})
	if w.Code != http.StatusOK {
		t.Fatalf("review: %d %s", w.Code, w.Body.String())
	}
	var reviewed responses.Response
	decode(t, w, &reviewed)
	if reviewed.Disposition.Kind != responses.DispositionApproved {
		t.Fatalf("expected approved, got %s", reviewed.Disposition.Kind)
	}

	if w := e.do(t, interviewer1, http.MethodPost, "/v1/responses", gin.H{"sessionId": "x"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for incomplete submission, got %d", w.Code)
	}
}

func TestCallRecording_OwnershipAndArchive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if err := e.store.Put(ctx, "recordings/s1/c1.mp3", "audio/mpeg", strings.NewReader("mp3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	for _, r := range []calls.Record{
		{ID: "c1", SurveyID: "s1", InterviewerID: "int-1", RecordingKey: "recordings/s1/c1.mp3", WebhookReceived: true},
		{ID: "c2", SurveyID: "s1", InterviewerID: "int-1", WebhookReceived: true},
	} {
		if err := e.calls.Create(ctx, r); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	w := e.do(t, interviewer1, http.MethodGet, "/v1/calls/c1/recording", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "recordings/s1/c1.mp3") {
		t.Fatalf("owner fetch: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, interviewer2, http.MethodGet, "/v1/calls/c1/recording", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for other interviewer, got %d", w.Code)
	}
	if w := e.do(t, reviewer, http.MethodGet, "/v1/calls/c1/recording", nil); w.Code != http.StatusOK {
		t.Fatalf("expected reviewer access, got %d", w.Code)
	}
	if w := e.do(t, interviewer1, http.MethodGet, "/v1/calls/c2/recording", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unarchived recording, got %d", w.Code)
	}
	if w := e.do(t, interviewer1, http.MethodGet, "/v1/calls/missing/recording", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown call, got %d", w.Code)
	}
}

func writeContactSheet(t *testing.T) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	if err != nil {
		t.Fatalf("sheet: %v", err)
	}
	for _, cells := range [][]string{
		{"Name", "Contact Number", "AC"},
		{"Ravi", "9811111111", "Jadavpur"},
		{"Mina", "9822222222", "Jadavpur"},
		{"Nobody", "", ""},
	} {
		row := sheet.AddRow()
		for _, c := range cells {
			row.AddCell().SetString(c)
		}
	}
	p := filepath.Join(t.TempDir(), "contacts.xlsx")
	if err := f.Save(p); err != nil {
		t.Fatalf("save: %v", err)
	}
	return p
}

func TestAdmin_ImportStatsAndAudit(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, interviewer1, http.MethodGet, "/v1/admin/surveys/s1/queue/stats", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for interviewer, got %d", w.Code)
	}

	w := e.do(t, manager, http.MethodPost, "/v1/admin/surveys/s1/queue/import", gin.H{"path": writeContactSheet(t)})
	if w.Code != http.StatusOK {
		t.Fatalf("import: %d %s", w.Code, w.Body.String())
	}
	var imported struct {
		Result  queue.InitResult `json:"result"`
		Dropped int              `json:"dropped_rows"`
	}
	decode(t, w, &imported)
	if imported.Result.Inserted != 2 || imported.Dropped != 1 {
		t.Fatalf("unexpected import result %+v", imported)
	}

	w = e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/queue/stats", nil)
	var st queue.Stats
	decode(t, w, &st)
	if st.Total != 3 || st.ByStatus[queue.StatusPending] != 3 {
		t.Fatalf("unexpected stats %+v", st)
	}

	events := e.audits.Find(audit.Filter{SurveyID: "s1", Type: audit.EventTypeAdminAction})
	if len(events) != 1 || events[0].Type != audit.EventTypeAdminAction || events[0].ActorUserID != "pm-1" {
		t.Fatalf("expected one admin audit event, got %+v", events)
	}

	if w := e.do(t, manager, http.MethodPost, "/v1/admin/surveys/s1/queue/import", gin.H{"path": "/nope.xlsx"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing sheet, got %d", w.Code)
	}
	if w := e.do(t, manager, http.MethodPost, "/v1/admin/surveys/s1/queue/reset-stuck", gin.H{"older_than": "soon"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad duration, got %d", w.Code)
	}
	if w := e.do(t, manager, http.MethodPost, "/v1/admin/surveys/s1/queue/reset-stuck", nil); w.Code != http.StatusOK {
		t.Fatalf("reset stuck: %d", w.Code)
	}
}

func TestAdmin_DuplicatesAndStatistics(t *testing.T) {
	e := newEnv(t)

	if w := e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/duplicates?mode=video", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", w.Code)
	}
	w := e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/duplicates?mode=phone", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"duplicates":0`) {
		t.Fatalf("duplicate report: %d %s", w.Code, w.Body.String())
	}
	if w := e.do(t, manager, http.MethodPost, "/v1/admin/surveys/s1/duplicates/apply", nil); w.Code != http.StatusOK {
		t.Fatalf("apply: %d %s", w.Code, w.Body.String())
	}

	if w := e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/calls/summary?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	w = e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/calls/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, manager, http.MethodGet, "/v1/admin/surveys/s1/progress", nil)
	var p reporting.SurveyProgress
	decode(t, w, &p)
	if w.Code != http.StatusOK || p.Queue.Total != 1 {
		t.Fatalf("progress: %d %+v", w.Code, p)
	}
}
