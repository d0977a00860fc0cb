package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type blockingSink struct {
	release chan struct{}
	done    chan WebhookEvent
}

func (s *blockingSink) Apply(ctx context.Context, ev WebhookEvent) error {
	<-s.release
	s.done <- ev
	return nil
}

type countingMetrics struct {
	mu       sync.Mutex
	received int
	dropped  map[string]int
}

func (m *countingMetrics) WebhookReceived(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
}

func (m *countingMetrics) WebhookDropped(provider, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropped == nil {
		m.dropped = map[string]int{}
	}
	m.dropped[reason]++
}

func newWebhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/:provider", h.Handle)
	r.GET("/webhooks/:provider", h.Handle)
	return r
}

func testRegistry() *Registry {
	reg := NewRegistry(ProviderDeepCall)
	reg.Register(nil, NewDeepCallNormalizer())
	reg.Register(nil, NewCloudTelephonyNormalizer())
	return reg
}

func TestWebhookHandler_AcksBeforeReconciling(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), done: make(chan WebhookEvent, 1)}
	h := WebhookHandler{Registry: testRegistry(), Sink: sink, Timeout: time.Second}
	r := newWebhookRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/deepcall", strings.NewReader(`{"callId":"DC-1","callStatus":"4"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"received"`) {
		t.Fatalf("expected immediate ack, got %d %s", w.Code, w.Body.String())
	}

	close(sink.release)
	select {
	case ev := <-sink.done:
		if ev.ProviderCallID != "DC-1" || ev.Status != "busy" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reconciliation never ran")
	}
}

func TestWebhookHandler_MalformedPayloadStillAcked(t *testing.T) {
	m := &countingMetrics{}
	sink := &blockingSink{release: make(chan struct{}), done: make(chan WebhookEvent, 1)}
	close(sink.release)
	h := WebhookHandler{
		Registry: testRegistry(),
		Sink:     sink,
		Metrics:  m,
		Go:       func(f func()) { f() },
	}
	r := newWebhookRouter(h)

	for _, tc := range []struct {
		target, body, reason string
	}{
		{"/webhooks/deepcall", `{"callId":`, "malformed"},
		{"/webhooks/deepcall", `{"callStatus":"4"}`, "no_call_identity"},
		{"/webhooks/acme", `{"callId":"X"}`, "unknown_provider"},
	} {
		req := httptest.NewRequest(http.MethodPost, tc.target, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.reason, w.Code)
		}
		if m.dropped[tc.reason] != 1 {
			t.Fatalf("expected drop reason %s, got %v", tc.reason, m.dropped)
		}
	}
	if m.received != 3 {
		t.Fatalf("expected 3 received, got %d", m.received)
	}
	select {
	case ev := <-sink.done:
		t.Fatalf("sink must not see dropped webhooks, got %+v", ev)
	default:
	}
}

func TestWebhookHandler_QueryStringWebhook(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{}), done: make(chan WebhookEvent, 1)}
	close(sink.release)
	h := WebhookHandler{Registry: testRegistry(), Sink: sink, Go: func(f func()) { f() }}
	r := newWebhookRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/cloudtelephony?CallSid=CT-5&Status=BUSY", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	ev := <-sink.done
	if ev.ProviderCallID != "CT-5" || ev.Status != "busy" || ev.Provider != ProviderCloudTelephony {
		t.Fatalf("unexpected event %+v", ev)
	}
}
