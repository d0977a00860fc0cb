package logger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestDetachKeepsLoggerDropsCancel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("local", &buf)

	ctx, cancel := context.WithCancel(With(context.Background(), l))
	cancel()

	d := Detach(ctx)
	if d.Err() != nil {
		t.Fatalf("expected detached context to be live, got %v", d.Err())
	}
	From(d).Info("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected detached logger to write to the original sink")
	}
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(Middleware(NewWithWriter("local", &buf)))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", w.Header().Get(headerRequestID))
	}
	if !strings.Contains(buf.String(), `"request_id":"rid-1"`) {
		t.Fatalf("expected request_id in logs, got %s", buf.String())
	}
}
