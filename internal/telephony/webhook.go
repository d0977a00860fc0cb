package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"survey-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// EventSink receives normalized webhook events. Reconciliation lives behind it.
type EventSink interface {
	Apply(ctx context.Context, ev WebhookEvent) error
}

// WebhookMetrics is the counter surface the handler reports to.
type WebhookMetrics interface {
	WebhookReceived(provider string)
	WebhookDropped(provider, reason string)
}

// WebhookHandler acknowledges vendor webhooks immediately and reconciles
// afterwards. Vendors retry slow acknowledgements, so nothing (parsing
// included) happens before the 200 is written. Failures after the ack are
// logged and dropped: nobody is waiting for them.
type WebhookHandler struct {
	Registry *Registry
	Sink     EventSink
	Metrics  WebhookMetrics

	// Timeout bounds background reconciliation of one webhook.
	Timeout time.Duration
	Now     func() time.Time
	// Go runs the background work. Defaults to a plain goroutine.
	Go func(func())
}

const defaultReconcileTimeout = 30 * time.Second

// Handle serves GET and POST /webhooks/:provider.
func (h WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	provider := c.Param("provider")
	receivedAt := h.Now().UTC()

	raw, captureErr := CaptureRequest(c.Request, MaxWebhookBody)

	c.JSON(http.StatusOK, gin.H{"status": "received"})
	c.Writer.Flush()

	if h.Metrics != nil {
		h.Metrics.WebhookReceived(provider)
	}
	if captureErr != nil {
		log.Warn("webhook body unreadable; dropped", slog.String("provider", provider), slog.Any("err", captureErr))
		h.dropped(provider, "unreadable")
		return
	}

	ctx := logger.Detach(c.Request.Context())
	run := h.Go
	if run == nil {
		run = func(f func()) { go f() }
	}
	run(func() { h.process(ctx, provider, raw, receivedAt) })
}

func (h WebhookHandler) process(ctx context.Context, provider string, raw RawRequest, receivedAt time.Time) {
	log := logger.From(ctx).With(slog.String("provider", provider))
	defer func() {
		if r := recover(); r != nil {
			log.Error("webhook reconciliation panicked", slog.String("panic", fmt.Sprint(r)))
			h.dropped(provider, "panic")
		}
	}()

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultReconcileTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if h.Registry == nil || h.Sink == nil {
		log.Error("webhook handler not configured")
		h.dropped(provider, "unconfigured")
		return
	}
	n, err := h.Registry.Normalizer(provider)
	if err != nil {
		log.Warn("webhook for unknown provider dropped", slog.Any("err", err))
		h.dropped(provider, "unknown_provider")
		return
	}
	p, err := ParsePayload(raw)
	if err != nil {
		log.Warn("malformed webhook dropped", slog.Any("err", err))
		h.dropped(provider, "malformed")
		return
	}
	ev, err := n.Normalize(p, receivedAt)
	if err != nil {
		log.Warn("unidentifiable webhook dropped", slog.Any("err", err))
		h.dropped(provider, "no_call_identity")
		return
	}
	if ev.StatusFallback {
		log.Warn("unrecognized call status; defaulted to completed",
			slog.String("provider_call_id", ev.ProviderCallID), slog.String("raw_status", ev.RawStatus))
	}

	if err := h.Sink.Apply(ctx, ev); err != nil {
		log.Error("webhook reconciliation failed",
			slog.String("provider_call_id", ev.ProviderCallID), slog.Any("err", err))
		h.dropped(provider, "reconcile_failed")
	}
}

func (h WebhookHandler) dropped(provider, reason string) {
	if h.Metrics != nil {
		h.Metrics.WebhookDropped(provider, reason)
	}
}
