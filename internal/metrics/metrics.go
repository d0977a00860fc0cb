package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"survey-platform/internal/queue"
)

const Namespace = "survey"

// Collector owns a private Prometheus registry and implements the counter
// interfaces of the webhook handler, queue, reconciler, dialer and response service.
type Collector struct {
	registry *prometheus.Registry

	WebhooksReceived    *prometheus.CounterVec
	WebhooksDropped     *prometheus.CounterVec
	QueueAssignments    *prometheus.CounterVec
	QueueTransitions    *prometheus.CounterVec
	CallsReconciled     *prometheus.CounterVec
	CallsInitiated      *prometheus.CounterVec
	ResponsesClassified *prometheus.CounterVec
	DuplicatesMarked    prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "webhooks_received_total",
			Help:      "Telephony webhooks received, by provider",
		}, []string{"provider"}),
		WebhooksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "webhooks_dropped_total",
			Help:      "Telephony webhooks acknowledged but not applied",
		}, []string{"provider", "reason"}),
		QueueAssignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_assignments_total",
			Help:      "Respondents handed to interviewers, by selection stage",
		}, []string{"stage"}),
		QueueTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "queue_transitions_total",
			Help:      "Queue entry status transitions",
		}, []string{"from", "to"}),
		CallsReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_reconciled_total",
			Help:      "Webhook events merged into call records",
		}, []string{"provider", "status"}),
		CallsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "calls_initiated_total",
			Help:      "Click-to-call requests sent to providers",
		}, []string{"provider", "result"}),
		ResponsesClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "responses_classified_total",
			Help:      "Survey responses classified, by disposition",
		}, []string{"disposition"}),
		DuplicatesMarked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "duplicates_marked_total",
			Help:      "Responses marked as duplicates",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		c.WebhooksReceived,
		c.WebhooksDropped,
		c.QueueAssignments,
		c.QueueTransitions,
		c.CallsReconciled,
		c.CallsInitiated,
		c.ResponsesClassified,
		c.DuplicatesMarked,
		c.HTTPRequestsTotal,
		c.HTTPRequestDuration,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the private registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) WebhookReceived(provider string) {
	c.WebhooksReceived.WithLabelValues(provider).Inc()
}

func (c *Collector) WebhookDropped(provider, reason string) {
	c.WebhooksDropped.WithLabelValues(provider, reason).Inc()
}

func (c *Collector) Assigned(_ context.Context, _ queue.Entry, stage string) {
	c.QueueAssignments.WithLabelValues(stage).Inc()
}

func (c *Collector) Transitioned(_ context.Context, e queue.Entry, from queue.Status, _ string) {
	c.QueueTransitions.WithLabelValues(string(from), string(e.Status)).Inc()
}

func (c *Collector) CallReconciled(provider, status string) {
	c.CallsReconciled.WithLabelValues(provider, status).Inc()
}

func (c *Collector) CallInitiated(provider string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	c.CallsInitiated.WithLabelValues(provider, result).Inc()
}

func (c *Collector) ResponseClassified(disposition string) {
	c.ResponsesClassified.WithLabelValues(disposition).Inc()
}

func (c *Collector) DuplicateMarked() { c.DuplicatesMarked.Inc() }

// Middleware records request counts and latency by route template, so path
// parameters do not explode label cardinality.
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(g *gin.Context) {
		start := time.Now()
		g.Next()
		route := g.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := g.Request.Method
		c.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(g.Writer.Status())).Inc()
		c.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
