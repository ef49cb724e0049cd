// Package telemetry is the gateway's Telemetry Sink (spec §4.7/§9): the
// counters, histograms and span hooks every other component calls into.
// The concrete implementation is Prometheus; callers depend only on the
// Sink interface so the backend can be swapped without touching dispatch
// logic.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink is what the dispatcher, pushkins and auth caches call to record
// telemetry. Implementations must be safe for concurrent use.
type Sink interface {
	NotificationReceived()
	DeviceDispatched(pushkin string)
	Outcome(pushkin, outcome string)
	TokenRefresh(pushkin string, success bool)
	InFlight(pushkin string) (release func())
	HTTPResponse(statusClass string)
	NotifyDuration(statusClass string, d time.Duration)
	// Span is a no-op seam for the OpenTracing/Sentry collaborators spec
	// treats as external; wiring a real tracer means implementing this on
	// top of one, without changing any caller.
	Span(name string) (end func())
}

// Noop discards everything; it's the zero-value default for callers that
// are given no Sink (e.g. in tests or before a gateway.Server wires one in).
type Noop struct{}

func (Noop) NotificationReceived()                {}
func (Noop) DeviceDispatched(string)               {}
func (Noop) Outcome(string, string)                {}
func (Noop) TokenRefresh(string, bool)             {}
func (Noop) InFlight(string) (release func())      { return func() {} }
func (Noop) HTTPResponse(string)                   {}
func (Noop) NotifyDuration(string, time.Duration)  {}
func (Noop) Span(string) (end func())              { return func() {} }

var _ Sink = Noop{}

// Prometheus is the concrete Sink backed by client_golang, registered
// against its own registry so the gateway can be embedded without
// colliding with the default global registry.
type Prometheus struct {
	registry *prometheus.Registry

	notifsReceived   prometheus.Counter
	devicesDispatched *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec
	httpResponses    *prometheus.CounterVec
	notifyDuration   *prometheus.HistogramVec
}

// NewPrometheus builds and registers the gateway's metric set.
func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		notifsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pushgate_notifications_received",
			Help: "Number of notification pokes received.",
		}),
		devicesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgate_per_pushkin_dispatches",
			Help: "Number of device dispatches sent via each pushkin.",
		}, []string{"pushkin"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgate_dispatch_outcomes",
			Help: "Dispatch outcomes by pushkin and outcome class.",
		}, []string{"pushkin", "outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgate_token_refresh_total",
			Help: "Auth token refresh attempts, labelled by pushkin and result.",
		}, []string{"pushkin", "result"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pushgate_requests_in_flight",
			Help: "In-flight outbound requests per pushkin.",
		}, []string{"pushkin"}),
		httpResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pushgate_http_responses_total",
			Help: "HTTP response codes given on the push gateway API, by status class.",
		}, []string{"status_class"}),
		notifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pushgate_notify_seconds",
			Help:    "Time taken to handle a /notify request.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status_class"}),
	}
	reg.MustRegister(
		p.notifsReceived, p.devicesDispatched, p.outcomes,
		p.tokenRefreshes, p.inFlight, p.httpResponses, p.notifyDuration,
	)
	return p
}

func (p *Prometheus) NotificationReceived() { p.notifsReceived.Inc() }

func (p *Prometheus) DeviceDispatched(pushkin string) {
	p.devicesDispatched.WithLabelValues(pushkin).Inc()
}

func (p *Prometheus) Outcome(pushkin, outcome string) {
	p.outcomes.WithLabelValues(pushkin, outcome).Inc()
}

func (p *Prometheus) TokenRefresh(pushkin string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	p.tokenRefreshes.WithLabelValues(pushkin, result).Inc()
}

func (p *Prometheus) InFlight(pushkin string) (release func()) {
	g := p.inFlight.WithLabelValues(pushkin)
	g.Inc()
	return func() { g.Dec() }
}

func (p *Prometheus) HTTPResponse(statusClass string) {
	p.httpResponses.WithLabelValues(statusClass).Inc()
}

func (p *Prometheus) NotifyDuration(statusClass string, d time.Duration) {
	p.notifyDuration.WithLabelValues(statusClass).Observe(d.Seconds())
}

// Span is a no-op: OpenTracing/Sentry wiring is an external collaborator
// per spec §1; this seam exists so it can be added without touching
// callers.
func (p *Prometheus) Span(string) (end func()) { return func() {} }

// Handler exposes the registered metrics for text exposition at
// /_matrix/metrics and /metrics (spec §6).
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
