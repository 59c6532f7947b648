package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice assistant. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions       prometheus.Gauge
	SessionsCreated      prometheus.Counter
	SessionsDestroyed    *prometheus.CounterVec
	SessionLifetime      prometheus.Histogram
	AuthenticationErrors prometheus.Counter
	CoalescedResolves    prometheus.Counter

	// Dialogue metrics
	IntentsHandled *prometheus.CounterVec
	IntentDuration *prometheus.HistogramVec

	// Upstream platform metrics
	PlatformCalls        *prometheus.CounterVec
	PlatformCallDuration *prometheus.HistogramVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_active_sessions",
			Help: "Current number of authenticated platform sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_sessions_created_total",
			Help: "Total number of platform sessions created",
		}),
		SessionsDestroyed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_sessions_destroyed_total",
			Help: "Total number of platform sessions destroyed",
		}, []string{"reason"}),
		SessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_session_lifetime_seconds",
			Help:    "Lifetime of platform sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),
		AuthenticationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_authentication_errors_total",
			Help: "Total number of failed platform logons",
		}),
		CoalescedResolves: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_coalesced_resolves_total",
			Help: "Total number of resolves that shared an in-flight logon",
		}),

		IntentsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_intents_handled_total",
			Help: "Total number of dialogue turns handled",
		}, []string{"intent", "outcome"}),
		IntentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_intent_duration_seconds",
			Help:    "Time spent handling a dialogue turn",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}, []string{"intent"}),

		PlatformCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_platform_calls_total",
			Help: "Total number of Circuit API calls",
		}, []string{"operation", "result"}),
		PlatformCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_platform_call_duration_seconds",
			Help:    "Duration of Circuit API calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"operation"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetActiveSessions sets the current number of live sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionDestroyed counts a teardown and records the session lifetime
func (m *Metrics) RecordSessionDestroyed(reason string, lifetimeSeconds float64) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.WithLabelValues(reason).Inc()
	m.SessionLifetime.Observe(lifetimeSeconds)
}

// RecordAuthenticationError increments the failed logon counter
func (m *Metrics) RecordAuthenticationError() {
	if m == nil {
		return
	}
	m.AuthenticationErrors.Inc()
}

// RecordCoalescedResolve counts a resolve that waited on another caller's logon
func (m *Metrics) RecordCoalescedResolve() {
	if m == nil {
		return
	}
	m.CoalescedResolves.Inc()
}

// RecordIntent records a handled dialogue turn
func (m *Metrics) RecordIntent(intent, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.IntentsHandled.WithLabelValues(intent, outcome).Inc()
	m.IntentDuration.WithLabelValues(intent).Observe(durationSeconds)
}

// RecordPlatformCall records a single Circuit API call
func (m *Metrics) RecordPlatformCall(operation string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.PlatformCalls.WithLabelValues(operation, result).Inc()
	m.PlatformCallDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
