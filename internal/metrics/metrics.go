// Package metrics holds the Prometheus collectors for the account service.
//
// Collectors are registered on a caller-supplied registry rather than the
// global default one, so tests and multiple servers in one process do not
// collide.
package metrics

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics is the set of collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	authSuccesses    *prometheus.CounterVec
	authFailures     *prometheus.CounterVec
	tokenGenerations *prometheus.CounterVec
	registrations    *prometheus.CounterVec
	otpIssued        prometheus.Counter
	otpVerifications *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go and process
// collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		authSuccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_successes",
			Help: "Count of successful authentications",
		}, []string{"method"}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_failures",
			Help: "Count of failed authentications",
		}, []string{"method", "reason"}),
		tokenGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_generations",
			Help: "Count of session tokens issued",
		}, []string{"method"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "account_registrations",
			Help: "Count of completed registrations",
		}, []string{"flow"}),
		otpIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "otp_issued",
			Help: "Count of one-time passcodes issued",
		}),
		otpVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_verifications",
			Help: "Count of OTP verification attempts",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Count of HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authSuccesses,
		m.authFailures,
		m.tokenGenerations,
		m.registrations,
		m.otpIssued,
		m.otpVerifications,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// RegisterDB exports connection pool statistics for db under the given name.
func (m *Metrics) RegisterDB(db *sql.DB, name string) error {
	return m.registry.Register(collectors.NewDBStatsCollector(db, name))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) AuthSuccess(method string) {
	if m == nil {
		return
	}
	m.authSuccesses.WithLabelValues(method).Inc()
}

func (m *Metrics) AuthFailure(method, reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(method, reason).Inc()
}

func (m *Metrics) TokenIssued(method string) {
	if m == nil {
		return
	}
	m.tokenGenerations.WithLabelValues(method).Inc()
}

func (m *Metrics) Registered(flow string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(flow).Inc()
}

func (m *Metrics) OTPIssued() {
	if m == nil {
		return
	}
	m.otpIssued.Inc()
}

func (m *Metrics) OTPVerified(ok bool) {
	if m == nil {
		return
	}
	result := ResultFailure
	if ok {
		result = ResultSuccess
	}
	m.otpVerifications.WithLabelValues(result).Inc()
}

// ObserveHTTP records one finished request. route is the chi pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
