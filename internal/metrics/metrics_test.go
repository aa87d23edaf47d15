package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.AuthSuccess("password")
	m.AuthSuccess("password")
	m.AuthFailure("password", "invalid_credentials")
	m.TokenIssued("login")
	m.Registered("direct")
	m.OTPIssued()
	m.OTPVerified(true)
	m.OTPVerified(false)
	m.OTPVerified(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authSuccesses.WithLabelValues("password")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures.WithLabelValues("password", "invalid_credentials")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenGenerations.WithLabelValues("login")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("direct")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otpVerifications.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.otpVerifications.WithLabelValues(ResultFailure)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.AuthSuccess("password")
		m.AuthFailure("password", "x")
		m.TokenIssued("login")
		m.Registered("direct")
		m.OTPIssued()
		m.OTPVerified(true)
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
	})
}

func TestHandler_Exposition(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/login", http.StatusUnauthorized, 5*time.Millisecond)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body),
		`http_requests_total{method="POST",route="/login",status="401"} 1`), "exposition:\n%s", body)
}

func TestNewRegistriesAreIndependent(t *testing.T) {
	// Two instances must not panic with duplicate registration.
	a, b := New(), New()
	a.OTPIssued()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.otpIssued))
}
