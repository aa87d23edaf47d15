package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/account-service/internal/handler"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name         string
		pingErr      error
		wantStatus   string
		wantDatabase string
	}{
		{"database up", nil, "healthy", "healthy"},
		{"database down", errors.New("connection refused"), "unhealthy", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handler.NewHealthHandler(fakePinger{err: tt.pingErr}, testLogger())

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			// Always 200; the body carries the verdict.
			assert.Equal(t, http.StatusOK, rr.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, tt.wantStatus, body["status"])
			assert.Equal(t, tt.wantDatabase, body["database"])
			assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, body["timestamp"])
			assert.NotContains(t, rr.Body.String(), "connection refused")
		})
	}
}

func TestHandleRoot(t *testing.T) {
	h := handler.NewHealthHandler(fakePinger{}, testLogger())

	rr := httptest.NewRecorder()
	h.HandleRoot(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Welcome to the API"}`, rr.Body.String())
}

func TestHandleNotFound(t *testing.T) {
	h := handler.NewHealthHandler(fakePinger{}, testLogger())

	rr := httptest.NewRecorder()
	h.HandleNotFound(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"status":"0","message":"Endpoint not found"}`, rr.Body.String())
}

func TestHandleMethodNotAllowed(t *testing.T) {
	h := handler.NewHealthHandler(fakePinger{}, testLogger())

	rr := httptest.NewRecorder()
	h.HandleMethodNotAllowed(rr, httptest.NewRequest(http.MethodDelete, "/login", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.JSONEq(t, `{"status":"0","message":"Method not allowed"}`, rr.Body.String())
}
