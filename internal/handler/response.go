package handler

// RESPONSE HELPERS:
// Every account endpoint answers with the same envelope:
//
//	{"status": "1", "message": "Login successful", "result": {...}}
//	{"status": "0", "message": "Invalid email or password."}
//
// "1" marks success and "0" failure, independent of the HTTP status code.
// Handlers build the envelope with ok/fail and never set headers themselves.

import (
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/sakif/account-service/internal/apperror"
)

const (
	statusOK   = "1"
	statusFail = "0"
)

// Envelope is the JSON body of every account response.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	UserID  *int64 `json:"user_id,omitempty"`
	Result  any    `json:"result,omitempty"`
}

// writeJSON renders data as JSON with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	render.Status(r, status)
	render.JSON(w, r, data)
}

func writeOK(w http.ResponseWriter, r *http.Request, status int, message string, result any) {
	writeJSON(w, r, status, Envelope{Status: statusOK, Message: message, Result: result})
}

func writeFail(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, Envelope{Status: statusFail, Message: message})
}

// errorPolicy tunes writeError for one endpoint.
type errorPolicy struct {
	// internal is sent in place of any unexpected error's text.
	internal string
	// conflictStatus overrides 409 for apperror.ErrConflict; zero keeps 409.
	conflictStatus int
}

// writeError maps an error from the service layer to a status code and a
// failure envelope.
//
// ERROR MAPPING:
//
//	ErrValidation   → 400
//	ErrState        → 400
//	ErrUnauthorized → 401
//	ErrForbidden    → 403
//	ErrNotFound     → 404
//	ErrConflict     → 409 (or policy.conflictStatus)
//	ErrUnavailable  → 503
//	anything else   → 500 with policy.internal
//
// Only *apperror.AppError messages reach the client. Anything else is
// logged with the request id and replaced by a generic message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error, policy errorPolicy) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := statusFor(err, policy)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("requestID", chimiddleware.GetReqID(r.Context())),
				slog.String("error", err.Error()),
			)
		}
		writeFail(w, r, status, appErr.Message)
		return
	}

	logger.Error("request failed",
		slog.String("requestID", chimiddleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)

	message := policy.internal
	if message == "" {
		message = "Internal server error"
	}
	writeFail(w, r, http.StatusInternalServerError, message)
}

func statusFor(err error, policy errorPolicy) int {
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrState):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		if policy.conflictStatus != 0 {
			return policy.conflictStatus
		}
		return http.StatusConflict
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
