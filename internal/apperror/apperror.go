package apperror

import (
	"errors"
	"fmt"
)

// Categories. The HTTP layer maps each of these to one status code.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
	ErrState        = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)

// Code identifies a specific failure inside a category.
type Code string

const (
	CodeDuplicateEmail     Code = "duplicate_email"
	CodeMissingCredentials Code = "missing_credentials"
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeMissingToken       Code = "missing_token"
	CodeMalformedToken     Code = "malformed_token"
	CodeExpiredToken       Code = "expired_token"
	CodeInvalidToken       Code = "invalid_token"
	CodeAccountNotFound    Code = "account_not_found"
	CodeAlreadyRegistered  Code = "already_registered"
	CodeOtpMismatch        Code = "otp_mismatch"
	CodePhoneNotVerified   Code = "phone_not_verified"
)

// Account failure kinds. Compare with errors.Is; the match is on Code, so a
// copy carrying a different Message still matches.
var (
	ErrDuplicateEmail     = &AppError{Err: ErrConflict, Code: CodeDuplicateEmail, Message: "Email already registered.", Field: "email"}
	ErrMissingCredentials = &AppError{Err: ErrValidation, Code: CodeMissingCredentials, Message: "Email and password are required."}
	ErrInvalidCredentials = &AppError{Err: ErrUnauthorized, Code: CodeInvalidCredentials, Message: "Invalid email or password."}
	ErrMissingToken       = &AppError{Err: ErrUnauthorized, Code: CodeMissingToken, Message: "Token is missing."}
	ErrMalformedToken     = &AppError{Err: ErrUnauthorized, Code: CodeMalformedToken, Message: "Invalid token format. Use 'Bearer <token>'"}
	ErrExpiredToken       = &AppError{Err: ErrUnauthorized, Code: CodeExpiredToken, Message: "Token has expired."}
	ErrInvalidToken       = &AppError{Err: ErrUnauthorized, Code: CodeInvalidToken, Message: "Invalid token."}
	ErrAccountNotFound    = &AppError{Err: ErrNotFound, Code: CodeAccountNotFound, Message: "User not found."}
	ErrAlreadyRegistered  = &AppError{Err: ErrState, Code: CodeAlreadyRegistered, Message: "Mobile number already registered."}
	ErrOtpMismatch        = &AppError{Err: ErrState, Code: CodeOtpMismatch, Message: "Invalid mobile number or OTP"}
	ErrPhoneNotVerified   = &AppError{Err: ErrState, Code: CodePhoneNotVerified, Message: "Please verify your phone number first."}
)

type AppError struct {
	Err     error  // category sentinel
	Code    Code   // Optional: specific failure kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another *AppError with the same non-empty Code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of e carrying a different message.
func (e *AppError) WithMessage(message string) *AppError {
	c := *e
	c.Message = message
	return &c
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unavailable reports that a dependency (the database) did not answer in time.
// HTTP handlers map this to 503 Service Unavailable.
func Unavailable(message string) *AppError {
	return &AppError{
		Err:     ErrUnavailable,
		Message: message,
	}
}
