package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/schema"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/service"
)

// maxFormBytes caps request bodies; multipart parts above maxFormMemory
// spill to temporary files.
const (
	maxFormBytes  = 1 << 20
	maxFormMemory = 32 << 10
)

// createdAtLayout is the timestamp format used in every response.
const createdAtLayout = "2006-01-02 15:04:05"

// AccountService is the subset of service.AccountService the handlers call.
// Tests substitute a stub.
type AccountService interface {
	Register(ctx context.Context, in service.RegisterInput) (*model.Account, error)
	Login(ctx context.Context, email, password string) (*service.Session, error)
	GetAccount(ctx context.Context, credential string) (*model.Account, error)
	RequestOtp(ctx context.Context, mobile string) (*service.OtpIssuance, error)
	VerifyOtp(ctx context.Context, mobile, code string) (*model.Account, error)
	CompleteRegistration(ctx context.Context, in service.CompleteRegistrationInput) (*service.Session, error)
}

// AccountHandler serves the account endpoints.
//
// FORM INPUT:
// Every POST endpoint takes application/x-www-form-urlencoded or
// multipart/form-data. Fields are decoded into the *Form structs below with
// gorilla/schema; a missing field decodes as "" and the service reports it.
type AccountHandler struct {
	accounts AccountService
	decoder  *schema.Decoder
	logger   *slog.Logger
}

func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	return &AccountHandler{
		accounts: accounts,
		decoder:  decoder,
		logger:   logger,
	}
}

// =========================================================================
// REQUEST FORMS
// =========================================================================

type registerForm struct {
	Name     string `schema:"name"`
	Email    string `schema:"email"`
	Password string `schema:"password"`
	Mobile   string `schema:"mobile"`
	DeviceID string `schema:"device_id"`
}

type loginForm struct {
	Email    string `schema:"email"`
	Password string `schema:"password"`
}

type sendOtpForm struct {
	Mobile string `schema:"mobile"`
}

type verifyOtpForm struct {
	Mobile string `schema:"mobile"`
	OTP    string `schema:"otp"`
}

type registerVerifiedForm struct {
	Mobile   string `schema:"mobile"`
	Name     string `schema:"name"`
	Email    string `schema:"email"`
	Password string `schema:"password"`
	DeviceID string `schema:"device_id"`
}

// =========================================================================
// RESPONSE RESULTS
// =========================================================================
//
// Optional columns are *string so they render as null when unset.
// None of these carry the password hash.

type registerResult struct {
	UserID    int64   `json:"user_id"`
	UserName  string  `json:"user_name"`
	Email     string  `json:"email"`
	Mobile    *string `json:"mobile"`
	DeviceID  *string `json:"device_id"`
	CreatedAt string  `json:"created_at"`
}

type loginResult struct {
	ID          string  `json:"id"`
	UserName    string  `json:"user_name"`
	Email       string  `json:"email"`
	CreatedAt   string  `json:"created_at"`
	DeviceID    *string `json:"device_id"`
	AccessToken string  `json:"access_token"`
}

type accountResult struct {
	ID        string  `json:"id"`
	UserName  string  `json:"user_name"`
	Email     string  `json:"email"`
	CreatedAt string  `json:"created_at"`
	DeviceID  *string `json:"device_id"`
	Status    int     `json:"status"`
}

type otpResult struct {
	Mobile string `json:"mobile"`
	OTP    string `json:"otp"`
}

type verifyResult struct {
	Mobile     string `json:"mobile"`
	IsVerified bool   `json:"is_verified"`
}

type registerVerifiedResult struct {
	ID          string  `json:"id"`
	UserName    string  `json:"user_name"`
	Email       string  `json:"email"`
	Mobile      string  `json:"mobile"`
	CreatedAt   string  `json:"created_at"`
	DeviceID    *string `json:"device_id"`
	Status      string  `json:"status"`
	AccessToken string  `json:"access_token"`
}

// =========================================================================
// ENDPOINTS
// =========================================================================

// HandleRegister creates an active account directly.
//
// HTTP: POST /register
// FORM: name, email, password, [mobile], [device_id]
// 201 on success, with the new id also at the top level as user_id.
func (h *AccountHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	policy := errorPolicy{internal: "Registration failed."}

	var form registerForm
	if !h.decode(w, r, &form, policy) {
		return
	}

	account, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		Mobile:   form.Mobile,
		DeviceID: form.DeviceID,
	})
	if err != nil {
		writeError(w, r, h.logger, err, policy)
		return
	}

	p := account.Profile
	id := account.ID
	writeJSON(w, r, http.StatusCreated, Envelope{
		Status:  statusOK,
		Message: "New User Register Successfully.",
		UserID:  &id,
		Result: registerResult{
			UserID:    account.ID,
			UserName:  p.FullName,
			Email:     p.Email,
			Mobile:    optional(account.Mobile),
			DeviceID:  optional(p.DeviceID),
			CreatedAt: account.CreatedAt.Format(createdAtLayout),
		},
	})
}

// HandleLogin exchanges email and password for an access token.
//
// HTTP: POST /login
// FORM: email, password
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	policy := errorPolicy{internal: "Login failed."}

	var form loginForm
	if !h.decode(w, r, &form, policy) {
		return
	}

	session, err := h.accounts.Login(r.Context(), form.Email, form.Password)
	if err != nil {
		writeError(w, r, h.logger, err, policy)
		return
	}

	a := session.Account
	writeOK(w, r, http.StatusOK, "Login successful", loginResult{
		ID:          formatID(a.ID),
		UserName:    a.Profile.FullName,
		Email:       a.Profile.Email,
		CreatedAt:   a.CreatedAt.Format(createdAtLayout),
		DeviceID:    optional(a.Profile.DeviceID),
		AccessToken: session.Token,
	})
}

// HandleGetAccount returns the account behind the bearer token.
//
// HTTP: GET /user
// HEADER: Authorization: Bearer <token>
func (h *AccountHandler) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetAccount(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, r, h.logger, err, errorPolicy{internal: "Could not load user details."})
		return
	}

	result := accountResult{
		ID:        formatID(account.ID),
		CreatedAt: account.CreatedAt.Format(createdAtLayout),
	}
	if p := account.Profile; p != nil {
		result.UserName = p.FullName
		result.Email = p.Email
		result.DeviceID = optional(p.DeviceID)
	}
	if account.Active {
		result.Status = 1
	}

	writeOK(w, r, http.StatusOK, "User details retrieved successfully", result)
}

// HandleSendOtp issues a one-time code for a mobile number. With no delivery
// channel, the code is returned in the response.
//
// HTTP: POST /send-otp
// FORM: mobile
func (h *AccountHandler) HandleSendOtp(w http.ResponseWriter, r *http.Request) {
	policy := errorPolicy{internal: "Error sending OTP."}

	var form sendOtpForm
	if !h.decode(w, r, &form, policy) {
		return
	}

	issued, err := h.accounts.RequestOtp(r.Context(), form.Mobile)
	if err != nil {
		writeError(w, r, h.logger, err, policy)
		return
	}

	writeOK(w, r, http.StatusOK, "OTP sent successfully", otpResult{
		Mobile: issued.Mobile,
		OTP:    issued.Code,
	})
}

// HandleVerifyOtp checks a one-time code.
//
// HTTP: POST /verify-otp
// FORM: mobile, otp
func (h *AccountHandler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	policy := errorPolicy{internal: "Error verifying OTP."}

	var form verifyOtpForm
	if !h.decode(w, r, &form, policy) {
		return
	}

	account, err := h.accounts.VerifyOtp(r.Context(), form.Mobile, form.OTP)
	if err != nil {
		writeError(w, r, h.logger, err, policy)
		return
	}

	writeOK(w, r, http.StatusOK, "OTP Verified Successfully", verifyResult{
		Mobile:     account.Mobile,
		IsVerified: account.PhoneVerified,
	})
}

// HandleRegisterVerified completes signup for a verified mobile number.
// A taken email is a 400 here, not a 409.
//
// HTTP: POST /register-verified
// FORM: mobile, name, email, password, [device_id]
func (h *AccountHandler) HandleRegisterVerified(w http.ResponseWriter, r *http.Request) {
	policy := errorPolicy{internal: "Registration error.", conflictStatus: http.StatusBadRequest}

	var form registerVerifiedForm
	if !h.decode(w, r, &form, policy) {
		return
	}

	session, err := h.accounts.CompleteRegistration(r.Context(), service.CompleteRegistrationInput{
		Mobile:   form.Mobile,
		Name:     form.Name,
		Email:    form.Email,
		Password: form.Password,
		DeviceID: form.DeviceID,
	})
	if err != nil {
		writeError(w, r, h.logger, err, policy)
		return
	}

	a := session.Account
	writeOK(w, r, http.StatusOK, "User registered successfully", registerVerifiedResult{
		ID:          formatID(a.ID),
		UserName:    a.Profile.FullName,
		Email:       a.Profile.Email,
		Mobile:      a.Mobile,
		CreatedAt:   a.CreatedAt.Format(createdAtLayout),
		DeviceID:    optional(a.Profile.DeviceID),
		Status:      model.StateActive.String(),
		AccessToken: session.Token,
	})
}

// =========================================================================
// HELPERS
// =========================================================================

// decode parses the request form into dst. On failure it writes a 400 and
// returns false.
func (h *AccountHandler) decode(w http.ResponseWriter, r *http.Request, dst any, policy errorPolicy) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(maxFormMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		err = h.decoder.Decode(dst, r.PostForm)
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeFail(w, r, http.StatusRequestEntityTooLarge, "Request body too large.")
		return false
	}

	h.logger.Debug("form decode failed", slog.String("error", err.Error()))
	writeError(w, r, h.logger, apperror.ValidationFailed("", "Invalid form data."), policy)
	return false
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
