// Package service contains the account business logic.
//
// AccountService sits between the HTTP handlers and the store:
//
//	AccountHandler (HTTP) → AccountService (rules) → repository.Store (DB)
//	                      ↘ TokenService (JWT), PasswordService (bcrypt), otp.Generator
//
// Every failure a caller can act on comes back as an apperror kind
// (apperror.ErrDuplicateEmail, apperror.ErrOtpMismatch, ...). Anything else
// is an internal error wrapped with the operation name.
//
// Mutations run inside one store transaction: the read that checks a rule
// and the write that depends on it commit together or not at all.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/auth"
	"github.com/sakif/account-service/internal/metrics"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/otp"
	"github.com/sakif/account-service/internal/repository"
)

const (
	DefaultOTPTTL    = 5 * time.Minute
	DefaultOpTimeout = 30 * time.Second
)

// Messages for missing required fields, one per operation.
const (
	msgRegisterRequired = "Full name, email, and password are required."
	msgSendOtpRequired  = "Mobile number is required."
	msgVerifyRequired   = "Mobile number and OTP are required."
	msgCompleteRequired = "Mobile, name, email, and password are required."
)

// Registration flows, used as metric labels.
const (
	flowDirect   = "direct"
	flowVerified = "verified"
)

// fieldLabels names input fields in validation messages.
var fieldLabels = map[string]string{
	"name":      "Full name",
	"email":     "Email",
	"password":  "Password",
	"mobile":    "Mobile number",
	"device_id": "Device id",
	"otp":       "OTP",
}

// RegisterInput is the direct registration request.
type RegisterInput struct {
	Name     string `field:"name" validate:"required,max=100"`
	Email    string `field:"email" validate:"required,max=255"`
	Password string `field:"password" validate:"required"`
	Mobile   string `field:"mobile" validate:"max=15"`
	DeviceID string `field:"device_id" validate:"max=255"`
}

// CompleteRegistrationInput attaches a profile to a verified phone-only account.
type CompleteRegistrationInput struct {
	Mobile   string `field:"mobile" validate:"required,max=15"`
	Name     string `field:"name" validate:"required,max=100"`
	Email    string `field:"email" validate:"required,max=255"`
	Password string `field:"password" validate:"required"`
	DeviceID string `field:"device_id" validate:"max=255"`
}

type otpRequest struct {
	Mobile string `field:"mobile" validate:"required,max=15"`
}

type otpVerification struct {
	Mobile string `field:"mobile" validate:"required,max=15"`
	Code   string `field:"otp" validate:"required,max=6"`
}

// Session is an authenticated account plus its freshly issued token.
type Session struct {
	Account *model.Account
	Token   string
}

// OtpIssuance is the result of RequestOtp. The code is returned to the
// caller because no delivery channel exists.
type OtpIssuance struct {
	Mobile    string
	Code      string
	ExpiresAt time.Time
}

// Options holds the optional AccountService settings. Zero values select
// the defaults.
type Options struct {
	OTPTTL    time.Duration    // how long an issued OTP stays valid
	OpTimeout time.Duration    // upper bound on each store round trip
	Now       func() time.Time // clock for OTP expiry
	Metrics   *metrics.Metrics // nil records nothing
}

// AccountService implements registration, login, session lookup and the
// mobile OTP signup flow.
type AccountService struct {
	store     repository.Store
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	otps      otp.Generator
	logger    *slog.Logger

	metrics   *metrics.Metrics
	validate  *validator.Validate
	now       func() time.Time
	otpTTL    time.Duration
	opTimeout time.Duration
}

// NewAccountService wires an AccountService. Call this from server.New.
func NewAccountService(
	store repository.Store,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	otps otp.Generator,
	logger *slog.Logger,
	opts Options,
) *AccountService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("field")
	})

	s := &AccountService{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		otps:      otps,
		logger:    logger,
		metrics:   opts.Metrics,
		validate:  v,
		now:       opts.Now,
		otpTTL:    opts.OTPTTL,
		opTimeout: opts.OpTimeout,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.otpTTL <= 0 {
		s.otpTTL = DefaultOTPTTL
	}
	if s.opTimeout <= 0 {
		s.opTimeout = DefaultOpTimeout
	}
	return s
}

// =========================================================================
// DIRECT REGISTRATION AND LOGIN
// =========================================================================

// Register creates an active account from name, email and password.
// Fails with apperror.ErrDuplicateEmail when the email is taken, including
// when a concurrent registration wins the race.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if err := s.check(in, msgRegisterRequired); err != nil {
		return nil, err
	}

	// Hash before taking a connection; bcrypt is the slow part.
	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	account := &model.Account{
		Active: true,
		Mobile: in.Mobile,
		Profile: &model.Profile{
			FullName:     in.Name,
			Email:        in.Email,
			PasswordHash: hash,
			DeviceID:     in.DeviceID,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	err = s.store.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		existing, err := accounts.GetByEmail(ctx, in.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperror.ErrDuplicateEmail
		}
		return accounts.Create(ctx, account)
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: registering: %w", err)
	}

	s.metrics.Registered(flowDirect)
	s.logger.Info("account registered",
		slog.Int64("accountID", account.ID),
		slog.String("flow", flowDirect),
	)

	return account, nil
}

// Login checks email and password and issues a session token.
//
// An unknown email and a wrong password both return
// apperror.ErrInvalidCredentials, and both cost one bcrypt comparison.
func (s *AccountService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperror.ErrMissingCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	account, err := s.store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("service/account: login lookup: %w", err)
	}

	if account == nil || account.Profile == nil {
		_ = s.passwords.VerifyDummy(password)
		s.metrics.AuthFailure("password", string(apperror.CodeInvalidCredentials))
		return nil, apperror.ErrInvalidCredentials
	}

	if err := s.passwords.Verify(account.Profile.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.metrics.AuthFailure("password", string(apperror.CodeInvalidCredentials))
			s.logger.Info("login rejected", slog.Int64("accountID", account.ID))
			return nil, apperror.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("service/account: verifying password for account %d: %w", account.ID, err)
	}

	token, err := s.tokens.Issue(account.ID, account.Profile.Email)
	if err != nil {
		return nil, fmt.Errorf("service/account: issuing token for account %d: %w", account.ID, err)
	}

	s.metrics.AuthSuccess("password")
	s.metrics.TokenIssued("login")
	s.logger.Info("login succeeded", slog.Int64("accountID", account.ID))

	return &Session{Account: account, Token: token}, nil
}

// GetAccount resolves a presented credential ("Bearer <token>") to its account.
func (s *AccountService) GetAccount(ctx context.Context, credential string) (*model.Account, error) {
	token, err := auth.BearerToken(credential)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			s.metrics.AuthFailure("bearer", string(apperror.CodeMissingToken))
			return nil, apperror.ErrMissingToken
		}
		s.metrics.AuthFailure("bearer", string(apperror.CodeMalformedToken))
		return nil, apperror.ErrMalformedToken
	}

	id, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			s.metrics.AuthFailure("bearer", string(apperror.CodeExpiredToken))
			return nil, apperror.ErrExpiredToken
		}
		s.metrics.AuthFailure("bearer", string(apperror.CodeInvalidToken))
		s.logger.Debug("token rejected", slog.String("error", err.Error()))
		return nil, apperror.ErrInvalidToken
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	account, err := s.store.Accounts().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/account: fetching account %d: %w", id, err)
	}
	if account == nil {
		return nil, apperror.ErrAccountNotFound
	}

	s.metrics.AuthSuccess("bearer")
	return account, nil
}

// =========================================================================
// MOBILE OTP FLOW
// =========================================================================

// RequestOtp issues a fresh OTP for mobile. A phone-only account is created
// when none exists; an existing one gets its OTP overwritten. A verified
// number that already has a full profile is rejected with
// apperror.ErrAlreadyRegistered.
func (s *AccountService) RequestOtp(ctx context.Context, mobile string) (*OtpIssuance, error) {
	req := otpRequest{Mobile: strings.TrimSpace(mobile)}
	if err := s.check(req, msgSendOtpRequired); err != nil {
		return nil, err
	}

	code, err := s.otps.Generate(req.Mobile)
	if err != nil {
		return nil, fmt.Errorf("service/account: generating otp: %w", err)
	}
	expiresAt := s.now().Add(s.otpTTL)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var accountID int64
	err = s.store.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		existing, err := accounts.GetByMobile(ctx, req.Mobile)
		if err != nil {
			return err
		}

		if existing != nil {
			if existing.PhoneVerified && existing.Email() != "" {
				return apperror.ErrAlreadyRegistered
			}
			accountID = existing.ID
			return accounts.SetOTP(ctx, existing.ID, code, expiresAt)
		}

		pending := &model.Account{
			Active:       true,
			Mobile:       req.Mobile,
			OTP:          code,
			OTPExpiresAt: expiresAt,
		}
		if err := accounts.Create(ctx, pending); err != nil {
			return err
		}
		accountID = pending.ID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: issuing otp: %w", err)
	}

	s.metrics.OTPIssued()
	s.logger.Info("otp issued",
		slog.Int64("accountID", accountID),
		slog.Time("expiresAt", expiresAt),
	)

	return &OtpIssuance{Mobile: req.Mobile, Code: code, ExpiresAt: expiresAt}, nil
}

// VerifyOtp marks the phone verified when code matches the stored, unexpired
// OTP. The OTP is cleared on success so it cannot be replayed. Any mismatch,
// including an unknown number, is apperror.ErrOtpMismatch.
func (s *AccountService) VerifyOtp(ctx context.Context, mobile, code string) (*model.Account, error) {
	req := otpVerification{Mobile: strings.TrimSpace(mobile), Code: strings.TrimSpace(code)}
	if err := s.check(req, msgVerifyRequired); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var account *model.Account
	err := s.store.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		a, err := accounts.GetByMobile(ctx, req.Mobile)
		if err != nil {
			return err
		}
		if a == nil || a.OTP == "" || a.OTPExpired(s.now()) ||
			subtle.ConstantTimeCompare([]byte(a.OTP), []byte(req.Code)) != 1 {
			return apperror.ErrOtpMismatch
		}

		if err := accounts.MarkPhoneVerified(ctx, a.ID); err != nil {
			return err
		}
		a.PhoneVerified = true
		a.OTP = ""
		a.OTPExpiresAt = time.Time{}
		account = a
		return nil
	})
	if err != nil {
		if errors.Is(err, apperror.ErrOtpMismatch) {
			s.metrics.OTPVerified(false)
		}
		return nil, fmt.Errorf("service/account: verifying otp: %w", err)
	}

	s.metrics.OTPVerified(true)
	s.logger.Info("phone verified", slog.Int64("accountID", account.ID))

	return account, nil
}

// CompleteRegistration attaches name, email and password to the verified
// phone-only account for in.Mobile and issues a session token.
func (s *AccountService) CompleteRegistration(ctx context.Context, in CompleteRegistrationInput) (*Session, error) {
	in.Mobile = strings.TrimSpace(in.Mobile)
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.DeviceID = strings.TrimSpace(in.DeviceID)
	if err := s.check(in, msgCompleteRequired); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	profile := model.Profile{
		FullName:     in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		DeviceID:     in.DeviceID,
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var session *Session
	err = s.store.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		account, err := accounts.GetByMobile(ctx, in.Mobile)
		if err != nil {
			return err
		}
		if account == nil || !account.PhoneVerified {
			return apperror.ErrPhoneNotVerified
		}
		if account.State() == model.StateActive {
			return apperror.ErrAlreadyRegistered
		}

		taken, err := accounts.GetByEmail(ctx, in.Email)
		if err != nil {
			return err
		}
		if taken != nil {
			return apperror.ErrDuplicateEmail
		}

		if err := accounts.CompleteProfile(ctx, account.ID, profile); err != nil {
			return err
		}
		account.Profile = &profile

		// Signed inside the transaction so a signing failure leaves the
		// account pending.
		token, err := s.tokens.Issue(account.ID, profile.Email)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		session = &Session{Account: account, Token: token}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("service/account: completing registration: %w", err)
	}

	s.metrics.Registered(flowVerified)
	s.metrics.TokenIssued("register")
	s.logger.Info("account registered",
		slog.Int64("accountID", session.Account.ID),
		slog.String("flow", flowVerified),
	)

	return session, nil
}

// =========================================================================
// HELPERS
// =========================================================================

// check validates in. A missing required field yields requiredMsg; an
// over-long field names the field and its limit.
func (s *AccountService) check(in any, requiredMsg string) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("service/account: validating input: %w", err)
	}

	// Report a missing field ahead of an over-long one.
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return apperror.ValidationFailed(fe.Field(), requiredMsg)
		}
	}

	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	return apperror.ValidationFailed(fe.Field(),
		fmt.Sprintf("%s must be at most %s characters.", label, fe.Param()))
}

func (s *AccountService) hashPassword(password string) (string, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperror.ValidationFailed("password",
				fmt.Sprintf("Password must be at most %d bytes.", auth.MaxPasswordBytes))
		}
		return "", fmt.Errorf("service/account: hashing password: %w", err)
	}
	return hash, nil
}
