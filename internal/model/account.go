// Package model defines the data structures used throughout the application.
package model

import "time"

// AccountState tells a phone-only signup apart from a finished account.
//
// An account starts Pending when it is created by an OTP request for an
// unknown mobile number. It becomes Active once a Profile is attached, either
// by direct registration or by completing registration after verification.
type AccountState int

const (
	StatePending AccountState = iota
	StateActive
)

func (s AccountState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateActive:
		return "ACTIVE"
	default:
		return "UNKNOWN"
	}
}

// Profile holds the identity fields of a completed account.
//
// PasswordHash is a bcrypt hash. It never leaves the service layer; HTTP
// responses are built from explicit view types that have no field for it.
type Profile struct {
	FullName     string
	Email        string
	PasswordHash string
	DeviceID     string
}

// Account is a row of the accounts table.
//
// THE TWO STATES:
// Profile == nil  → Pending: only the phone columns are meaningful and Mobile is set.
// Profile != nil  → Active: the account can log in with email + password.
//
// The store only builds a Profile when the email column is non-null, so a
// half-filled profile is not representable here.
type Account struct {
	ID            int64
	Mobile        string // empty when the account registered without a phone
	OTP           string // empty once verified or never requested
	OTPExpiresAt  time.Time
	PhoneVerified bool
	Active        bool // the status column; defaults to true
	CreatedAt     time.Time
	Profile       *Profile
}

// State reports whether the account is still a phone-only signup.
func (a *Account) State() AccountState {
	if a.Profile == nil {
		return StatePending
	}
	return StateActive
}

// Email returns the profile email, or "" for a pending account.
func (a *Account) Email() string {
	if a.Profile == nil {
		return ""
	}
	return a.Profile.Email
}

// OTPExpired reports whether the stored OTP is past its expiry at now.
// A zero OTPExpiresAt means the code does not expire.
func (a *Account) OTPExpired(now time.Time) bool {
	return !a.OTPExpiresAt.IsZero() && !now.Before(a.OTPExpiresAt)
}
