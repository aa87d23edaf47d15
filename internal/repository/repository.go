package repository

import (
	"context"
	"time"

	"github.com/sakif/account-service/internal/model"
)

// AccountRepository reads and writes rows of the accounts table.
//
// Lookups return (nil, nil) when no row matches; absence is an ordinary
// outcome for every caller (unknown email at login, fresh mobile at OTP
// request) so it is not an error here.
//
// Create and CompleteProfile return apperror.ErrDuplicateEmail when the
// unique email constraint rejects the write.
type AccountRepository interface {
	// Create inserts account and fills in ID and CreatedAt.
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// GetByMobile returns the oldest account with this mobile number.
	GetByMobile(ctx context.Context, mobile string) (*model.Account, error)
	SetOTP(ctx context.Context, id int64, code string, expiresAt time.Time) error
	// MarkPhoneVerified sets phone_verified and clears the stored OTP.
	MarkPhoneVerified(ctx context.Context, id int64) error
	// CompleteProfile attaches profile to a pending account.
	CompleteProfile(ctx context.Context, id int64, profile model.Profile) error
}

// Store owns the connection pool. Accounts runs each call on its own pooled
// connection; WithTx runs fn inside one transaction, committed when fn
// returns nil and rolled back otherwise.
type Store interface {
	Accounts() AccountRepository
	WithTx(ctx context.Context, fn func(ctx context.Context, accounts AccountRepository) error) error
	Ping(ctx context.Context) error
	Close() error
}
