package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// compile-time check that *accountRepo implements repository.AccountRepository
var _ repository.AccountRepository = (*accountRepo)(nil)

const accountColumns = `id, full_name, email, password_hash, device_id, created_at,
	status, mobile, otp, otp_expires_at, phone_verified`

// accountRepo runs account queries on either the pool or a transaction.
type accountRepo struct {
	q       DBTX
	dialect Dialect
}

func newAccountRepo(q DBTX, dialect Dialect) *accountRepo {
	return &accountRepo{q: q, dialect: dialect}
}

// Create inserts a new row. CreatedAt is assigned here and never updated.
func (r *accountRepo) Create(ctx context.Context, a *model.Account) error {
	a.CreatedAt = time.Now().UTC().Truncate(time.Microsecond)

	var fullName, email, hash, device sql.NullString
	if p := a.Profile; p != nil {
		fullName = nullString(p.FullName)
		email = nullString(p.Email)
		hash = nullString(p.PasswordHash)
		device = nullString(p.DeviceID)
	}

	err := r.q.QueryRowContext(ctx, r.dialect.rebind(`
		INSERT INTO accounts (full_name, email, password_hash, device_id, created_at,
			status, mobile, otp, otp_expires_at, phone_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		fullName,
		email,
		hash,
		device,
		a.CreatedAt,
		a.Active,
		nullString(a.Mobile),
		nullString(a.OTP),
		nullTime(a.OTPExpiresAt),
		a.PhoneVerified,
	).Scan(&a.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicateEmail
		}
		return storeError(fmt.Errorf("sqlstore: inserting account: %w", err))
	}

	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	return r.getOne(ctx, "id", `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	return r.getOne(ctx, "email", `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email)
}

func (r *accountRepo) GetByMobile(ctx context.Context, mobile string) (*model.Account, error) {
	return r.getOne(ctx, "mobile",
		`SELECT `+accountColumns+` FROM accounts WHERE mobile = ? ORDER BY id LIMIT 1`, mobile)
}

// getOne runs a single-row lookup. sql.ErrNoRows becomes (nil, nil).
func (r *accountRepo) getOne(ctx context.Context, by, query string, arg any) (*model.Account, error) {
	a, err := scanAccount(r.q.QueryRowContext(ctx, r.dialect.rebind(query), arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(fmt.Errorf("sqlstore: getting account by %s: %w", by, err))
	}
	return a, nil
}

func (r *accountRepo) SetOTP(ctx context.Context, id int64, code string, expiresAt time.Time) error {
	return r.update(ctx, id, "setting otp",
		`UPDATE accounts SET otp = ?, otp_expires_at = ? WHERE id = ?`,
		nullString(code), nullTime(expiresAt), id)
}

func (r *accountRepo) MarkPhoneVerified(ctx context.Context, id int64) error {
	return r.update(ctx, id, "marking phone verified",
		`UPDATE accounts SET phone_verified = ?, otp = NULL, otp_expires_at = NULL WHERE id = ?`,
		true, id)
}

func (r *accountRepo) CompleteProfile(ctx context.Context, id int64, p model.Profile) error {
	return r.update(ctx, id, "completing profile",
		`UPDATE accounts SET full_name = ?, email = ?, password_hash = ?, device_id = ? WHERE id = ?`,
		p.FullName, p.Email, p.PasswordHash, nullString(p.DeviceID), id)
}

// update executes a single-row UPDATE and reports apperror.NotFound when no
// row had that id.
func (r *accountRepo) update(ctx context.Context, id int64, what, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, r.dialect.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicateEmail
		}
		return storeError(fmt.Errorf("sqlstore: %s for account %d: %w", what, id, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s for account %d: %w", what, id, err)
	}
	if n == 0 {
		return apperror.NotFound("account", strconv.FormatInt(id, 10))
	}
	return nil
}

// scanAccount reads one row in accountColumns order. The Profile is only
// built when the email column is set.
func scanAccount(row *sql.Row) (*model.Account, error) {
	var (
		a                                          model.Account
		fullName, email, hash, device, mobile, otp sql.NullString
		otpExpiresAt                               sql.NullTime
	)

	err := row.Scan(
		&a.ID,
		&fullName,
		&email,
		&hash,
		&device,
		&a.CreatedAt,
		&a.Active,
		&mobile,
		&otp,
		&otpExpiresAt,
		&a.PhoneVerified,
	)
	if err != nil {
		return nil, err
	}

	a.Mobile = mobile.String
	a.OTP = otp.String
	if otpExpiresAt.Valid {
		a.OTPExpiresAt = otpExpiresAt.Time
	}
	if email.Valid {
		a.Profile = &model.Profile{
			FullName:     fullName.String,
			Email:        email.String,
			PasswordHash: hash.String,
			DeviceID:     device.String,
		}
	}

	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
