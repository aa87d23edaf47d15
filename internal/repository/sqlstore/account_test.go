package sqlstore

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestDB opens a migrated in-memory SQLite store, closed with the test.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{
		Dialect:         SQLite,
		DSN:             ":memory:",
		ConnectAttempts: 1,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func activeAccount(name, email string) *model.Account {
	return &model.Account{
		Active: true,
		Profile: &model.Profile{
			FullName:     name,
			Email:        email,
			PasswordHash: "$2a$04$fakehashfakehashfakehashfakehashfakehashfakehashfake",
		},
	}
}

func pendingAccount(mobile, otp string) *model.Account {
	return &model.Account{
		Active:       true,
		Mobile:       mobile,
		OTP:          otp,
		OTPExpiresAt: time.Now().Add(5 * time.Minute),
	}
}

// =========================================================================
// OPEN
// =========================================================================

func TestOpen_MigratesSchema(t *testing.T) {
	db := newTestDB(t)

	var n int
	err := db.SQL().QueryRow(`SELECT COUNT(*) FROM accounts`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, db.Ping(context.Background()))
}

func TestOpen_RetriesThenFails(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "missing", "dir", "accounts.db")

	start := time.Now()
	_, err := Open(context.Background(), Config{
		Dialect:         SQLite,
		DSN:             dsn,
		ConnectAttempts: 3,
		ConnectDelay:    10 * time.Millisecond,
	}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 attempt(s)")
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "two delays between three attempts")
}

func TestOpen_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, Config{
		Dialect:         SQLite,
		DSN:             filepath.Join(t.TempDir(), "missing", "accounts.db"),
		ConnectAttempts: 100,
		ConnectDelay:    time.Hour,
	}, testLogger())
	require.Error(t, err)
}

func TestOpen_FileDatabaseSurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "accounts.db")
	cfg := Config{Dialect: SQLite, DSN: dsn, ConnectAttempts: 1}
	ctx := context.Background()

	db, err := Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	a := activeAccount("Ada", "ada@x.com")
	require.NoError(t, db.Accounts().Create(ctx, a))
	require.NoError(t, db.Close())

	// Second Open re-runs migrations as a no-op.
	db, err = Open(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Accounts().GetByEmail(ctx, "ada@x.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
}

// =========================================================================
// CREATE / GET
// =========================================================================

func TestCreate_ActiveRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	a := activeAccount("Ada", "ada@x.com")
	a.Mobile = "555-0100"
	a.Profile.DeviceID = "device-1"
	require.NoError(t, repo.Create(ctx, a))
	require.NotZero(t, a.ID)
	require.False(t, a.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.StateActive, got.State())
	assert.Equal(t, "Ada", got.Profile.FullName)
	assert.Equal(t, "ada@x.com", got.Profile.Email)
	assert.Equal(t, a.Profile.PasswordHash, got.Profile.PasswordHash)
	assert.Equal(t, "device-1", got.Profile.DeviceID)
	assert.Equal(t, "555-0100", got.Mobile)
	assert.True(t, got.Active)
	assert.False(t, got.PhoneVerified)
	assert.Empty(t, got.OTP)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Second)
}

func TestCreate_PendingRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	a := pendingAccount("555-0100", "9999")
	require.NoError(t, repo.Create(ctx, a))

	got, err := repo.GetByMobile(ctx, "555-0100")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.StatePending, got.State())
	assert.Nil(t, got.Profile)
	assert.Equal(t, "9999", got.OTP)
	assert.WithinDuration(t, a.OTPExpiresAt, got.OTPExpiresAt, time.Second)
}

func TestCreate_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	require.NoError(t, repo.Create(ctx, activeAccount("Ada", "ada@x.com")))

	err := repo.Create(ctx, activeAccount("Other Ada", "ada@x.com"))
	assert.ErrorIs(t, err, apperror.ErrDuplicateEmail)
	assert.ErrorIs(t, err, apperror.ErrConflict)
}

func TestCreate_ManyPendingAccountsWithoutEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	// NULL emails do not collide under the unique constraint.
	require.NoError(t, repo.Create(ctx, pendingAccount("555-0100", "9999")))
	require.NoError(t, repo.Create(ctx, pendingAccount("555-0101", "9999")))
}

func TestCreate_RejectsAccountWithoutEmailOrMobile(t *testing.T) {
	db := newTestDB(t)

	err := db.Accounts().Create(context.Background(), &model.Account{Active: true})
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperror.ErrDuplicateEmail))
}

func TestGet_MissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	a, err := repo.GetByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = repo.GetByEmail(ctx, "nobody@x.com")
	require.NoError(t, err)
	assert.Nil(t, a)

	a, err = repo.GetByMobile(ctx, "555-0000")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestGetByMobile_ReturnsOldest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	first := pendingAccount("555-0100", "1111")
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, pendingAccount("555-0100", "2222")))

	got, err := repo.GetByMobile(ctx, "555-0100")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

// =========================================================================
// UPDATES
// =========================================================================

func TestSetOTP_AndMarkPhoneVerified(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	a := pendingAccount("555-0100", "1111")
	require.NoError(t, repo.Create(ctx, a))

	exp := time.Now().Add(10 * time.Minute)
	require.NoError(t, repo.SetOTP(ctx, a.ID, "2222", exp))

	got, _ := repo.GetByID(ctx, a.ID)
	assert.Equal(t, "2222", got.OTP)
	assert.WithinDuration(t, exp, got.OTPExpiresAt, time.Second)

	require.NoError(t, repo.MarkPhoneVerified(ctx, a.ID))

	got, _ = repo.GetByID(ctx, a.ID)
	assert.True(t, got.PhoneVerified)
	assert.Empty(t, got.OTP, "otp must be cleared after verification")
	assert.True(t, got.OTPExpiresAt.IsZero())
	assert.Equal(t, "555-0100", got.Mobile)
}

func TestCompleteProfile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	a := pendingAccount("555-0100", "9999")
	require.NoError(t, repo.Create(ctx, a))

	err := repo.CompleteProfile(ctx, a.ID, model.Profile{
		FullName:     "Ada",
		Email:        "ada@x.com",
		PasswordHash: "$2a$04$hash",
	})
	require.NoError(t, err)

	got, _ := repo.GetByID(ctx, a.ID)
	require.Equal(t, model.StateActive, got.State())
	assert.Equal(t, "ada@x.com", got.Profile.Email)
	assert.Equal(t, "555-0100", got.Mobile)
	assert.Empty(t, got.Profile.DeviceID)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Second, "created_at is immutable")
}

func TestCompleteProfile_DuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := db.Accounts()

	require.NoError(t, repo.Create(ctx, activeAccount("Ada", "ada@x.com")))
	p := pendingAccount("555-0100", "9999")
	require.NoError(t, repo.Create(ctx, p))

	err := repo.CompleteProfile(ctx, p.ID, model.Profile{FullName: "B", Email: "ada@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, apperror.ErrDuplicateEmail)
}

func TestUpdate_UnknownID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.Accounts().SetOTP(ctx, 404, "9999", time.Time{})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	err = db.Accounts().MarkPhoneVerified(ctx, 404)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

// =========================================================================
// TRANSACTIONS
// =========================================================================

func TestStoreWithTx_RollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		require.NoError(t, accounts.Create(ctx, activeAccount("Ada", "ada@x.com")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := db.Accounts().GetByEmail(ctx, "ada@x.com")
	require.NoError(t, err)
	assert.Nil(t, got, "insert must be rolled back")
}

func TestStoreWithTx_Commits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		a := pendingAccount("555-0100", "9999")
		if err := accounts.Create(ctx, a); err != nil {
			return err
		}
		return accounts.MarkPhoneVerified(ctx, a.ID)
	})
	require.NoError(t, err)

	got, _ := db.Accounts().GetByMobile(ctx, "555-0100")
	require.NotNil(t, got)
	assert.True(t, got.PhoneVerified)
}

func TestStoreWithTx_ConcurrentDuplicateEmail(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = db.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
				return accounts.Create(ctx, activeAccount("Ada", "ada@x.com"))
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrDuplicateEmail):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestStoreWithTx_DeadlineIsUnavailable(t *testing.T) {
	db := newTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := db.WithTx(ctx, func(ctx context.Context, accounts repository.AccountRepository) error {
		return nil
	})
	assert.ErrorIs(t, err, apperror.ErrUnavailable)
}
