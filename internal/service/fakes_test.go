package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sakif/account-service/internal/apperror"
	"github.com/sakif/account-service/internal/model"
	"github.com/sakif/account-service/internal/repository"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory repository.Store. WithTx snapshots the rows and
// restores them when fn fails, which is enough to observe rollbacks.
type fakeStore struct {
	mu     sync.Mutex
	rows   map[int64]*model.Account
	nextID int64

	// set to a non-nil error to simulate a database failure on every call
	err error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[int64]*model.Account), nextID: 1}
}

func (f *fakeStore) Accounts() repository.AccountRepository {
	return &fakeRepo{store: f}
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context, accounts repository.AccountRepository) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	snapshot := make(map[int64]*model.Account, len(f.rows))
	for id, a := range f.rows {
		snapshot[id] = cloneAccount(a)
	}
	nextID := f.nextID

	if err := fn(ctx, &fakeRepo{store: f, inTx: true}); err != nil {
		f.rows = snapshot
		f.nextID = nextID
		return err
	}
	return nil
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

func (f *fakeStore) Close() error { return nil }

// get returns a copy of the row, or nil.
func (f *fakeStore) get(id int64) *model.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneAccount(f.rows[id])
}

type fakeRepo struct {
	store *fakeStore
	inTx  bool // the store mutex is already held by WithTx
}

func (r *fakeRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.store.mu.Lock()
	return r.store.mu.Unlock
}

func (r *fakeRepo) Create(_ context.Context, a *model.Account) error {
	defer r.lock()()
	if r.store.err != nil {
		return r.store.err
	}
	if email := a.Email(); email != "" {
		for _, row := range r.store.rows {
			if row.Email() == email {
				return apperror.ErrDuplicateEmail
			}
		}
	}
	a.ID = r.store.nextID
	r.store.nextID++
	a.CreatedAt = time.Now().UTC()
	r.store.rows[a.ID] = cloneAccount(a)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id int64) (*model.Account, error) {
	defer r.lock()()
	if r.store.err != nil {
		return nil, r.store.err
	}
	return cloneAccount(r.store.rows[id]), nil
}

func (r *fakeRepo) GetByEmail(_ context.Context, email string) (*model.Account, error) {
	defer r.lock()()
	if r.store.err != nil {
		return nil, r.store.err
	}
	for _, row := range r.store.rows {
		if row.Email() == email {
			return cloneAccount(row), nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) GetByMobile(_ context.Context, mobile string) (*model.Account, error) {
	defer r.lock()()
	if r.store.err != nil {
		return nil, r.store.err
	}
	var found *model.Account
	for _, row := range r.store.rows {
		if row.Mobile == mobile && (found == nil || row.ID < found.ID) {
			found = row
		}
	}
	return cloneAccount(found), nil
}

func (r *fakeRepo) SetOTP(_ context.Context, id int64, code string, expiresAt time.Time) error {
	defer r.lock()()
	row, ok := r.store.rows[id]
	if !ok {
		return apperror.NotFound("account", "")
	}
	row.OTP = code
	row.OTPExpiresAt = expiresAt
	return nil
}

func (r *fakeRepo) MarkPhoneVerified(_ context.Context, id int64) error {
	defer r.lock()()
	row, ok := r.store.rows[id]
	if !ok {
		return apperror.NotFound("account", "")
	}
	row.PhoneVerified = true
	row.OTP = ""
	row.OTPExpiresAt = time.Time{}
	return nil
}

func (r *fakeRepo) CompleteProfile(_ context.Context, id int64, p model.Profile) error {
	defer r.lock()()
	row, ok := r.store.rows[id]
	if !ok {
		return apperror.NotFound("account", "")
	}
	for _, other := range r.store.rows {
		if other.ID != id && other.Email() == p.Email {
			return apperror.ErrDuplicateEmail
		}
	}
	row.Profile = &p
	return nil
}

func cloneAccount(a *model.Account) *model.Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.Profile != nil {
		p := *a.Profile
		c.Profile = &p
	}
	return &c
}

// =========================================================================
// OTHER FAKES
// =========================================================================

// fakeClock is a settable time source shared by the service and token service.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequenceOTP hands out codes in order, then repeats the last one.
type sequenceOTP struct {
	codes []string
	i     int
}

func (s *sequenceOTP) Generate(string) (string, error) {
	code := s.codes[s.i]
	if s.i < len(s.codes)-1 {
		s.i++
	}
	return code, nil
}

// failingOTP always fails.
type failingOTP struct{}

func (failingOTP) Generate(string) (string, error) {
	return "", errors.New("entropy exhausted")
}
