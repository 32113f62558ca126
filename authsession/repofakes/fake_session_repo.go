package repofakes

import (
	"context"
	"sync"
	"time"

	"github.com/pagemd/auth-server/authsession"
)

var _ authsession.Repo = (*FakeSessionRepo)(nil)

// FakeSessionRepo is an in-memory Repo used by tests and the dev bootstrap.
// State transitions hold the lock for the whole read-check-mutate, giving
// the same one-winner guarantee the SQL adapter gets from single-statement
// compare-and-set updates.
type FakeSessionRepo struct {
	byHandle map[string]*authsession.Session
	byCode   map[string]string // code -> handle
	lock     sync.Mutex
}

func NewFakeSessionRepo() *FakeSessionRepo {
	return &FakeSessionRepo{
		byHandle: make(map[string]*authsession.Session),
		byCode:   make(map[string]string),
	}
}

func (r *FakeSessionRepo) Create(_ context.Context, session *authsession.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	copied := *session
	r.byHandle[session.Handle] = &copied
	return nil
}

func (r *FakeSessionRepo) GetByHandle(_ context.Context, handle string) (*authsession.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	session, ok := r.byHandle[handle]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *FakeSessionRepo) GetByCode(_ context.Context, code string) (*authsession.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	handle, ok := r.byCode[code]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	session, ok := r.byHandle[handle]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (r *FakeSessionRepo) Complete(_ context.Context, handle, tenantID, userID, code string, expiresAt time.Time) (*authsession.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	session, ok := r.byHandle[handle]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	if session.Status != authsession.StatusPending {
		return nil, authsession.ErrConflict
	}
	session.Status = authsession.StatusAuthorized
	session.TenantID = tenantID
	session.UserID = userID
	session.Code = code
	session.ExpiresAt = expiresAt
	r.byCode[code] = handle
	copied := *session
	return &copied, nil
}

func (r *FakeSessionRepo) Deny(_ context.Context, handle string) (*authsession.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	session, ok := r.byHandle[handle]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	if session.Status != authsession.StatusPending {
		return nil, authsession.ErrConflict
	}
	session.Status = authsession.StatusDenied
	copied := *session
	return &copied, nil
}

func (r *FakeSessionRepo) Consume(_ context.Context, code string, now time.Time) (*authsession.Session, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	handle, ok := r.byCode[code]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	session, ok := r.byHandle[handle]
	if !ok {
		return nil, authsession.ErrNotFound
	}
	if session.Status != authsession.StatusAuthorized || session.ExpiredAt(now) {
		return nil, authsession.ErrConflict
	}
	session.Status = authsession.StatusConsumed
	usedAt := now
	session.UsedAt = &usedAt
	copied := *session
	return &copied, nil
}

func (r *FakeSessionRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	deleted := 0
	for handle, session := range r.byHandle {
		if session.ExpiredAt(now) {
			delete(r.byHandle, handle)
			if session.Code != "" {
				delete(r.byCode, session.Code)
			}
			deleted++
		}
	}
	return deleted, nil
}
