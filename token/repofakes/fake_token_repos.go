package repofakes

import (
	"context"
	"sync"
	"time"

	"github.com/pagemd/auth-server/token"
)

// FakeAccessTokenRepo is an in-memory token.AccessTokenRepo safe for
// concurrent use.
type FakeAccessTokenRepo struct {
	mu      sync.Mutex
	records map[string]*token.AccessTokenRecord // keyed by jti
}

func NewFakeAccessTokenRepo() *FakeAccessTokenRepo {
	return &FakeAccessTokenRepo{records: make(map[string]*token.AccessTokenRecord)}
}

func (f *FakeAccessTokenRepo) Create(_ context.Context, record *token.AccessTokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *record
	f.records[record.JTI] = &clone
	return nil
}

func (f *FakeAccessTokenRepo) GetByJTI(_ context.Context, jti string) (*token.AccessTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[jti]
	if !ok {
		return nil, token.ErrNotFound
	}
	clone := *record
	return &clone, nil
}

func (f *FakeAccessTokenRepo) Revoke(_ context.Context, jti string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[jti]
	if !ok || record.RevokedAt != nil {
		return nil
	}
	revokedAt := now
	record.RevokedAt = &revokedAt
	return nil
}

func (f *FakeAccessTokenRepo) RevokeByRefreshTokenID(_ context.Context, refreshTokenID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.records {
		if record.RefreshTokenID == refreshTokenID && record.RevokedAt == nil {
			revokedAt := now
			record.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

func (f *FakeAccessTokenRepo) RevokeBySession(_ context.Context, sessionID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.records {
		if record.SessionID == sessionID && record.RevokedAt == nil {
			revokedAt := now
			record.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

func (f *FakeAccessTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for jti, record := range f.records {
		if record.ExpiresAt.Before(now) {
			delete(f.records, jti)
			count++
		}
	}
	return count, nil
}

// FakeRefreshTokenRepo is an in-memory token.RefreshTokenRepo. Revoke
// performs its check-and-set under the repo mutex, matching the one-winner
// guarantee of the SQL implementation.
type FakeRefreshTokenRepo struct {
	mu       sync.Mutex
	byID     map[string]*token.RefreshTokenRecord
	idByHash map[string]string
}

func NewFakeRefreshTokenRepo() *FakeRefreshTokenRepo {
	return &FakeRefreshTokenRepo{
		byID:     make(map[string]*token.RefreshTokenRecord),
		idByHash: make(map[string]string),
	}
}

func (f *FakeRefreshTokenRepo) Create(_ context.Context, record *token.RefreshTokenRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *record
	f.byID[record.ID] = &clone
	f.idByHash[record.TokenHash] = record.ID
	return nil
}

func (f *FakeRefreshTokenRepo) GetByHash(_ context.Context, tokenHash string) (*token.RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.idByHash[tokenHash]
	if !ok {
		return nil, token.ErrNotFound
	}
	clone := *f.byID[id]
	return &clone, nil
}

func (f *FakeRefreshTokenRepo) Revoke(_ context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.byID[id]
	if !ok {
		return token.ErrNotFound
	}
	if record.RevokedAt != nil {
		return token.ErrConflict
	}
	revokedAt := now
	record.RevokedAt = &revokedAt
	return nil
}

func (f *FakeRefreshTokenRepo) RevokeByHash(_ context.Context, tokenHash string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.idByHash[tokenHash]
	if !ok {
		return nil
	}
	record := f.byID[id]
	if record.RevokedAt == nil {
		revokedAt := now
		record.RevokedAt = &revokedAt
	}
	return nil
}

func (f *FakeRefreshTokenRepo) ListByParent(_ context.Context, parentID string) ([]*token.RefreshTokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var children []*token.RefreshTokenRecord
	for _, record := range f.byID {
		if record.ParentID == parentID {
			clone := *record
			children = append(children, &clone)
		}
	}
	return children, nil
}

func (f *FakeRefreshTokenRepo) RevokeBySession(_ context.Context, sessionID string, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.byID {
		if record.SessionID == sessionID && record.RevokedAt == nil {
			revokedAt := now
			record.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

func (f *FakeRefreshTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, record := range f.byID {
		if record.ExpiresAt.Before(now) {
			delete(f.idByHash, record.TokenHash)
			delete(f.byID, id)
			count++
		}
	}
	return count, nil
}
