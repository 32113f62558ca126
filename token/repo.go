package token

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by repo implementations. ErrConflict from Revoke
// means the record was already revoked: the caller lost a compare-and-set.
var (
	ErrNotFound = errors.New("token record not found")
	ErrConflict = errors.New("token record already revoked")
)

// AccessTokenRepo persists the revocation shadows of signed access tokens.
type AccessTokenRepo interface {
	Create(ctx context.Context, record *AccessTokenRecord) error
	GetByJTI(ctx context.Context, jti string) (*AccessTokenRecord, error)

	// Revoke sets revoked_at. Idempotent: revoking an already-revoked or
	// unknown jti is not an error (revocation never leaks existence).
	Revoke(ctx context.Context, jti string, now time.Time) error

	RevokeByRefreshTokenID(ctx context.Context, refreshTokenID string, now time.Time) (int, error)
	RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// RefreshTokenRepo persists refresh-token records and their rotation chain.
type RefreshTokenRepo interface {
	Create(ctx context.Context, record *RefreshTokenRecord) error
	GetByHash(ctx context.Context, tokenHash string) (*RefreshTokenRecord, error)

	// Revoke is an atomic compare-and-set on revoked_at: it fails with
	// ErrConflict if the record is already revoked, so two concurrent uses
	// of the same token produce exactly one winner.
	Revoke(ctx context.Context, id string, now time.Time) error

	// RevokeByHash flips a record revoked by its hash, idempotently.
	RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error

	// ListByParent returns the records rotated directly from parentID.
	// The cascade walk calls this iteratively to follow the chain forward.
	ListByParent(ctx context.Context, parentID string) ([]*RefreshTokenRecord, error)

	RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
