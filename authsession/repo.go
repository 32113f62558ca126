package authsession

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Repo implementations. ErrConflict means a
// compare-and-set lost: the row was not in the state the transition
// requires. Callers treat a conflict as a logical "already used" loss,
// never as a server error.
var (
	ErrNotFound = errors.New("session not found")
	ErrConflict = errors.New("session state conflict")
)

// Repo persists authorization sessions. Complete, Deny and Consume are
// atomic state transitions: the read and the mutation ride one statement so
// two concurrent callers produce exactly one winner.
type Repo interface {
	Create(ctx context.Context, session *Session) error
	GetByHandle(ctx context.Context, handle string) (*Session, error)
	GetByCode(ctx context.Context, code string) (*Session, error)

	// Complete moves Pending -> Authorized, attaching tenant/user, the final
	// code and a fresh expiry. ErrConflict if the session is not Pending.
	Complete(ctx context.Context, handle, tenantID, userID, code string, expiresAt time.Time) (*Session, error)

	// Deny moves Pending -> Denied. ErrConflict if the session is not Pending.
	Deny(ctx context.Context, handle string) (*Session, error)

	// Consume moves Authorized -> Consumed, setting UsedAt, only if the
	// session has not expired at now. ErrConflict if the session is in any
	// other state or past expiry; exactly one of N concurrent calls wins.
	Consume(ctx context.Context, code string, now time.Time) (*Session, error)

	// DeleteExpired removes rows past expiry. It must never race a live
	// exchange into a false "expired": Consume's own transaction wins.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
