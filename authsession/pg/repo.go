// Package pg implements the authsession.Repo against PostgreSQL using
// pgxpool. State transitions ride single UPDATE … WHERE status=… RETURNING
// statements, so concurrent exchanges resolve to exactly one winner inside
// the database.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/authsession"
)

var _ authsession.Repo = (*SessionRepo)(nil)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `handle, code, app_id, client_id, tenant_id, user_id,
	requested_scopes, granted_scopes, redirect_uri, code_challenge,
	code_challenge_method, state, nonce, status, expires_at, created_at, used_at`

func (r *SessionRepo) Create(ctx context.Context, s *authsession.Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_authorization_sessions (
			handle, app_id, client_id, tenant_id, requested_scopes, granted_scopes,
			redirect_uri, code_challenge, code_challenge_method, state, nonce,
			status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.Handle, s.AppID, s.ClientID, nullIfEmpty(s.TenantID),
		s.RequestedScopes, s.GrantedScopes, s.RedirectURI, s.CodeChallenge,
		string(s.CodeChallengeMethod), nullIfEmpty(s.State), nullIfEmpty(s.Nonce),
		string(s.Status), s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "[SessionRepo.Create] insert")
	}
	return nil
}

func (r *SessionRepo) GetByHandle(ctx context.Context, handle string) (*authsession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM oauth_authorization_sessions WHERE handle = $1`, handle)
	return scanSession(row)
}

func (r *SessionRepo) GetByCode(ctx context.Context, code string) (*authsession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM oauth_authorization_sessions WHERE code = $1`, code)
	return scanSession(row)
}

func (r *SessionRepo) Complete(ctx context.Context, handle, tenantID, userID, code string, expiresAt time.Time) (*authsession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE oauth_authorization_sessions
		SET status = 'authorized', tenant_id = $2, user_id = $3, code = $4, expires_at = $5
		WHERE handle = $1 AND status = 'pending'
		RETURNING `+sessionColumns, handle, tenantID, userID, code, expiresAt)
	session, err := scanSession(row)
	if errors.Is(err, authsession.ErrNotFound) {
		return nil, conflictOrMissing(ctx, r, handle)
	}
	return session, err
}

func (r *SessionRepo) Deny(ctx context.Context, handle string) (*authsession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE oauth_authorization_sessions
		SET status = 'denied'
		WHERE handle = $1 AND status = 'pending'
		RETURNING `+sessionColumns, handle)
	session, err := scanSession(row)
	if errors.Is(err, authsession.ErrNotFound) {
		return nil, conflictOrMissing(ctx, r, handle)
	}
	return session, err
}

func (r *SessionRepo) Consume(ctx context.Context, code string, now time.Time) (*authsession.Session, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE oauth_authorization_sessions
		SET status = 'consumed', used_at = $2
		WHERE code = $1 AND status = 'authorized' AND expires_at > $2
		RETURNING `+sessionColumns, code, now)
	session, err := scanSession(row)
	if errors.Is(err, authsession.ErrNotFound) {
		// Row exists in another state, or not at all; the manager classifies.
		return nil, authsession.ErrConflict
	}
	return session, err
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM oauth_authorization_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, errors.Wrap(err, "[SessionRepo.DeleteExpired] delete")
	}
	return int(tag.RowsAffected()), nil
}

func conflictOrMissing(ctx context.Context, r *SessionRepo, handle string) error {
	if _, err := r.GetByHandle(ctx, handle); err != nil {
		return authsession.ErrNotFound
	}
	return authsession.ErrConflict
}

func scanSession(row pgx.Row) (*authsession.Session, error) {
	var s authsession.Session
	var code, tenantID, userID, state, nonce *string
	var method, status string
	err := row.Scan(&s.Handle, &code, &s.AppID, &s.ClientID, &tenantID, &userID,
		&s.RequestedScopes, &s.GrantedScopes, &s.RedirectURI, &s.CodeChallenge,
		&method, &state, &nonce, &status, &s.ExpiresAt, &s.CreatedAt, &s.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[pg.scanSession] scan")
	}
	s.Code = deref(code)
	s.TenantID = deref(tenantID)
	s.UserID = deref(userID)
	s.State = deref(state)
	s.Nonce = deref(nonce)
	s.CodeChallengeMethod = codeMethod(method)
	s.Status = authsession.Status(status)
	return &s, nil
}
