// Package pg implements the token repositories on PostgreSQL via pgx.
// The refresh-token Revoke is a single UPDATE guarded on revoked_at IS
// NULL, which is what makes concurrent rotation one-winner.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/token"
)

const accessTokenColumns = `jti, app_id, tenant_id, user_id, scopes, refresh_token_id, session_id, expires_at, created_at, revoked_at`

const refreshTokenColumns = `id, token_hash, app_id, tenant_id, user_id, scopes, parent_token_id, session_id, expires_at, created_at, revoked_at`

// AccessTokenRepo stores access-token revocation shadows in
// oauth_access_tokens.
type AccessTokenRepo struct {
	pool *pgxpool.Pool
}

func NewAccessTokenRepo(pool *pgxpool.Pool) *AccessTokenRepo {
	return &AccessTokenRepo{pool: pool}
}

func (r *AccessTokenRepo) Create(ctx context.Context, record *token.AccessTokenRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_access_tokens (`+accessTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL)`,
		record.JTI,
		record.AppID,
		record.TenantID,
		nullIfEmpty(record.UserID),
		record.Scopes,
		nullIfEmpty(record.RefreshTokenID),
		nullIfEmpty(record.SessionID),
		record.ExpiresAt,
		record.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "[AccessTokenRepo.Create] insert")
	}
	return nil
}

func (r *AccessTokenRepo) GetByJTI(ctx context.Context, jti string) (*token.AccessTokenRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accessTokenColumns+`
		FROM oauth_access_tokens
		WHERE jti = $1`,
		jti,
	)
	return scanAccessToken(row)
}

func (r *AccessTokenRepo) Revoke(ctx context.Context, jti string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET revoked_at = $2
		WHERE jti = $1 AND revoked_at IS NULL`,
		jti, now,
	)
	if err != nil {
		return errors.Wrap(err, "[AccessTokenRepo.Revoke] update")
	}
	return nil
}

func (r *AccessTokenRepo) RevokeByRefreshTokenID(ctx context.Context, refreshTokenID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET revoked_at = $2
		WHERE refresh_token_id = $1 AND revoked_at IS NULL`,
		refreshTokenID, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "[AccessTokenRepo.RevokeByRefreshTokenID] update")
	}
	return int(tag.RowsAffected()), nil
}

func (r *AccessTokenRepo) RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_access_tokens
		SET revoked_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL`,
		sessionID, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "[AccessTokenRepo.RevokeBySession] update")
	}
	return int(tag.RowsAffected()), nil
}

func (r *AccessTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM oauth_access_tokens
		WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "[AccessTokenRepo.DeleteExpired] delete")
	}
	return int(tag.RowsAffected()), nil
}

// RefreshTokenRepo stores refresh-token records in oauth_refresh_tokens.
type RefreshTokenRepo struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepo(pool *pgxpool.Pool) *RefreshTokenRepo {
	return &RefreshTokenRepo{pool: pool}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, record *token.RefreshTokenRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_refresh_tokens (`+refreshTokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)`,
		record.ID,
		record.TokenHash,
		record.AppID,
		record.TenantID,
		nullIfEmpty(record.UserID),
		record.Scopes,
		nullIfEmpty(record.ParentID),
		nullIfEmpty(record.SessionID),
		record.ExpiresAt,
		record.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "[RefreshTokenRepo.Create] insert")
	}
	return nil
}

func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (*token.RefreshTokenRecord, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM oauth_refresh_tokens
		WHERE token_hash = $1`,
		tokenHash,
	)
	return scanRefreshToken(row)
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_refresh_tokens
		SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL`,
		id, now,
	)
	if err != nil {
		return errors.Wrap(err, "[RefreshTokenRepo.Revoke] update")
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrMissing(ctx, id)
	}
	return nil
}

func (r *RefreshTokenRepo) RevokeByHash(ctx context.Context, tokenHash string, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE oauth_refresh_tokens
		SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash, now,
	)
	if err != nil {
		return errors.Wrap(err, "[RefreshTokenRepo.RevokeByHash] update")
	}
	return nil
}

func (r *RefreshTokenRepo) ListByParent(ctx context.Context, parentID string) ([]*token.RefreshTokenRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refreshTokenColumns+`
		FROM oauth_refresh_tokens
		WHERE parent_token_id = $1`,
		parentID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "[RefreshTokenRepo.ListByParent] query")
	}
	defer rows.Close()

	var children []*token.RefreshTokenRecord
	for rows.Next() {
		record, err := scanRefreshToken(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "[RefreshTokenRepo.ListByParent] rows")
	}
	return children, nil
}

func (r *RefreshTokenRepo) RevokeBySession(ctx context.Context, sessionID string, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_refresh_tokens
		SET revoked_at = $2
		WHERE session_id = $1 AND revoked_at IS NULL`,
		sessionID, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "[RefreshTokenRepo.RevokeBySession] update")
	}
	return int(tag.RowsAffected()), nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM oauth_refresh_tokens
		WHERE expires_at < $1`,
		now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "[RefreshTokenRepo.DeleteExpired] delete")
	}
	return int(tag.RowsAffected()), nil
}

// conflictOrMissing classifies a zero-row compare-and-set: the record is
// either already revoked or does not exist.
func (r *RefreshTokenRepo) conflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM oauth_refresh_tokens WHERE id = $1)`,
		id,
	).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "[RefreshTokenRepo.conflictOrMissing] exists")
	}
	if exists {
		return token.ErrConflict
	}
	return token.ErrNotFound
}

func scanAccessToken(row pgx.Row) (*token.AccessTokenRecord, error) {
	var (
		record         token.AccessTokenRecord
		userID         *string
		refreshTokenID *string
		sessionID      *string
	)
	err := row.Scan(
		&record.JTI,
		&record.AppID,
		&record.TenantID,
		&userID,
		&record.Scopes,
		&refreshTokenID,
		&sessionID,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[pg.scanAccessToken] scan")
	}
	record.UserID = deref(userID)
	record.RefreshTokenID = deref(refreshTokenID)
	record.SessionID = deref(sessionID)
	return &record, nil
}

func scanRefreshToken(row pgx.Row) (*token.RefreshTokenRecord, error) {
	var (
		record    token.RefreshTokenRecord
		userID    *string
		parentID  *string
		sessionID *string
	)
	err := row.Scan(
		&record.ID,
		&record.TokenHash,
		&record.AppID,
		&record.TenantID,
		&userID,
		&record.Scopes,
		&parentID,
		&sessionID,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.RevokedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[pg.scanRefreshToken] scan")
	}
	record.UserID = deref(userID)
	record.ParentID = deref(parentID)
	record.SessionID = deref(sessionID)
	return &record, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
