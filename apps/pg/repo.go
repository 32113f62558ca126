// Package pg implements the apps repositories on PostgreSQL via pgx.
package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/apps"
)

const appColumns = `id, client_id, secret_hash, name, description, env, status, allowed_scopes, redirect_uris, tenant_id, partner_id, rate_limit_policy_id, created_at, updated_at`

// AppRepo stores registered apps in oauth_apps.
type AppRepo struct {
	pool *pgxpool.Pool
}

func NewAppRepo(pool *pgxpool.Pool) *AppRepo {
	return &AppRepo{pool: pool}
}

func (r *AppRepo) GetByClientID(ctx context.Context, clientID string) (*apps.App, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appColumns+`
		FROM oauth_apps
		WHERE client_id = $1`,
		clientID,
	)
	return scanApp(row)
}

func (r *AppRepo) Upsert(ctx context.Context, app *apps.App) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_apps (`+appColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			env = EXCLUDED.env,
			status = EXCLUDED.status,
			allowed_scopes = EXCLUDED.allowed_scopes,
			redirect_uris = EXCLUDED.redirect_uris,
			tenant_id = EXCLUDED.tenant_id,
			rate_limit_policy_id = EXCLUDED.rate_limit_policy_id,
			updated_at = EXCLUDED.updated_at`,
		app.ID,
		app.ClientID,
		app.SecretHash,
		app.Name,
		nullIfEmpty(app.Description),
		string(app.Env),
		string(app.Status),
		app.AllowedScopes,
		app.RedirectURIs,
		nullIfEmpty(app.TenantID),
		app.PartnerID,
		app.RateLimitPolicyID,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "[AppRepo.Upsert] upsert")
	}
	return nil
}

func (r *AppRepo) UpdateStatus(ctx context.Context, appID string, status apps.Status) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_apps
		SET status = $2, updated_at = NOW()
		WHERE id = $1`,
		appID, string(status),
	)
	if err != nil {
		return errors.Wrap(err, "[AppRepo.UpdateStatus] update")
	}
	if tag.RowsAffected() == 0 {
		return apps.ErrNotFound
	}
	return nil
}

func (r *AppRepo) UpdateSecretHash(ctx context.Context, appID, secretHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE oauth_apps
		SET secret_hash = $2, updated_at = NOW()
		WHERE id = $1`,
		appID, secretHash,
	)
	if err != nil {
		return errors.Wrap(err, "[AppRepo.UpdateSecretHash] update")
	}
	if tag.RowsAffected() == 0 {
		return apps.ErrNotFound
	}
	return nil
}

func (r *AppRepo) List(ctx context.Context, partnerID string, offset, limit int) ([]*apps.App, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appColumns+`
		FROM oauth_apps
		WHERE partner_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3`,
		partnerID, offset, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "[AppRepo.List] query")
	}
	defer rows.Close()

	var result []*apps.App
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "[AppRepo.List] rows")
	}
	return result, nil
}

// PartnerRepo stores partner organizations in oauth_partners.
type PartnerRepo struct {
	pool *pgxpool.Pool
}

func NewPartnerRepo(pool *pgxpool.Pool) *PartnerRepo {
	return &PartnerRepo{pool: pool}
}

func (r *PartnerRepo) Get(ctx context.Context, partnerID string) (*apps.Partner, error) {
	var partner apps.Partner
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, status
		FROM oauth_partners
		WHERE id = $1`,
		partnerID,
	).Scan(&partner.ID, &partner.Name, &partner.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apps.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[PartnerRepo.Get] scan")
	}
	return &partner, nil
}

func (r *PartnerRepo) Upsert(ctx context.Context, partner *apps.Partner) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO oauth_partners (id, name, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status`,
		partner.ID, partner.Name, string(partner.Status),
	)
	if err != nil {
		return errors.Wrap(err, "[PartnerRepo.Upsert] upsert")
	}
	return nil
}

func scanApp(row pgx.Row) (*apps.App, error) {
	var (
		app         apps.App
		description *string
		tenantID    *string
	)
	err := row.Scan(
		&app.ID,
		&app.ClientID,
		&app.SecretHash,
		&app.Name,
		&description,
		&app.Env,
		&app.Status,
		&app.AllowedScopes,
		&app.RedirectURIs,
		&tenantID,
		&app.PartnerID,
		&app.RateLimitPolicyID,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apps.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[pg.scanApp] scan")
	}
	if description != nil {
		app.Description = *description
	}
	if tenantID != nil {
		app.TenantID = *tenantID
	}
	return &app, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
