package apps

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repo implementations when no app or partner
// matches. Credential lookups collapse it into the generic client errors so
// callers cannot probe for registered client ids.
var ErrNotFound = errors.New("app not found")

// Repo is the persistence boundary for registered apps.
type Repo interface {
	GetByClientID(ctx context.Context, clientID string) (*App, error)
	Upsert(ctx context.Context, app *App) error
	UpdateStatus(ctx context.Context, appID string, status Status) error
	UpdateSecretHash(ctx context.Context, appID, secretHash string) error
	List(ctx context.Context, partnerID string, offset, limit int) ([]*App, error)
}

// PartnerRepo is the persistence boundary for partner records.
type PartnerRepo interface {
	Get(ctx context.Context, partnerID string) (*Partner, error)
	Upsert(ctx context.Context, partner *Partner) error
}
