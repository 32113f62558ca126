package apps

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/internal/cryptoutil"
	"github.com/pagemd/auth-server/oauth2"
)

const (
	clientIDBytes     = 24
	clientSecretBytes = 32

	clientIDPrefix     = "pmd_"
	clientSecretPrefix = "pmds_"
)

// Credentials is the credential-store service: client lookup and secret
// verification for the grant handlers, plus the registration primitives that
// share the same hashing routine. Read-mostly; registration and rotation are
// admin operations.
type Credentials struct {
	repo     Repo
	partners PartnerRepo
	nowTime  func() time.Time
}

type CredentialsOption func(*Credentials)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) CredentialsOption {
	return func(c *Credentials) {
		c.nowTime = nowFunc
	}
}

func NewCredentials(repo Repo, partners PartnerRepo, options ...CredentialsOption) (*Credentials, error) {
	if repo == nil {
		return nil, errors.New("[NewCredentials] app repo is required")
	}
	if partners == nil {
		return nil, errors.New("[NewCredentials] partner repo is required")
	}
	c := &Credentials{repo: repo, partners: partners, nowTime: time.Now}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Lookup fetches a usable app by client id. A missing app, a suspended or
// revoked app, and a suspended partner all collapse to the same
// invalid_client result so callers cannot enumerate clients.
func (c *Credentials) Lookup(ctx context.Context, clientID string) (*App, error) {
	app, err := c.repo.GetByClientID(ctx, clientID)
	if err != nil || app == nil {
		return nil, oauth2.ErrClientNotFound
	}
	if !c.isUsable(ctx, app) {
		return nil, oauth2.ErrClientNotActive
	}
	return app, nil
}

// VerifyClient authenticates a confidential client. Unknown client and wrong
// secret are indistinguishable to the caller.
func (c *Credentials) VerifyClient(ctx context.Context, clientID, secret string) (*App, error) {
	app, err := c.repo.GetByClientID(ctx, clientID)
	if err != nil || app == nil {
		return nil, oauth2.ErrClientNotFound
	}
	if !c.isUsable(ctx, app) {
		return nil, oauth2.ErrClientNotActive
	}
	if !cryptoutil.VerifySecret(secret, app.SecretHash) {
		return nil, oauth2.ErrClientNotFound
	}
	return app, nil
}

// isUsable requires an active app owned by an active partner.
func (c *Credentials) isUsable(ctx context.Context, app *App) bool {
	if app.Status != StatusActive {
		return false
	}
	partner, err := c.partners.Get(ctx, app.PartnerID)
	if err != nil || partner == nil {
		return false
	}
	return partner.Status == StatusActive
}

// RegisterInput holds the registration request for a new app.
type RegisterInput struct {
	PartnerID     string
	Name          string
	Description   string
	Env           Env
	RedirectURIs  []string
	AllowedScopes []string
	TenantID      string
}

// Register creates a new app and returns it together with the plaintext
// client secret, which is never recoverable afterwards.
func (c *Credentials) Register(ctx context.Context, input RegisterInput) (*App, string, error) {
	clientID, err := cryptoutil.RandomToken(clientIDBytes)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Credentials.Register] client id")
	}
	secret, err := cryptoutil.RandomToken(clientSecretBytes)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Credentials.Register] client secret")
	}
	secret = clientSecretPrefix + secret

	secretHash, err := cryptoutil.HashSecret(secret)
	if err != nil {
		return nil, "", errors.Wrap(err, "[Credentials.Register] hash secret")
	}

	env := input.Env
	if env == "" {
		env = EnvSandbox
	}
	rateLimitPolicyID := RateLimitPolicySandbox
	if env == EnvProduction {
		rateLimitPolicyID = RateLimitPolicyProduction
	}

	now := c.nowTime()
	app := &App{
		ID:                uuid.New().String(),
		ClientID:          clientIDPrefix + clientID,
		SecretHash:        secretHash,
		Name:              input.Name,
		Description:       input.Description,
		Env:               env,
		Status:            StatusActive,
		AllowedScopes:     input.AllowedScopes,
		RedirectURIs:      input.RedirectURIs,
		TenantID:          input.TenantID,
		PartnerID:         input.PartnerID,
		RateLimitPolicyID: rateLimitPolicyID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := c.repo.Upsert(ctx, app); err != nil {
		return nil, "", errors.Wrap(err, "[Credentials.Register] upsert")
	}
	return app, secret, nil
}

// RotateSecret replaces the app's secret and returns the new plaintext once.
func (c *Credentials) RotateSecret(ctx context.Context, appID string) (string, error) {
	secret, err := cryptoutil.RandomToken(clientSecretBytes)
	if err != nil {
		return "", errors.Wrap(err, "[Credentials.RotateSecret] client secret")
	}
	secret = clientSecretPrefix + secret

	secretHash, err := cryptoutil.HashSecret(secret)
	if err != nil {
		return "", errors.Wrap(err, "[Credentials.RotateSecret] hash secret")
	}
	if err := c.repo.UpdateSecretHash(ctx, appID, secretHash); err != nil {
		return "", errors.Wrap(err, "[Credentials.RotateSecret] update")
	}
	return secret, nil
}
