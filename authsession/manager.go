package authsession

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/internal/cryptoutil"
	"github.com/pagemd/auth-server/oauth2"
)

const (
	handleGenerationLength = 32
	codeGenerationLength   = 48

	defaultCodeExpiry = 10 * time.Minute
)

// Manager creates and resolves pending authorization requests. It is
// independent of user identity until consent completes.
type Manager struct {
	repo       Repo
	codeExpiry time.Duration
	nowTime    func() time.Time
}

type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithCodeExpiry overrides the fixed session/code lifetime.
func WithCodeExpiry(expiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.codeExpiry = expiry
	}
}

func NewManager(repo Repo, options ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("[authsession.NewManager] repo is required")
	}
	m := &Manager{
		repo:       repo,
		codeExpiry: defaultCodeExpiry,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// CreateInput carries the authorize-endpoint parameters into Create.
type CreateInput struct {
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
}

// Create validates the authorization request against the app and stores a
// Pending session. The returned handle is distinct from the eventual
// authorization code. Validation order matters: an unregistered redirect URI
// fails before any session exists, so nothing can ever be sent to an
// attacker-controlled URI.
func (m *Manager) Create(ctx context.Context, app *apps.App, input CreateInput) (*Session, error) {
	if !app.HasRedirectURI(input.RedirectURI) {
		return nil, oauth2.ErrRedirectURINotRegistered
	}

	// PKCE is mandatory for every authorization-code client (OAuth 2.1).
	if input.CodeChallenge == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge is required (PKCE)")
	}
	method := input.CodeChallengeMethod
	if method == "" {
		method = oauth2.CodeMethodS256
	}
	if method != oauth2.CodeMethodS256 && method != oauth2.CodeMethodPlain {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "code_challenge_method must be 'S256' or 'plain'")
	}

	requested := oauth2.SplitScopes(input.Scope)
	granted := oauth2.IntersectScopes(requested, app.AllowedScopes)
	if len(granted) == 0 {
		return nil, oauth2.ErrNoValidScopes
	}

	handle, err := cryptoutil.RandomToken(handleGenerationLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] session handle")
	}

	now := m.nowTime()
	session := &Session{
		Handle:              handle,
		AppID:               app.ID,
		ClientID:            app.ClientID,
		TenantID:            app.TenantID,
		RequestedScopes:     requested,
		GrantedScopes:       granted,
		RedirectURI:         input.RedirectURI,
		CodeChallenge:       input.CodeChallenge,
		CodeChallengeMethod: method,
		State:               input.State,
		Nonce:               input.Nonce,
		Status:              StatusPending,
		ExpiresAt:           now.Add(m.codeExpiry),
		CreatedAt:           now,
	}
	if err := m.repo.Create(ctx, session); err != nil {
		return nil, errors.Wrap(err, "[Manager.Create] store session")
	}
	return session, nil
}

// Complete finishes the consent step. If the user declined, the session
// terminates as Denied and the caller redirects with access_denied. If
// approved, the final high-entropy code is assigned, tenant/user attached,
// and the expiry reset to a fresh window.
func (m *Manager) Complete(ctx context.Context, handle, tenantID, userID string, approved bool) (*Session, error) {
	session, err := m.repo.GetByHandle(ctx, handle)
	if err != nil {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "Invalid or expired authorization session")
	}
	now := m.nowTime()
	if session.Status != StatusPending || session.ExpiredAt(now) {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "Invalid or expired authorization session")
	}

	if !approved {
		denied, err := m.repo.Deny(ctx, handle)
		if err != nil {
			return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "Invalid or expired authorization session")
		}
		return denied, oauth2.NewError(oauth2.ErrorAccessDenied, "User denied the request")
	}

	if tenantID == "" || userID == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "tenant_id and user_id are required")
	}

	code, err := cryptoutil.RandomToken(codeGenerationLength)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Complete] authorization code")
	}

	completed, err := m.repo.Complete(ctx, handle, tenantID, userID, code, now.Add(m.codeExpiry))
	if err != nil {
		// CAS lost: a concurrent completion or denial got there first.
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "Invalid or expired authorization session")
	}
	return completed, nil
}

// Consume exchanges an authorization code exactly once. Two concurrent
// exchanges of the same code produce one success and one invalid_grant; the
// loser has no side effect. A replay of an already-consumed code returns the
// session alongside ErrCodeAlreadyUsed so the caller can cascade-revoke
// every token issued from it.
func (m *Manager) Consume(ctx context.Context, code string) (*Session, error) {
	now := m.nowTime()
	session, err := m.repo.Consume(ctx, code, now)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrNotFound) {
		return nil, errors.Wrap(err, "[Manager.Consume] consume")
	}

	// The CAS lost; classify why for the caller.
	existing, lookupErr := m.repo.GetByCode(ctx, code)
	if lookupErr != nil {
		return nil, oauth2.ErrCodeNotFound
	}
	switch {
	case existing.Status == StatusConsumed:
		return existing, oauth2.ErrCodeAlreadyUsed
	case existing.ExpiredAt(now):
		return nil, oauth2.ErrCodeExpired
	default:
		return nil, oauth2.ErrCodeNotFound
	}
}

// CleanupExpired removes sessions past their window. Non-blocking
// housekeeping; live exchanges always win because Consume reads and mutates
// in the same statement.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.repo.DeleteExpired(ctx, m.nowTime())
}
