// Package auth composes credential verification, the authorization-session
// state machine, and the token issuer into the protocol operations the HTTP
// surface exposes.
package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/authsession"
	"github.com/pagemd/auth-server/oauth2"
	"github.com/pagemd/auth-server/token"
)

// Service executes the OAuth grant, revocation and introspection flows.
type Service struct {
	credentials *apps.Credentials
	sessions    *authsession.Manager
	tokens      *token.Manager
}

func NewService(credentials *apps.Credentials, sessions *authsession.Manager, tokens *token.Manager) (*Service, error) {
	if credentials == nil {
		return nil, errors.New("[auth.NewService] credentials service is required")
	}
	if sessions == nil {
		return nil, errors.New("[auth.NewService] session manager is required")
	}
	if tokens == nil {
		return nil, errors.New("[auth.NewService] token manager is required")
	}
	return &Service{
		credentials: credentials,
		sessions:    sessions,
		tokens:      tokens,
	}, nil
}

// AuthorizeRequest carries the GET /oauth/authorize query parameters.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request and opens a pending session.
// The client is looked up without a secret: the authorize endpoint is
// reached by redirect from a browser, before any credential is available.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*authsession.Session, error) {
	if oauth2.ResponseType(req.ResponseType) != oauth2.CodeResponseType {
		return nil, oauth2.NewError(oauth2.ErrorUnsupportedResponseType, "response_type must be 'code'")
	}

	app, err := s.credentials.Lookup(ctx, req.ClientID)
	if err != nil {
		return nil, asProtocolError(err)
	}

	session, err := s.sessions.Create(ctx, app, authsession.CreateInput{
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: oauth2.CodeMethodType(req.CodeChallengeMethod),
	})
	if err != nil {
		return nil, asProtocolError(err)
	}
	return session, nil
}

// CompleteAuthorization attaches the verified user identity to a pending
// session after the external consent step, or terminates it as denied.
func (s *Service) CompleteAuthorization(ctx context.Context, handle, tenantID, userID string, approved bool) (*authsession.Session, error) {
	session, err := s.sessions.Complete(ctx, handle, tenantID, userID, approved)
	if err != nil {
		return session, asProtocolError(err)
	}
	return session, nil
}

// TokenRequest carries the POST /oauth/token form parameters. Client
// credentials arrive either as form fields or HTTP Basic; the transport
// layer normalizes both into ClientID/ClientSecret before calling Token.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// Token dispatches a token request to its grant handler. Every grant
// authenticates the client first, so a suspended or revoked app fails here
// regardless of what it presents.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*oauth2.TokenResponse, error) {
	app, err := s.credentials.VerifyClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, asProtocolError(err)
	}

	switch oauth2.GrantType(req.GrantType) {
	case oauth2.AuthorizationCodeGrant:
		return s.grantAuthorizationCode(ctx, app, req)
	case oauth2.ClientCredentialsGrant:
		return s.grantClientCredentials(ctx, app, req)
	case oauth2.RefreshTokenGrant:
		return s.grantRefreshToken(ctx, app, req)
	default:
		return nil, oauth2.NewError(oauth2.ErrorUnsupportedGrantType, "unsupported grant_type")
	}
}

// Revoke invalidates a presented token. Always succeeds from the caller's
// perspective, even for unknown or malformed tokens: revocation never
// confirms whether a token existed.
func (s *Service) Revoke(ctx context.Context, clientID, clientSecret, tokenValue, typeHint string) error {
	if _, err := s.credentials.VerifyClient(ctx, clientID, clientSecret); err != nil {
		return asProtocolError(err)
	}
	if tokenValue == "" {
		return nil
	}

	switch typeHint {
	case oauth2.TokenTypeHintRefreshToken:
		s.tokens.RevokeRefreshToken(ctx, tokenValue)
	case oauth2.TokenTypeHintAccessToken:
		s.tokens.RevokeAccessToken(ctx, tokenValue)
	default:
		// No usable hint: try both shapes.
		s.tokens.RevokeRefreshToken(ctx, tokenValue)
		s.tokens.RevokeAccessToken(ctx, tokenValue)
	}
	return nil
}

// Introspect reports whether a token is live, with its claims when it is.
func (s *Service) Introspect(ctx context.Context, clientID, clientSecret, tokenValue string) (*oauth2.IntrospectionResponse, error) {
	if _, err := s.credentials.VerifyClient(ctx, clientID, clientSecret); err != nil {
		return nil, asProtocolError(err)
	}
	return s.tokens.Introspect(ctx, tokenValue), nil
}

// CleanupExpired sweeps expired sessions and token records.
func (s *Service) CleanupExpired(ctx context.Context) error {
	if _, err := s.sessions.CleanupExpired(ctx); err != nil {
		return errors.Wrap(err, "[Service.CleanupExpired] sessions")
	}
	return s.tokens.CleanupExpired(ctx)
}

// asProtocolError passes oauth2.Error values through unchanged and collapses
// everything else into server_error so no internal detail reaches the wire.
func asProtocolError(err error) error {
	var protocolErr *oauth2.Error
	if errors.As(err, &protocolErr) {
		return protocolErr
	}
	return oauth2.NewError(oauth2.ErrorServerError, "Internal server error")
}
