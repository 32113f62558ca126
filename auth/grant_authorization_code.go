package auth

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/internal/cryptoutil"
	"github.com/pagemd/auth-server/oauth2"
	"github.com/pagemd/auth-server/token"
)

// PKCE verifier length bounds from RFC 7636 §4.1.
const (
	codeVerifierMinLength = 43
	codeVerifierMaxLength = 128
)

// grantAuthorizationCode exchanges an authorization code for a token pair.
// The code is consumed before anything else is checked: a code that fails
// PKCE or redirect validation is still burned, and can never be retried.
func (s *Service) grantAuthorizationCode(ctx context.Context, app *apps.App, req TokenRequest) (*oauth2.TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "code is required")
	}
	if req.RedirectURI == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "redirect_uri is required")
	}
	if req.CodeVerifier == "" {
		return nil, oauth2.ErrCodeVerifierRequired
	}
	if len(req.CodeVerifier) < codeVerifierMinLength || len(req.CodeVerifier) > codeVerifierMaxLength {
		return nil, oauth2.ErrCodeVerifierInvalid
	}

	session, err := s.sessions.Consume(ctx, req.Code)
	if err != nil {
		if errors.Is(err, oauth2.ErrCodeAlreadyUsed) && session != nil {
			// Replay of a consumed code: burn everything it ever minted.
			s.tokens.RevokeBySession(ctx, session.Handle)
		}
		return nil, asProtocolError(err)
	}

	if session.ClientID != app.ClientID {
		return nil, oauth2.ErrCodeNotFound
	}
	// Byte-identical to the authorize-time value, not merely registered.
	if session.RedirectURI != req.RedirectURI {
		return nil, oauth2.ErrRedirectURIMismatch
	}
	if !cryptoutil.VerifyPKCE(req.CodeVerifier, session.CodeChallenge, string(session.CodeChallengeMethod)) {
		return nil, oauth2.ErrCodeVerifierInvalid
	}

	response, err := s.tokens.IssuePair(ctx, token.IssueInput{
		App:       app,
		TenantID:  session.TenantID,
		UserID:    session.UserID,
		Scopes:    session.GrantedScopes,
		SessionID: session.Handle,
	}, "")
	if err != nil {
		return nil, asProtocolError(err)
	}
	return response, nil
}
