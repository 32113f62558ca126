package auth

import (
	"context"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/oauth2"
)

// grantRefreshToken rotates a refresh token: the presented token is revoked
// and a new pair is issued, parented to it. Presenting a token that was
// already rotated trips theft detection and invalidates its whole chain.
func (s *Service) grantRefreshToken(ctx context.Context, app *apps.App, req TokenRequest) (*oauth2.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth2.NewError(oauth2.ErrorInvalidRequest, "refresh_token is required")
	}

	record, err := s.tokens.LookupRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, asProtocolError(err)
	}
	if record.AppID != app.ID {
		return nil, oauth2.ErrRefreshTokenInvalid
	}
	if record.Revoked() {
		s.tokens.HandleRefreshReuse(ctx, record)
		return nil, oauth2.ErrRefreshTokenRevoked
	}
	if record.ExpiredAt(s.tokens.Now()) {
		return nil, oauth2.ErrRefreshTokenExpired
	}

	// A refresh may narrow the grant but never widen it.
	scopes := record.Scopes
	if req.Scope != "" {
		requested := oauth2.SplitScopes(req.Scope)
		if !oauth2.IsScopeSubset(requested, record.Scopes) {
			return nil, oauth2.ErrScopeNotGranted
		}
		scopes = requested
	}

	response, err := s.tokens.RotateRefreshToken(ctx, app, record, scopes)
	if err != nil {
		return nil, asProtocolError(err)
	}
	return response, nil
}
