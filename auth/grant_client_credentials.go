package auth

import (
	"context"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/oauth2"
	"github.com/pagemd/auth-server/token"
)

// grantClientCredentials issues a machine access token. No user is involved
// so the tenant must come from the app's registration-time binding; no
// refresh token is issued because the client can always re-authenticate.
func (s *Service) grantClientCredentials(ctx context.Context, app *apps.App, req TokenRequest) (*oauth2.TokenResponse, error) {
	if app.TenantID == "" {
		return nil, oauth2.ErrTenantBindingMissing
	}

	requested := oauth2.SplitScopes(req.Scope)
	if len(requested) == 0 {
		requested = app.AllowedScopes
	}
	granted := oauth2.IntersectScopes(requested, app.AllowedScopes)
	if len(granted) == 0 {
		return nil, oauth2.ErrNoValidScopes
	}

	response, err := s.tokens.IssueAccessOnly(ctx, token.IssueInput{
		App:      app,
		TenantID: app.TenantID,
		Scopes:   granted,
	})
	if err != nil {
		return nil, asProtocolError(err)
	}
	return response, nil
}
