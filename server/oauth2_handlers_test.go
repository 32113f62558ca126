package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagemd/auth-server/apps"
	appsfakes "github.com/pagemd/auth-server/apps/repofakes"
	"github.com/pagemd/auth-server/auth"
	"github.com/pagemd/auth-server/authsession"
	sessionfakes "github.com/pagemd/auth-server/authsession/repofakes"
	"github.com/pagemd/auth-server/internal/config"
	"github.com/pagemd/auth-server/oauth2"
	"github.com/pagemd/auth-server/server"
	"github.com/pagemd/auth-server/token"
	tokenfakes "github.com/pagemd/auth-server/token/repofakes"
)

const (
	testRedirectURI   = "http://localhost:3000/callback"
	testCodeChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	testCodeVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

type serverFixture struct {
	server *server.Server
	app    *apps.App
	secret string
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	appRepo := appsfakes.NewFakeAppRepo()
	partnerRepo := appsfakes.NewFakePartnerRepo()
	require.NoError(t, partnerRepo.Upsert(ctx, &apps.Partner{ID: "partner-1", Name: "Partner", Status: apps.StatusActive}))

	credentials, err := apps.NewCredentials(appRepo, partnerRepo)
	require.NoError(t, err)

	app, secret, err := credentials.Register(ctx, apps.RegisterInput{
		PartnerID:     "partner-1",
		Name:          "Test App",
		RedirectURIs:  []string{testRedirectURI},
		AllowedScopes: []string{"patient.read", "appointment.read"},
		TenantID:      "tenant-1",
	})
	require.NoError(t, err)

	sessions, err := authsession.NewManager(sessionfakes.NewFakeSessionRepo())
	require.NoError(t, err)

	keyring, err := token.NewKeyring(map[string]string{"test": "test-secret"}, "test")
	require.NoError(t, err)
	tokens, err := token.New(tokenfakes.NewFakeAccessTokenRepo(), tokenfakes.NewFakeRefreshTokenRepo(), keyring)
	require.NoError(t, err)

	service, err := auth.NewService(credentials, sessions, tokens)
	require.NoError(t, err)

	srv, err := server.New(config.New(), service)
	require.NoError(t, err)
	return &serverFixture{server: srv, app: app, secret: secret}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	f.server.ServeHTTP(recorder, req)
	return recorder
}

func (f *serverFixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

// authorizeAndApprove drives GET /oauth/authorize plus the decision POST and
// returns the code from the redirect Location.
func (f *serverFixture) authorizeAndApprove(t *testing.T) string {
	t.Helper()

	query := url.Values{
		"response_type":         {"code"},
		"client_id":             {f.app.ClientID},
		"redirect_uri":          {testRedirectURI},
		"scope":                 {"patient.read"},
		"state":                 {"xyz"},
		"code_challenge":        {testCodeChallenge},
		"code_challenge_method": {"S256"},
	}
	response := f.do(httptest.NewRequest(http.MethodGet, server.RouteAuthorize+"?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, response.Code)

	var body struct {
		SessionHandle string `json:"session_handle"`
	}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	require.NotEmpty(t, body.SessionHandle)

	decision, err := json.Marshal(map[string]any{
		"session_handle": body.SessionHandle,
		"tenant_id":      "tenant-1",
		"user_id":        "user-1",
		"approved":       true,
	})
	require.NoError(t, err)

	decisionResponse := f.do(httptest.NewRequest(http.MethodPost, server.RouteAuthorize, bytes.NewReader(decision)))
	require.Equal(t, http.StatusFound, decisionResponse.Code)

	location, err := url.Parse(decisionResponse.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "xyz", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestDiscoveryDocument(t *testing.T) {
	f := setupServer(t)

	response := f.do(httptest.NewRequest(http.MethodGet, server.RouteWellKnownOpenIDConfig, nil))
	require.Equal(t, http.StatusOK, response.Code)

	var doc oauth2.DiscoveryDocument
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &doc))
	require.NotEmpty(t, doc.Issuer)
	require.Equal(t, doc.Issuer+server.RouteToken, doc.TokenEndpoint)
	require.Equal(t, []string{"code"}, doc.ResponseTypesSupported)
	require.Contains(t, doc.GrantTypesSupported, "refresh_token")
	require.Contains(t, doc.CodeChallengeMethodsSupported, "S256")
	require.Contains(t, doc.ScopesSupported, "patient.read")
}

func TestTokenEndpointFullFlow(t *testing.T) {
	f := setupServer(t)
	code := f.authorizeAndApprove(t)

	response := f.postForm(server.RouteToken, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {f.app.ClientID},
		"client_secret": {f.secret},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {testCodeVerifier},
	})
	require.Equal(t, http.StatusOK, response.Code)
	require.Equal(t, "no-store", response.Header().Get("Cache-Control"))

	var body oauth2.TokenResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	require.NotEmpty(t, body.RefreshToken)
	require.Equal(t, "Bearer", body.TokenType)
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	f := setupServer(t)

	form := url.Values{"grant_type": {"client_credentials"}, "scope": {"patient.read"}}
	req := httptest.NewRequest(http.MethodPost, server.RouteToken, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(f.app.ClientID, f.secret)

	response := f.do(req)
	require.Equal(t, http.StatusOK, response.Code)
}

func TestTokenEndpointInvalidClientIs401(t *testing.T) {
	f := setupServer(t)

	response := f.postForm(server.RouteToken, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {f.app.ClientID},
		"client_secret": {"pmds_wrong"},
	})
	require.Equal(t, http.StatusUnauthorized, response.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	require.Equal(t, "invalid_client", body["error"])
}

func TestAuthorizeErrorRedirectsWithState(t *testing.T) {
	f := setupServer(t)

	// Scope with no overlap: redirect-safe failure goes back to the client.
	query := url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {testRedirectURI},
		"scope":          {"ai.use"},
		"state":          {"xyz"},
		"code_challenge": {testCodeChallenge},
	}
	response := f.do(httptest.NewRequest(http.MethodGet, server.RouteAuthorize+"?"+query.Encode(), nil))
	require.Equal(t, http.StatusFound, response.Code)

	location, err := url.Parse(response.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_scope", location.Query().Get("error"))
	require.Equal(t, "xyz", location.Query().Get("state"))
	require.Empty(t, location.Query().Get("code"))
}

func TestAuthorizeUnregisteredRedirectDoesNotRedirect(t *testing.T) {
	f := setupServer(t)

	query := url.Values{
		"response_type":  {"code"},
		"client_id":      {f.app.ClientID},
		"redirect_uri":   {"http://evil.example.com/cb"},
		"scope":          {"patient.read"},
		"code_challenge": {testCodeChallenge},
	}
	response := f.do(httptest.NewRequest(http.MethodGet, server.RouteAuthorize+"?"+query.Encode(), nil))
	require.Equal(t, http.StatusBadRequest, response.Code)
	require.Empty(t, response.Header().Get("Location"))
}

func TestRevokeAlwaysReturns200ForAuthenticatedClient(t *testing.T) {
	f := setupServer(t)

	response := f.postForm(server.RouteRevoke, url.Values{
		"client_id":       {f.app.ClientID},
		"client_secret":   {f.secret},
		"token":           {"completely-unknown-token"},
		"token_type_hint": {"refresh_token"},
	})
	require.Equal(t, http.StatusOK, response.Code)
}

func TestIntrospectInactiveForGarbage(t *testing.T) {
	f := setupServer(t)

	response := f.postForm(server.RouteIntrospect, url.Values{
		"client_id":     {f.app.ClientID},
		"client_secret": {f.secret},
		"token":         {"garbage"},
	})
	require.Equal(t, http.StatusOK, response.Code)

	var body oauth2.IntrospectionResponse
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &body))
	require.False(t, body.Active)
}

func TestHealthz(t *testing.T) {
	f := setupServer(t)
	response := f.do(httptest.NewRequest(http.MethodGet, server.RouteHealthz, nil))
	require.Equal(t, http.StatusOK, response.Code)
}
