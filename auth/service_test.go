package auth_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pagemd/auth-server/apps"
	appsfakes "github.com/pagemd/auth-server/apps/repofakes"
	"github.com/pagemd/auth-server/auth"
	"github.com/pagemd/auth-server/authsession"
	sessionfakes "github.com/pagemd/auth-server/authsession/repofakes"
	"github.com/pagemd/auth-server/oauth2"
	"github.com/pagemd/auth-server/token"
	tokenfakes "github.com/pagemd/auth-server/token/repofakes"
)

const (
	issuer            = "https://api.test.example.com"
	audience          = "https://api.test.example.com"
	testTenantID      = "tenant-1"
	testUserID        = "user-1"
	testRedirectURI   = "http://localhost:3000/callback"
	testState         = "random-state-value"
	testCodeChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
	testCodeVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

// fakeClock is an adjustable clock shared by every manager in a fixture.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testFixture holds all test dependencies
type testFixture struct {
	appRepo     *appsfakes.FakeAppRepo
	partnerRepo *appsfakes.FakePartnerRepo
	sessionRepo *sessionfakes.FakeSessionRepo
	accessRepo  *tokenfakes.FakeAccessTokenRepo
	refreshRepo *tokenfakes.FakeRefreshTokenRepo
	credentials *apps.Credentials
	tokens      *token.Manager
	service     *auth.Service
	clock       *fakeClock

	app    *apps.App
	secret string
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ctx := context.Background()

	f := &testFixture{
		appRepo:     appsfakes.NewFakeAppRepo(),
		partnerRepo: appsfakes.NewFakePartnerRepo(),
		sessionRepo: sessionfakes.NewFakeSessionRepo(),
		accessRepo:  tokenfakes.NewFakeAccessTokenRepo(),
		refreshRepo: tokenfakes.NewFakeRefreshTokenRepo(),
		clock:       newFakeClock(),
	}

	require.NoError(t, f.partnerRepo.Upsert(ctx, &apps.Partner{
		ID:     "partner-1",
		Name:   "Test Partner",
		Status: apps.StatusActive,
	}))

	var err error
	f.credentials, err = apps.NewCredentials(f.appRepo, f.partnerRepo, apps.WithNowTime(f.clock.Now))
	require.NoError(t, err)

	f.app, f.secret, err = f.credentials.Register(ctx, apps.RegisterInput{
		PartnerID:     "partner-1",
		Name:          "Test App",
		Env:           apps.EnvSandbox,
		RedirectURIs:  []string{testRedirectURI},
		AllowedScopes: []string{"patient.read", "patient.write", "appointment.read"},
		TenantID:      testTenantID,
	})
	require.NoError(t, err)

	sessions, err := authsession.NewManager(f.sessionRepo, authsession.WithNowTime(f.clock.Now))
	require.NoError(t, err)

	keyring, err := token.NewKeyring(map[string]string{"test-kid": "test-signing-secret"}, "test-kid")
	require.NoError(t, err)

	f.tokens, err = token.New(f.accessRepo, f.refreshRepo, keyring,
		token.WithIssuer(issuer),
		token.WithAudience(audience),
		token.WithNowFunc(f.clock.Now),
	)
	require.NoError(t, err)

	f.service, err = auth.NewService(f.credentials, sessions, f.tokens)
	require.NoError(t, err)
	return f
}

// authorizeAndApprove runs the full authorize + consent steps and returns
// the authorization code.
func (f *testFixture) authorizeAndApprove(t *testing.T, scope string) string {
	t.Helper()
	ctx := context.Background()

	session, err := f.service.Authorize(ctx, auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.app.ClientID,
		RedirectURI:         testRedirectURI,
		Scope:               scope,
		State:               testState,
		CodeChallenge:       testCodeChallenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	require.NotEmpty(t, session.Handle)

	completed, err := f.service.CompleteAuthorization(ctx, session.Handle, testTenantID, testUserID, true)
	require.NoError(t, err)
	require.NotEmpty(t, completed.Code)
	require.NotEqual(t, session.Handle, completed.Code)
	return completed.Code
}

func (f *testFixture) exchangeCode(code string) (*oauth2.TokenResponse, error) {
	return f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: testCodeVerifier,
	})
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := setupTestFixture(t)

	code := f.authorizeAndApprove(t, "patient.read appointment.read")
	response, err := f.exchangeCode(code)
	require.NoError(t, err)

	require.NotEmpty(t, response.AccessToken)
	require.NotEmpty(t, response.RefreshToken)
	require.Equal(t, "Bearer", response.TokenType)
	require.Equal(t, "patient.read appointment.read", response.Scope)

	introspection, err := f.service.Introspect(context.Background(), f.app.ClientID, f.secret, response.AccessToken)
	require.NoError(t, err)
	require.True(t, introspection.Active)
	require.Equal(t, testTenantID, introspection.TenantID)
	require.Equal(t, testUserID, introspection.Sub)
	require.Equal(t, f.app.ClientID, introspection.ClientID)
	require.Equal(t, issuer, introspection.Iss)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	f := setupTestFixture(t)

	code := f.authorizeAndApprove(t, "patient.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	_, err = f.exchangeCode(code)
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)

	// Replaying a consumed code burns everything issued from it.
	introspection, err := f.service.Introspect(context.Background(), f.app.ClientID, f.secret, first.AccessToken)
	require.NoError(t, err)
	require.False(t, introspection.Active)

	_, err = f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestConcurrentCodeExchangeHasOneWinner(t *testing.T) {
	f := setupTestFixture(t)
	code := f.authorizeAndApprove(t, "patient.read")

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exchangeCode(code)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
		}
	}
	require.Equal(t, 1, successes)
}

func TestPKCEMismatchIsInvalidGrant(t *testing.T) {
	f := setupTestFixture(t)
	code := f.authorizeAndApprove(t, "patient.read")

	_, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		Code:         code,
		RedirectURI:  testRedirectURI,
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier-wrong",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)

	// The code is burned even though only PKCE failed.
	_, err = f.exchangeCode(code)
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestRedirectURIMustMatchAuthorizeValue(t *testing.T) {
	f := setupTestFixture(t)
	code := f.authorizeAndApprove(t, "patient.read")

	_, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "authorization_code",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		Code:         code,
		RedirectURI:  testRedirectURI + "/other",
		CodeVerifier: testCodeVerifier,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestExpiredCodeIsInvalidGrant(t *testing.T) {
	f := setupTestFixture(t)
	code := f.authorizeAndApprove(t, "patient.read")

	f.clock.Advance(11 * time.Minute)
	_, err := f.exchangeCode(code)
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestDeniedConsentIsAccessDenied(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	session, err := f.service.Authorize(ctx, auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.app.ClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "patient.read",
		CodeChallenge:       testCodeChallenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	_, err = f.service.CompleteAuthorization(ctx, session.Handle, "", "", false)
	requireOAuthError(t, err, oauth2.ErrorAccessDenied)
}

func TestAuthorizeRejectsUnregisteredRedirectURI(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Authorize(context.Background(), auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.app.ClientID,
		RedirectURI:         "http://evil.example.com/callback",
		Scope:               "patient.read",
		CodeChallenge:       testCodeChallenge,
		CodeChallengeMethod: "S256",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidRequest)
}

func TestAuthorizeRequiresPKCE(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Authorize(context.Background(), auth.AuthorizeRequest{
		ResponseType: "code",
		ClientID:     f.app.ClientID,
		RedirectURI:  testRedirectURI,
		Scope:        "patient.read",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidRequest)
}

func TestScopesNarrowToAllowedSet(t *testing.T) {
	f := setupTestFixture(t)

	session, err := f.service.Authorize(context.Background(), auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.app.ClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "patient.read admin.apps.manage",
		CodeChallenge:       testCodeChallenge,
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"patient.read"}, session.GrantedScopes)
}

func TestClientCredentialsGrant(t *testing.T) {
	f := setupTestFixture(t)

	response, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		Scope:        "patient.read",
	})
	require.NoError(t, err)
	require.NotEmpty(t, response.AccessToken)
	require.Empty(t, response.RefreshToken)

	introspection, err := f.service.Introspect(context.Background(), f.app.ClientID, f.secret, response.AccessToken)
	require.NoError(t, err)
	require.True(t, introspection.Active)
	require.Equal(t, testTenantID, introspection.TenantID)
	require.Equal(t, "app:"+f.app.ClientID, introspection.Sub)
}

func TestClientCredentialsRequiresTenantBinding(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	unbound, secret, err := f.credentials.Register(ctx, apps.RegisterInput{
		PartnerID:     "partner-1",
		Name:          "Unbound App",
		AllowedScopes: []string{"patient.read"},
	})
	require.NoError(t, err)

	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     unbound.ClientID,
		ClientSecret: secret,
		Scope:        "patient.read",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestRefreshTokenRotation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code := f.authorizeAndApprove(t, "patient.read appointment.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	rotated, err := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, rotated.RefreshToken)
	require.Equal(t, first.Scope, rotated.Scope)
}

func TestRefreshScopeNarrowingAndSupersetRejection(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code := f.authorizeAndApprove(t, "patient.read appointment.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	narrowed, err := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
		Scope:        "patient.read",
	})
	require.NoError(t, err)
	require.Equal(t, "patient.read", narrowed.Scope)

	// A widened request fails even though the app allows the scope.
	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: narrowed.RefreshToken,
		Scope:        "patient.read appointment.read",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidScope)
}

func TestRefreshTokenReuseRevokesChain(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code := f.authorizeAndApprove(t, "patient.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	second, err := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)

	third, err := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: second.RefreshToken,
	})
	require.NoError(t, err)

	// Presenting the already-rotated first token trips theft detection.
	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)

	// The whole forward chain is dead, including the newest pair.
	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: third.RefreshToken,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)

	introspection, err := f.service.Introspect(ctx, f.app.ClientID, f.secret, third.AccessToken)
	require.NoError(t, err)
	require.False(t, introspection.Active)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	f := setupTestFixture(t)

	code := f.authorizeAndApprove(t, "patient.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Token(context.Background(), auth.TokenRequest{
				GrantType:    "refresh_token",
				ClientID:     f.app.ClientID,
				ClientSecret: f.secret,
				RefreshToken: first.RefreshToken,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
		}
	}
	require.Equal(t, 1, successes)
}

func TestExpiredRefreshTokenIsInvalidGrant(t *testing.T) {
	f := setupTestFixture(t)

	code := f.authorizeAndApprove(t, "patient.read")
	first, err := f.exchangeCode(code)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestRevocationIsIdempotentAndOpaque(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code := f.authorizeAndApprove(t, "patient.read")
	response, err := f.exchangeCode(code)
	require.NoError(t, err)

	// Unknown tokens revoke successfully; existence never leaks.
	require.NoError(t, f.service.Revoke(ctx, f.app.ClientID, f.secret, "no-such-token", "access_token"))

	require.NoError(t, f.service.Revoke(ctx, f.app.ClientID, f.secret, response.AccessToken, "access_token"))
	require.NoError(t, f.service.Revoke(ctx, f.app.ClientID, f.secret, response.AccessToken, "access_token"))

	introspection, err := f.service.Introspect(ctx, f.app.ClientID, f.secret, response.AccessToken)
	require.NoError(t, err)
	require.False(t, introspection.Active)

	require.NoError(t, f.service.Revoke(ctx, f.app.ClientID, f.secret, response.RefreshToken, "refresh_token"))
	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "refresh_token",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
		RefreshToken: response.RefreshToken,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidGrant)
}

func TestSuspendedAppFailsEveryGrant(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	code := f.authorizeAndApprove(t, "patient.read")
	require.NoError(t, f.appRepo.UpdateStatus(ctx, f.app.ID, apps.StatusSuspended))

	_, err := f.exchangeCode(code)
	requireOAuthError(t, err, oauth2.ErrorInvalidClient)

	_, err = f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidClient)

	_, err = f.service.Authorize(ctx, auth.AuthorizeRequest{
		ResponseType:        "code",
		ClientID:            f.app.ClientID,
		RedirectURI:         testRedirectURI,
		Scope:               "patient.read",
		CodeChallenge:       testCodeChallenge,
		CodeChallengeMethod: "S256",
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidClient)
}

func TestSuspendedPartnerDisablesApp(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	require.NoError(t, f.partnerRepo.Upsert(ctx, &apps.Partner{
		ID:     "partner-1",
		Name:   "Test Partner",
		Status: apps.StatusSuspended,
	}))

	_, err := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
	})
	requireOAuthError(t, err, oauth2.ErrorInvalidClient)
}

func TestWrongSecretAndUnknownClientAreIndistinguishable(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	_, errWrongSecret := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     f.app.ClientID,
		ClientSecret: "pmds_wrong",
	})
	_, errUnknownClient := f.service.Token(ctx, auth.TokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "pmd_unknown",
		ClientSecret: "pmds_wrong",
	})
	requireOAuthError(t, errWrongSecret, oauth2.ErrorInvalidClient)
	requireOAuthError(t, errUnknownClient, oauth2.ErrorInvalidClient)
	require.Equal(t, errWrongSecret.Error(), errUnknownClient.Error())
}

func TestUnsupportedGrantType(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    "password",
		ClientID:     f.app.ClientID,
		ClientSecret: f.secret,
	})
	requireOAuthError(t, err, oauth2.ErrorUnsupportedGrantType)
}

func requireOAuthError(t *testing.T, err error, code oauth2.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var protocolErr *oauth2.Error
	require.ErrorAs(t, err, &protocolErr)
	require.Equal(t, code, protocolErr.Code)
}
