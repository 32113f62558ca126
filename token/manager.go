package token

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/pagemd/auth-server/apps"
	"github.com/pagemd/auth-server/internal/cryptoutil"
	"github.com/pagemd/auth-server/oauth2"
)

const refreshTokenBytes = 48

// Manager mints signed access tokens and opaque refresh tokens, persists
// their revocation shadows, and owns refresh-token rotation with theft
// detection.
type Manager struct {
	accessRepo    AccessTokenRepo
	refreshRepo   RefreshTokenRepo
	signer        Signer
	revokedCache  RevokedTokenCache
	issuer        string
	audience      string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	nowFunc       func() time.Time
}

type ManagerOption func(*Manager)

func WithIssuer(issuer string) ManagerOption {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

func WithAudience(audience string) ManagerOption {
	return func(m *Manager) {
		m.audience = audience
	}
}

func WithTokenExpiry(accessExpiry, refreshExpiry time.Duration) ManagerOption {
	return func(m *Manager) {
		m.accessExpiry = accessExpiry
		m.refreshExpiry = refreshExpiry
	}
}

func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

func WithRevokedTokenCache(cache RevokedTokenCache) ManagerOption {
	return func(m *Manager) {
		m.revokedCache = cache
	}
}

func New(accessRepo AccessTokenRepo, refreshRepo RefreshTokenRepo, signer Signer, options ...ManagerOption) (*Manager, error) {
	if accessRepo == nil {
		return nil, errors.New("[token.New] access token repo is required")
	}
	if refreshRepo == nil {
		return nil, errors.New("[token.New] refresh token repo is required")
	}
	if signer == nil {
		return nil, errors.New("[token.New] signer is required")
	}

	m := &Manager{
		accessRepo:   accessRepo,
		refreshRepo:  refreshRepo,
		signer:       signer,
		revokedCache: NewRevokedTokenCache(),
		nowFunc:      time.Now,
	}
	for _, opt := range options {
		opt(m)
	}

	if m.accessExpiry == 0 {
		m.accessExpiry = time.Hour
	}
	if m.refreshExpiry == 0 {
		m.refreshExpiry = 30 * 24 * time.Hour
	}
	return m, nil
}

// Now returns the manager's clock reading, so callers evaluate expiry
// against the same (possibly injected) clock used at issuance.
func (m *Manager) Now() time.Time {
	return m.nowFunc()
}

// IssueInput carries the grant context into issuance: the validated app, the
// resolved tenant, the user (empty for machine grants), the granted scopes,
// and the authorization session the grant traces back to (empty for grants
// that bypass the session manager).
type IssueInput struct {
	App       *apps.App
	TenantID  string
	UserID    string
	Scopes    []string
	SessionID string
}

// IssuePair mints a refresh token and its paired access token. parentID
// links the refresh token into a rotation chain when the pair replaces an
// earlier one. The pair persists as a unit: if the second write fails the
// first is compensated, so a failed exchange never leaves a usable token.
func (m *Manager) IssuePair(ctx context.Context, input IssueInput, parentID string) (*oauth2.TokenResponse, error) {
	refreshPlaintext, refreshRecord, err := m.IssueRefreshToken(ctx, input, parentID)
	if err != nil {
		return nil, err
	}

	accessToken, expiresIn, err := m.IssueAccessToken(ctx, input, refreshRecord.ID)
	if err != nil {
		// Compensate: the refresh token must not survive a failed pair.
		_ = m.refreshRepo.Revoke(ctx, refreshRecord.ID, m.nowFunc())
		return nil, err
	}

	return &oauth2.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		RefreshToken: refreshPlaintext,
		Scope:        oauth2.JoinScopes(input.Scopes),
	}, nil
}

// IssueAccessOnly mints an access token with no refresh token, for the
// client_credentials grant.
func (m *Manager) IssueAccessOnly(ctx context.Context, input IssueInput) (*oauth2.TokenResponse, error) {
	accessToken, expiresIn, err := m.IssueAccessToken(ctx, input, "")
	if err != nil {
		return nil, err
	}
	return &oauth2.TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       oauth2.JoinScopes(input.Scopes),
	}, nil
}

// IssueAccessToken builds the signed JWT and persists its revocation shadow
// keyed by jti. The subject is the user id, or a synthetic app identity for
// machine tokens.
func (m *Manager) IssueAccessToken(ctx context.Context, input IssueInput, refreshTokenID string) (string, int, error) {
	now := m.nowFunc()
	jti := uuid.New().String()
	expiresAt := now.Add(m.accessExpiry)

	sub := input.UserID
	if sub == "" {
		sub = "app:" + input.App.ClientID
	}

	claims := jwt.MapClaims{
		"iss":       m.issuer,
		"sub":       sub,
		"aud":       m.audience,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
		"jti":       jti,
		"tenant_id": input.TenantID,
		"scopes":    input.Scopes,
		"client_id": input.App.ClientID,
		"app_name":  input.App.Name,
		"env":       string(input.App.Env),
	}

	signed, err := m.signer.Sign(claims)
	if err != nil {
		return "", 0, errors.Wrap(err, "[Manager.IssueAccessToken] sign")
	}

	record := &AccessTokenRecord{
		JTI:            jti,
		AppID:          input.App.ID,
		TenantID:       input.TenantID,
		UserID:         input.UserID,
		Scopes:         input.Scopes,
		RefreshTokenID: refreshTokenID,
		SessionID:      input.SessionID,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}
	if err := m.accessRepo.Create(ctx, record); err != nil {
		return "", 0, errors.Wrap(err, "[Manager.IssueAccessToken] store record")
	}

	return signed, int(m.accessExpiry.Seconds()), nil
}

// IssueRefreshToken generates the opaque secret, stores only its hash plus
// metadata, and returns the plaintext exactly once.
func (m *Manager) IssueRefreshToken(ctx context.Context, input IssueInput, parentID string) (string, *RefreshTokenRecord, error) {
	plaintext, err := cryptoutil.RandomToken(refreshTokenBytes)
	if err != nil {
		return "", nil, errors.Wrap(err, "[Manager.IssueRefreshToken] generate")
	}

	now := m.nowFunc()
	record := &RefreshTokenRecord{
		ID:        uuid.New().String(),
		TokenHash: cryptoutil.HashToken(plaintext),
		AppID:     input.App.ID,
		TenantID:  input.TenantID,
		UserID:    input.UserID,
		Scopes:    input.Scopes,
		ParentID:  parentID,
		SessionID: input.SessionID,
		ExpiresAt: now.Add(m.refreshExpiry),
		CreatedAt: now,
	}
	if err := m.refreshRepo.Create(ctx, record); err != nil {
		return "", nil, errors.Wrap(err, "[Manager.IssueRefreshToken] store record")
	}
	return plaintext, record, nil
}

// LookupRefreshToken resolves a presented refresh token by its hash.
func (m *Manager) LookupRefreshToken(ctx context.Context, plaintext string) (*RefreshTokenRecord, error) {
	record, err := m.refreshRepo.GetByHash(ctx, cryptoutil.HashToken(plaintext))
	if err != nil {
		return nil, oauth2.ErrRefreshTokenInvalid
	}
	return record, nil
}

// RotateRefreshToken performs the single valid use of a refresh token:
// atomically revoke the presented record and mint a new pair parented to
// it. Exactly one of N concurrent rotations of the same token wins; losers
// get invalid_grant with the reuse cascade applied, because by the time
// they lose the token has provably been used twice.
func (m *Manager) RotateRefreshToken(ctx context.Context, app *apps.App, record *RefreshTokenRecord, scopes []string) (*oauth2.TokenResponse, error) {
	if err := m.refreshRepo.Revoke(ctx, record.ID, m.nowFunc()); err != nil {
		if errors.Is(err, ErrConflict) {
			m.HandleRefreshReuse(ctx, record)
			return nil, oauth2.ErrRefreshTokenRevoked
		}
		return nil, errors.Wrap(err, "[Manager.RotateRefreshToken] revoke old")
	}

	return m.IssuePair(ctx, IssueInput{
		App:       app,
		TenantID:  record.TenantID,
		UserID:    record.UserID,
		Scopes:    scopes,
		SessionID: record.SessionID,
	}, record.ID)
}

// HandleRefreshReuse is the theft-detection response to a revoked refresh
// token being presented again. The record has no forward pointer, so the
// walk goes parent->children iteratively: every token whose parent chain
// includes the presented one is revoked, along with each token's paired
// access tokens. Either a benign client retry or real theft; logged as a
// security event and treated as compromise both ways. Best effort: failures
// here never change the client-visible invalid_grant.
func (m *Manager) HandleRefreshReuse(ctx context.Context, record *RefreshTokenRecord) {
	log.Warn().
		Str("refresh_token_id", record.ID).
		Str("app_id", record.AppID).
		Str("tenant_id", record.TenantID).
		Msg("revoked refresh token presented again; revoking rotation chain")

	now := m.nowFunc()
	queue := []string{record.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if _, err := m.accessRepo.RevokeByRefreshTokenID(ctx, id, now); err != nil {
			log.Error().Err(err).Str("refresh_token_id", id).Msg("cascade access-token revocation failed")
		}

		children, err := m.refreshRepo.ListByParent(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("refresh_token_id", id).Msg("cascade chain walk failed")
			continue
		}
		for _, child := range children {
			if err := m.refreshRepo.Revoke(ctx, child.ID, now); err != nil && !errors.Is(err, ErrConflict) {
				log.Error().Err(err).Str("refresh_token_id", child.ID).Msg("cascade refresh-token revocation failed")
			}
			queue = append(queue, child.ID)
		}
	}
}

// RevokeBySession revokes every access and refresh token ever issued from an
// authorization session. Invoked when a consumed code is replayed.
func (m *Manager) RevokeBySession(ctx context.Context, sessionID string) {
	now := m.nowFunc()
	if _, err := m.refreshRepo.RevokeBySession(ctx, sessionID, now); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("session refresh-token revocation failed")
	}
	if _, err := m.accessRepo.RevokeBySession(ctx, sessionID, now); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("session access-token revocation failed")
	}
}

// RevokeAccessToken extracts the jti without full verification and flips the
// matching record. Revocation must work even for tokens a strict claim
// parser would reject, and must succeed for unknown tokens.
func (m *Manager) RevokeAccessToken(ctx context.Context, rawToken string) {
	parsed, _, err := jwt.NewParser().ParseUnverified(rawToken, jwt.MapClaims{})
	if err != nil {
		return // not a JWT; nothing to revoke, still success
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return
	}
	jti, _ := claims["jti"].(string)
	if jti == "" {
		return
	}

	now := m.nowFunc()
	if err := m.accessRepo.Revoke(ctx, jti, now); err != nil {
		log.Error().Err(err).Msg("access token revocation failed")
		return
	}
	if exp, ok := claims["exp"].(float64); ok {
		m.revokedCache.Add(jti, time.Unix(int64(exp), 0))
	}
}

// RevokeRefreshToken flips the record matching the presented plaintext,
// idempotently. Unknown tokens are silently accepted.
func (m *Manager) RevokeRefreshToken(ctx context.Context, plaintext string) {
	if err := m.refreshRepo.RevokeByHash(ctx, cryptoutil.HashToken(plaintext), m.nowFunc()); err != nil {
		log.Error().Err(err).Msg("refresh token revocation failed")
	}
}

// Introspect verifies signature and expiry, then checks the revocation
// record. Any failure yields an inactive result with no claims.
func (m *Manager) Introspect(ctx context.Context, rawToken string) *oauth2.IntrospectionResponse {
	inactive := &oauth2.IntrospectionResponse{Active: false}

	parsed, err := jwt.NewParser(jwt.WithTimeFunc(m.nowFunc)).Parse(rawToken, m.signer.GetVerificationKey)
	if err != nil || !parsed.Valid {
		return inactive
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return inactive
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return inactive
	}
	if m.revokedCache.IsRevoked(jti) {
		return inactive
	}
	record, err := m.accessRepo.GetByJTI(ctx, jti)
	if err != nil || record.RevokedAt != nil {
		return inactive
	}

	iss, _ := claims["iss"].(string)
	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	clientID, _ := claims["client_id"].(string)
	iat, _ := claims["iat"].(float64)
	exp, _ := claims["exp"].(float64)

	var scopes []string
	if claimScopes, ok := claims["scopes"].([]any); ok {
		for _, s := range claimScopes {
			if scope, ok := s.(string); ok {
				scopes = append(scopes, scope)
			}
		}
	}

	return &oauth2.IntrospectionResponse{
		Active:    true,
		Scope:     oauth2.JoinScopes(scopes),
		ClientID:  clientID,
		Username:  sub,
		TokenType: "Bearer",
		Exp:       int64(exp),
		Iat:       int64(iat),
		Sub:       sub,
		Aud:       aud,
		Iss:       iss,
		Jti:       jti,
		TenantID:  tenantID,
	}
}

// CleanupExpired deletes token records past their natural expiry.
func (m *Manager) CleanupExpired(ctx context.Context) error {
	now := m.nowFunc()
	if _, err := m.accessRepo.DeleteExpired(ctx, now); err != nil {
		return errors.Wrap(err, "[Manager.CleanupExpired] access tokens")
	}
	if _, err := m.refreshRepo.DeleteExpired(ctx, now); err != nil {
		return errors.Wrap(err, "[Manager.CleanupExpired] refresh tokens")
	}
	return nil
}
