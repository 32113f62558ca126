package oauth2

// ResponseType represents the OAuth 2.0 response type.
// Determines what is returned from the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// The only response type this server supports (OAuth 2.1 drops implicit).
	// Returns an authorization code that must be exchanged for tokens at the token endpoint.
	// Example: /oauth/authorize?response_type=code&client_id=...
	CodeResponseType ResponseType = "code"
)

// CodeMethodType represents the PKCE (Proof Key for Code Exchange) challenge method.
// Used to prevent authorization code interception attacks.
type CodeMethodType string

const (
	// CodeMethodS256 indicates SHA-256 hashing is used for the code challenge.
	// Client sends: code_challenge = BASE64URL(SHA256(code_verifier))
	// Server validates: BASE64URL(SHA256(provided code_verifier)) == stored code_challenge
	CodeMethodS256 CodeMethodType = "S256"

	// CodeMethodPlain means no hashing, the code_verifier is sent directly.
	// Server validates: provided code_verifier == stored code_challenge
	// Weaker than S256, only protects against passive attacks.
	CodeMethodPlain CodeMethodType = "plain"
)

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Token request includes: code, redirect_uri, code_verifier (PKCE is mandatory).
	// Returns: access_token and refresh_token.
	AuthorizationCodeGrant GrantType = "authorization_code"

	// ClientCredentialsGrant allows machine-to-machine authentication.
	// Token request includes: client_id, client_secret, scope.
	// Returns: access_token only (machine credentials re-authenticate instead of rotating).
	ClientCredentialsGrant GrantType = "client_credentials"

	// RefreshTokenGrant exchanges a refresh token for a new token pair.
	// Token request includes: refresh_token, client_id, client_secret.
	// Returns: new access_token and a rotated refresh_token.
	RefreshTokenGrant GrantType = "refresh_token"
)

// Token type hints accepted by the revocation endpoint (RFC 7009).
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)
