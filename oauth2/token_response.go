package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749.
// Returned from the /oauth/token endpoint for all grant types.
type TokenResponse struct {
	// AccessToken is the signed JWT used to access protected resources.
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// TokenType indicates how to use the access token (always "Bearer").
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	// Note: this is a hint - the authoritative expiry is the JWT's "exp" claim.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is an opaque token used to obtain new access tokens.
	// Absent for the client_credentials grant. Rotates on each use; the
	// plaintext is returned exactly once and never stored server-side.
	RefreshToken string `json:"refresh_token,omitempty"`

	// Scope is the space-separated set of granted permissions.
	// May be narrower than requested if some scopes were not allowed.
	Scope string `json:"scope,omitempty"`
}

// IntrospectionResponse is the RFC 7662 introspection result. When Active is
// false no other field is populated, so an unknown or revoked token leaks
// nothing beyond its inactivity.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
	Jti       string `json:"jti,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
}
