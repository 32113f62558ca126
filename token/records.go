package token

import "time"

// AccessTokenRecord is the revocation-tracking shadow of an issued signed
// token. The bearer token itself is stateless; this row exists purely so a
// compromised or logically-revoked token can be rejected before its natural
// expiry. Keyed by jti.
type AccessTokenRecord struct {
	JTI            string
	AppID          string
	TenantID       string
	UserID         string // empty for client_credentials tokens
	Scopes         []string
	RefreshTokenID string // refresh token this access token was paired with
	SessionID      string // authorization session the grant traces back to
	ExpiresAt      time.Time
	CreatedAt      time.Time
	RevokedAt      *time.Time
}

// RefreshTokenRecord stores the SHA-256 hash of the opaque refresh secret
// plus its grant metadata. ParentID links each rotation to the token it
// replaced, forming an append-only chain the theft-detection walk follows.
type RefreshTokenRecord struct {
	ID        string
	TokenHash string
	AppID     string
	TenantID  string
	UserID    string
	Scopes    []string
	ParentID  string // the token this one was rotated from
	SessionID string // authorization session the chain is rooted in
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the record has been flipped to a revoked state.
func (r *RefreshTokenRecord) Revoked() bool {
	return r.RevokedAt != nil
}

// ExpiredAt compares wall clock against the stored expiry.
func (r *RefreshTokenRecord) ExpiredAt(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
