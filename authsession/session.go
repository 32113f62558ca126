// Package authsession manages pending authorization requests: their creation
// at the authorize endpoint, completion by the external consent step, and
// single-use consumption by the authorization_code grant.
package authsession

import (
	"time"

	"github.com/pagemd/auth-server/oauth2"
)

// Status is the explicit state of an authorization session. Transitions are
// encoded in the repo operations so illegal ones are unrepresentable:
//
//	Pending  -> Authorized -> Consumed (terminal)
//	Pending/Authorized -> Expired (terminal, time-based at read)
//	Pending  -> Denied (terminal, user declined)
type Status string

const (
	StatusPending    Status = "pending"
	StatusAuthorized Status = "authorized"
	StatusConsumed   Status = "consumed"
	StatusExpired    Status = "expired"
	StatusDenied     Status = "denied"
)

// Session is the authorization-code record, before and after code issuance.
// Handle is the opaque session identifier returned from the authorize
// endpoint; Code is the final high-entropy authorization code assigned when
// consent completes. The two are distinct so the pre-consent handle can
// never be exchanged for tokens.
type Session struct {
	Handle              string
	Code                string
	AppID               string
	ClientID            string
	TenantID            string
	UserID              string
	RequestedScopes     []string
	GrantedScopes       []string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod oauth2.CodeMethodType
	State               string
	Nonce               string
	Status              Status
	ExpiresAt           time.Time
	CreatedAt           time.Time
	UsedAt              *time.Time
}

// ExpiredAt reports whether the session's fixed window has passed. Expiry is
// declarative: wall clock against the stored timestamp, never extended.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
