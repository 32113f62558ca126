package apps

import "time"

// Status is the lifecycle state of a registered client application.
// Apps are never hard-deleted; revocation is a status transition.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Env tags an app as sandbox or production. It is carried into every issued
// token so resource servers can segregate traffic.
type Env string

const (
	EnvSandbox    Env = "sandbox"
	EnvProduction Env = "production"
)

// Rate-limit policies assigned at registration time based on environment.
const (
	RateLimitPolicySandbox    = "00000000-0000-0000-0000-000000000001"
	RateLimitPolicyProduction = "00000000-0000-0000-0000-000000000002"
)

// App is a registered client application. SecretHash is the bcrypt hash of
// the client secret; the plaintext exists only in the registration response.
type App struct {
	ID                string    `json:"id"`
	ClientID          string    `json:"client_id"`
	SecretHash        string    `json:"-"`
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Env               Env       `json:"env"`
	Status            Status    `json:"status"`
	AllowedScopes     []string  `json:"allowed_scopes"`
	RedirectURIs      []string  `json:"redirect_uris"`
	TenantID          string    `json:"tenant_id,omitempty"` // optional tenant binding
	PartnerID         string    `json:"partner_id"`
	RateLimitPolicyID string    `json:"rate_limit_policy_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasRedirectURI checks the registered list with exact matching only.
// Prefix or wildcard matching would open redirect attacks.
func (a *App) HasRedirectURI(uri string) bool {
	for _, registered := range a.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasScope checks if the app is allowed a specific scope.
func (a *App) HasScope(scope string) bool {
	for _, s := range a.AllowedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Partner is the organization that owns one or more apps. A suspended
// partner disables every app it owns.
type Partner struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}
