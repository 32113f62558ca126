package oauth2

// DiscoveryDocument is the OpenID-Connect-style discovery metadata served at
// /.well-known/openid-configuration. Read-only and unauthenticated.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
}

// PlatformScopes is the catalogue of API permission units the platform
// grants to client applications.
var PlatformScopes = []string{
	"patient.read", "patient.write",
	"appointment.read", "appointment.write",
	"encounter.read", "encounter.write",
	"document.read", "document.write",
	"medication.read", "medication.write",
	"admin.apps.manage",
	"webhook.manage",
	"ai.use",
}
