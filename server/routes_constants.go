package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth Routes
	RouteWellKnownOpenIDConfig = "/.well-known/openid-configuration"
	RouteAuthorize             = "/oauth/authorize"
	RouteToken                 = "/oauth/token"
	RouteRevoke                = "/oauth/revoke"
	RouteIntrospect            = "/oauth/introspect"

	// Operational Routes
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)
