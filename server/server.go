package server

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pagemd/auth-server/auth"
	"github.com/pagemd/auth-server/internal/config"
)

// Server is the HTTP surface over the authorization service. It is a plain
// http.Handler; the listener lifecycle lives in cmd/server.
type Server struct {
	env      string
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	auth     *auth.Service
	validate *validator.Validate
}

func New(cfg config.Config, authService *auth.Service) (*Server, error) {
	if authService == nil {
		return nil, errors.New("[server.New] authorization service is required")
	}

	s := &Server{
		mux:      http.NewServeMux(),
		config:   cfg,
		auth:     authService,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.env = cfg.GetEnv()

	s.initRoutes()
	s.logRoutes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("GET "+RouteWellKnownOpenIDConfig, ChainMiddleware(s.WellKnownOpenIDConfig(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteAuthorize, ChainMiddleware(s.Authorize(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAuthorize, ChainMiddleware(s.AuthorizeDecision(), s.APIMiddleware()...))

	s.RegisterRouteHandler("POST "+RouteToken, ChainMiddleware(s.Token(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteRevoke, ChainMiddleware(s.Revoke(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteIntrospect, ChainMiddleware(s.Introspect(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteHealthz, ChainMiddleware(s.Healthz(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.Handler())
}

func (s *Server) logRoutes() {
	for _, route := range s.routes {
		log.Info().Str("route", route).Msg("registered")
	}
}
