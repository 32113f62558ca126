package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/pagemd/auth-server/auth"
	"github.com/pagemd/auth-server/oauth2"
)

const contentTypeJSON = "application/json; charset=utf-8"

var errServerError = oauth2.NewError(oauth2.ErrorServerError, "Internal server error")

// WellKnownOpenIDConfig serves the discovery document.
func (s *Server) WellKnownOpenIDConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		issuer := s.config.GetIssuer()
		doc := oauth2.DiscoveryDocument{
			Issuer:                issuer,
			AuthorizationEndpoint: issuer + RouteAuthorize,
			TokenEndpoint:         issuer + RouteToken,
			RevocationEndpoint:    issuer + RouteRevoke,
			IntrospectionEndpoint: issuer + RouteIntrospect,
			ResponseTypesSupported: []string{
				string(oauth2.CodeResponseType),
			},
			GrantTypesSupported: []string{
				string(oauth2.AuthorizationCodeGrant),
				string(oauth2.ClientCredentialsGrant),
				string(oauth2.RefreshTokenGrant),
			},
			TokenEndpointAuthMethodsSupported: []string{
				"client_secret_basic",
				"client_secret_post",
			},
			CodeChallengeMethodsSupported: []string{
				string(oauth2.CodeMethodS256),
				string(oauth2.CodeMethodPlain),
			},
			ScopesSupported: oauth2.PlatformScopes,
		}
		w.Header().Set("Content-Type", contentTypeJSON)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(doc)
	}
}

type authorizeRequest struct {
	ResponseType        string `validate:"required"`
	ClientID            string `validate:"required"`
	RedirectURI         string `validate:"required,url"`
	Scope               string `validate:"required"`
	State               string
	Nonce               string
	CodeChallenge       string `validate:"required"`
	CodeChallengeMethod string `validate:"omitempty,oneof=S256 plain"`
}

// Authorize opens a pending authorization session. The response hands the
// session handle to the external login/consent step; the final code only
// exists after that step completes. Protocol errors go back to the
// redirect URI with state, except when the redirect URI itself cannot be
// trusted.
func (s *Server) Authorize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		req := authorizeRequest{
			ResponseType:        query.Get("response_type"),
			ClientID:            query.Get("client_id"),
			RedirectURI:         query.Get("redirect_uri"),
			Scope:               query.Get("scope"),
			State:               query.Get("state"),
			Nonce:               query.Get("nonce"),
			CodeChallenge:       query.Get("code_challenge"),
			CodeChallengeMethod: query.Get("code_challenge_method"),
		}
		if err := s.validate.Struct(req); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "missing or malformed authorization parameters"))
			return
		}

		session, err := s.auth.Authorize(r.Context(), auth.AuthorizeRequest{
			ResponseType:        req.ResponseType,
			ClientID:            req.ClientID,
			RedirectURI:         req.RedirectURI,
			Scope:               req.Scope,
			State:               req.State,
			Nonce:               req.Nonce,
			CodeChallenge:       req.CodeChallenge,
			CodeChallengeMethod: req.CodeChallengeMethod,
		})
		if err != nil {
			s.authorizeError(w, req.RedirectURI, req.State, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session_handle": session.Handle,
			"client_id":      session.ClientID,
			"scope":          oauth2.JoinScopes(session.GrantedScopes),
			"state":          session.State,
			"expires_at":     session.ExpiresAt.Format(time.RFC3339),
		})
	}
}

type authorizeDecisionRequest struct {
	SessionHandle string `json:"session_handle" validate:"required"`
	TenantID      string `json:"tenant_id"`
	UserID        string `json:"user_id"`
	Approved      bool   `json:"approved"`
}

// AuthorizeDecision finishes the consent step and redirects back to the
// client with either the authorization code or access_denied. The caller is
// the trusted login frontend, which forwards the user's verified identity.
func (s *Server) AuthorizeDecision() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authorizeDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed request body"))
			return
		}
		if err := s.validate.Struct(req); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "session_handle is required"))
			return
		}

		session, err := s.auth.CompleteAuthorization(r.Context(), req.SessionHandle, req.TenantID, req.UserID, req.Approved)
		if err != nil {
			var protocolErr *oauth2.Error
			if errors.As(err, &protocolErr) && protocolErr.Code == oauth2.ErrorAccessDenied && session != nil {
				redirectWithProtocolError(w, session.RedirectURI, session.State, protocolErr)
				return
			}
			writeError(w, err)
			return
		}

		target, err := url.Parse(session.RedirectURI)
		if err != nil {
			writeProtocolError(w, errServerError)
			return
		}
		params := target.Query()
		params.Set("code", session.Code)
		if session.State != "" {
			params.Set("state", session.State)
		}
		target.RawQuery = params.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	}
}

// Token is the token endpoint. Client credentials are accepted as HTTP
// Basic or as form fields, Basic winning when both are present.
func (s *Server) Token() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed form body"))
			return
		}

		clientID, clientSecret := clientCredentials(r)
		req := auth.TokenRequest{
			GrantType:    r.PostFormValue("grant_type"),
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Code:         r.PostFormValue("code"),
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: r.PostFormValue("code_verifier"),
			RefreshToken: r.PostFormValue("refresh_token"),
			Scope:        r.PostFormValue("scope"),
		}

		response, err := s.auth.Token(r.Context(), req)
		if err != nil {
			observeGrant(req.GrantType, "failure")
			writeError(w, err)
			return
		}
		observeGrant(req.GrantType, "success")
		writeJSON(w, http.StatusOK, response)
	}
}

// Revoke is the revocation endpoint (RFC 7009). It answers 200 for every
// authenticated request, known token or not.
func (s *Server) Revoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed form body"))
			return
		}

		clientID, clientSecret := clientCredentials(r)
		err := s.auth.Revoke(r.Context(), clientID, clientSecret, r.PostFormValue("token"), r.PostFormValue("token_type_hint"))
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// Introspect is the introspection endpoint (RFC 7662).
func (s *Server) Introspect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeProtocolError(w, oauth2.NewError(oauth2.ErrorInvalidRequest, "malformed form body"))
			return
		}

		clientID, clientSecret := clientCredentials(r)
		response, err := s.auth.Introspect(r.Context(), clientID, clientSecret, r.PostFormValue("token"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
	}
}

func (s *Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// authorizeError routes an authorize-endpoint failure. Errors redirect back
// to the client with state preserved, unless the redirect URI itself failed
// validation or the client is unknown; those respond directly so nothing is
// ever sent to an unverified URI.
func (s *Server) authorizeError(w http.ResponseWriter, redirectURI, state string, err error) {
	var protocolErr *oauth2.Error
	if !errors.As(err, &protocolErr) {
		writeProtocolError(w, errServerError)
		return
	}
	if protocolErr == oauth2.ErrRedirectURINotRegistered || protocolErr.Code == oauth2.ErrorInvalidClient || protocolErr.Code == oauth2.ErrorServerError {
		writeProtocolError(w, protocolErr)
		return
	}
	redirectWithProtocolError(w, redirectURI, state, protocolErr)
}

func redirectWithProtocolError(w http.ResponseWriter, redirectURI, state string, protocolErr *oauth2.Error) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeProtocolError(w, protocolErr)
		return
	}
	params := target.Query()
	params.Set("error", string(protocolErr.Code))
	if protocolErr.Description != "" {
		params.Set("error_description", protocolErr.Description)
	}
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	w.Header().Set("Location", target.String())
	w.WriteHeader(http.StatusFound)
}

// clientCredentials extracts client authentication from HTTP Basic or the
// form body.
func clientCredentials(r *http.Request) (string, string) {
	if clientID, clientSecret, ok := r.BasicAuth(); ok {
		return clientID, clientSecret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

// writeError maps any handler error to the wire format exactly once.
func writeError(w http.ResponseWriter, err error) {
	var protocolErr *oauth2.Error
	if errors.As(err, &protocolErr) {
		writeProtocolError(w, protocolErr)
		return
	}
	writeProtocolError(w, errServerError)
}

func writeProtocolError(w http.ResponseWriter, protocolErr *oauth2.Error) {
	writeJSON(w, protocolErr.StatusCode(), protocolErr)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
