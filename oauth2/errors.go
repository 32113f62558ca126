package oauth2

import "fmt"

// ErrorCode is the closed set of protocol error kinds (RFC 6749 §5.2 plus
// the authorization-endpoint codes). Handlers return Error values internally;
// the HTTP surface maps them to the wire format exactly once, at the boundary.
type ErrorCode string

const (
	ErrorInvalidRequest          ErrorCode = "invalid_request"
	ErrorInvalidClient           ErrorCode = "invalid_client"
	ErrorInvalidGrant            ErrorCode = "invalid_grant"
	ErrorInvalidScope            ErrorCode = "invalid_scope"
	ErrorUnsupportedGrantType    ErrorCode = "unsupported_grant_type"
	ErrorUnsupportedResponseType ErrorCode = "unsupported_response_type"
	ErrorAccessDenied            ErrorCode = "access_denied"
	ErrorServerError             ErrorCode = "server_error"
)

// Error is a protocol-level failure carrying an OAuth error code and a
// human-readable description. It never wraps secrets or token material.
type Error struct {
	Code        ErrorCode `json:"error"`
	Description string    `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewError creates a protocol error with the given code and description.
func NewError(code ErrorCode, description string) *Error {
	return &Error{Code: code, Description: description}
}

// StatusCode returns the HTTP status the wire mapping should use for this
// error. invalid_client is 401 per RFC 6749; everything else client-visible
// is 400 except server_error.
func (e *Error) StatusCode() int {
	switch e.Code {
	case ErrorInvalidClient:
		return 401
	case ErrorServerError:
		return 500
	default:
		return 400
	}
}

// Common protocol errors reused across grant handlers.
var (
	// ErrRedirectURINotRegistered must never be redirected to the supplied
	// URI; handlers special-case it and respond directly.
	ErrRedirectURINotRegistered = NewError(ErrorInvalidRequest, "redirect_uri is not registered")

	ErrClientNotFound       = NewError(ErrorInvalidClient, "Client authentication failed")
	ErrClientNotActive      = NewError(ErrorInvalidClient, "Client is suspended or revoked")
	ErrCodeNotFound         = NewError(ErrorInvalidGrant, "Authorization code not found")
	ErrCodeAlreadyUsed      = NewError(ErrorInvalidGrant, "Authorization code already used")
	ErrCodeExpired          = NewError(ErrorInvalidGrant, "Authorization code expired")
	ErrRedirectURIMismatch  = NewError(ErrorInvalidGrant, "Redirect URI mismatch")
	ErrCodeVerifierRequired = NewError(ErrorInvalidGrant, "Code verifier required")
	ErrCodeVerifierInvalid  = NewError(ErrorInvalidGrant, "Invalid code verifier")
	ErrRefreshTokenInvalid  = NewError(ErrorInvalidGrant, "Invalid refresh token")
	ErrRefreshTokenRevoked  = NewError(ErrorInvalidGrant, "Refresh token has been revoked")
	ErrRefreshTokenExpired  = NewError(ErrorInvalidGrant, "Refresh token expired")
	ErrTenantBindingMissing = NewError(ErrorInvalidGrant, "App must be bound to a tenant for client credentials flow")
	ErrNoValidScopes        = NewError(ErrorInvalidScope, "No valid scopes requested")
	ErrScopeNotGranted      = NewError(ErrorInvalidScope, "Requested scope exceeds the original grant")
)
