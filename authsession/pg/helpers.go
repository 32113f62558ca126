package pg

import "github.com/pagemd/auth-server/oauth2"

// nullIfEmpty returns nil for empty strings so optional columns store NULL.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func codeMethod(s string) oauth2.CodeMethodType {
	return oauth2.CodeMethodType(s)
}
