package oauth2

import "strings"

// SplitScopes parses a space-separated scope string, dropping empty tokens.
func SplitScopes(scope string) []string {
	if strings.TrimSpace(scope) == "" {
		return nil
	}
	var scopes []string
	for _, s := range strings.Split(scope, " ") {
		if s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

// JoinScopes renders a scope set back to its wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// IntersectScopes returns the requested scopes that are also allowed,
// preserving the requested order. An empty result means no overlap.
func IntersectScopes(requested, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		allowedSet[s] = struct{}{}
	}
	var granted []string
	for _, s := range requested {
		if _, ok := allowedSet[s]; ok {
			granted = append(granted, s)
		}
	}
	return granted
}

// IsScopeSubset reports whether every requested scope is inside the granted
// set. Used by the refresh grant: a refresh may narrow the original grant
// but never widen it.
func IsScopeSubset(requested, granted []string) bool {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		grantedSet[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := grantedSet[s]; !ok {
			return false
		}
	}
	return true
}
