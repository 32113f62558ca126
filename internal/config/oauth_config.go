package config

import (
	"strings"
	"time"
)

const (
	issuerVar             = "OAUTH_ISSUER"
	audienceVar           = "OAUTH_AUDIENCE"
	signingKeysVar        = "JWT_KEYS"
	activeKeyIDVar        = "JWT_ACTIVE_KID"
	legacySecretVar       = "JWT_SECRET"
	accessTokenExpiryVar  = "OAUTH_ACCESS_TOKEN_EXPIRY"
	refreshExpiryDaysVar  = "OAUTH_REFRESH_TOKEN_EXPIRY_DAYS"
)

type OAuth struct{}

var _ OAuthConfig = OAuth{}

func (OAuth) GetIssuer() string {
	return GetEnv(issuerVar, "https://api.pagemdemr.com")
}

func (OAuth) GetAudience() string {
	return GetEnv(audienceVar, "https://api.pagemdemr.com")
}

// GetSigningKeys parses JWT_KEYS ("kid1:secret1,kid2:secret2") into a key
// ring. A bare JWT_SECRET is honoured as a single key with id "default" so
// deployments predating rotation keep working.
func (OAuth) GetSigningKeys() map[string]string {
	keys := make(map[string]string)
	raw := GetEnv(signingKeysVar, "")
	for _, pair := range strings.Split(raw, ",") {
		kid, secret, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || kid == "" || secret == "" {
			continue
		}
		keys[kid] = secret
	}
	if len(keys) == 0 {
		if secret := GetEnv(legacySecretVar, ""); secret != "" {
			keys["default"] = secret
		}
	}
	return keys
}

func (OAuth) GetActiveKeyID() string {
	return GetEnv(activeKeyIDVar, "default")
}

func (OAuth) GetAccessTokenExpiry() time.Duration {
	return parseExpiry(GetEnv(accessTokenExpiryVar, "1h"), time.Hour)
}

func (OAuth) GetRefreshTokenExpiry() time.Duration {
	days := parseInt(GetEnv(refreshExpiryDaysVar, "30"), 30)
	return time.Duration(days) * 24 * time.Hour
}

func (OAuth) GetAuthCodeExpiry() time.Duration {
	return 10 * time.Minute
}

// parseExpiry accepts the original "<n>[hmd]" shorthand.
func parseExpiry(value string, fallback time.Duration) time.Duration {
	if len(value) < 2 {
		return fallback
	}
	n := parseInt(value[:len(value)-1], 0)
	if n <= 0 {
		return fallback
	}
	switch value[len(value)-1] {
	case 'h':
		return time.Duration(n) * time.Hour
	case 'm':
		return time.Duration(n) * time.Minute
	case 'd':
		return time.Duration(n) * 24 * time.Hour
	}
	return fallback
}

func parseInt(s string, fallback int) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return fallback
		}
		n = n*10 + int(r-'0')
	}
	if s == "" {
		return fallback
	}
	return n
}
