package config

import "time"

// Config aggregates the configuration surfaces of the server. Everything is
// read once at startup and injected by explicit dependency passing; nothing
// here is mutable process state.
type Config interface {
	EnvConfig
	OAuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetDatabaseURL() string
}

type OAuthConfig interface {
	GetIssuer() string
	GetAudience() string
	GetSigningKeys() map[string]string
	GetActiveKeyID() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetAuthCodeExpiry() time.Duration
}

type mainConfig struct {
	EnvVars
	OAuth
}

func New() Config {
	return mainConfig{}
}
