package token

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// RevokedTokenCache is the in-process fast path for revoked access tokens:
// introspection checks it before touching the record store. The store
// remains the source of truth across instances; the cache only spares a
// lookup for tokens this instance revoked.
type RevokedTokenCache interface {
	Add(jti string, exp time.Time)
	IsRevoked(jti string) bool
}

type revokedTokenCache struct {
	cache *gocache.Cache
}

// NewRevokedTokenCache returns a TTL cache whose entries evict themselves
// once the underlying token would have expired anyway.
func NewRevokedTokenCache() RevokedTokenCache {
	return &revokedTokenCache{
		cache: gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func (c *revokedTokenCache) Add(jti string, exp time.Time) {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return // already past natural expiry, nothing to reject
	}
	c.cache.Set(jti, struct{}{}, ttl)
}

func (c *revokedTokenCache) IsRevoked(jti string) bool {
	_, found := c.cache.Get(jti)
	return found
}
