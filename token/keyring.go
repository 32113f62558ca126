package token

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Signer signs and verifies JWT access tokens.
type Signer interface {
	// Sign creates a signed JWT from claims.
	Sign(claims jwt.MapClaims) (string, error)

	// GetVerificationKey returns the key to verify a parsed token with,
	// selected by the token's kid header.
	GetVerificationKey(token *jwt.Token) (any, error)
}

// Keyring is an HMAC key ring: one active signing key plus any number of
// still-trusted verification keys. Rotation works without a restart by
// listing old and new keys for an overlap window and switching the active
// id. The ring is immutable after construction; it is process-wide read-only
// state injected at startup.
type Keyring struct {
	keys      map[string][]byte
	activeKID string
}

// NewKeyring builds a ring from kid->secret pairs. activeKID selects the
// signing key and must be present in the map.
func NewKeyring(keys map[string]string, activeKID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("[NewKeyring] at least one signing key is required")
	}
	if _, ok := keys[activeKID]; !ok {
		return nil, errors.Errorf("[NewKeyring] active key id %q not in key set", activeKID)
	}
	ring := &Keyring{keys: make(map[string][]byte, len(keys)), activeKID: activeKID}
	for kid, secret := range keys {
		if secret == "" {
			return nil, errors.Errorf("[NewKeyring] empty secret for key id %q", kid)
		}
		ring.keys[kid] = []byte(secret)
	}
	return ring, nil
}

func (k *Keyring) Sign(claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = k.activeKID
	signed, err := token.SignedString(k.keys[k.activeKID])
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token with HMAC")
	}
	return signed, nil
}

func (k *Keyring) GetVerificationKey(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		// Tokens minted before the ring existed carry no kid.
		return k.keys[k.activeKID], nil
	}
	secret, ok := k.keys[kid]
	if !ok {
		return nil, errors.Errorf("unknown key id: %s", kid)
	}
	return secret, nil
}
