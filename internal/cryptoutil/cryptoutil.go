// Package cryptoutil holds the stateless crypto primitives shared by every
// flow: secure random token generation, one-way secret hashing, token
// hashing for server-side lookup, and PKCE verification.
package cryptoutil

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt cost for client secrets. Matches the registration path so rotated
// secrets verify with the same routine.
const secretHashCost = 12

// RandomToken returns n bytes of cryptographic randomness encoded as
// unpadded base64url, suitable for authorization codes, refresh tokens and
// session handles.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "[cryptoutil.RandomToken] rand.Read")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashToken returns the hex-encoded SHA-256 of an opaque token. Refresh
// tokens are stored only in this form; the plaintext is returned to the
// client once and never persisted.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashSecret one-way hashes a client secret with bcrypt.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), secretHashCost)
	if err != nil {
		return "", errors.Wrap(err, "[cryptoutil.HashSecret] bcrypt.GenerateFromPassword")
	}
	return string(hash), nil
}

// VerifySecret compares a presented secret against its stored bcrypt hash.
// bcrypt's comparison is constant time with respect to the secret.
func VerifySecret(secret, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// ConstantTimeEquals compares two strings without leaking where they differ.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// S256Challenge derives the PKCE code challenge for a verifier:
// BASE64URL(SHA256(verifier)), unpadded per RFC 7636.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE recomputes the challenge from the presented verifier using the
// stored method and compares it against the stored challenge. Unknown
// methods never verify.
func VerifyPKCE(verifier, challenge, method string) bool {
	switch method {
	case "S256":
		return ConstantTimeEquals(S256Challenge(verifier), challenge)
	case "plain":
		return ConstantTimeEquals(verifier, challenge)
	}
	return false
}
