package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const opaqueTokenSize = 32

// NewTokenID returns a fresh random identifier suitable for a jti claim.
func NewTokenID() string {
	return uuid.NewString()
}

// NewOpaqueToken returns 32 random bytes encoded base64url without padding.
func NewOpaqueToken() (string, error) {
	var raw [opaqueTokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashToken returns the SHA-256 digest of an opaque token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewNumericCode returns a cryptographically random decimal code of the
// given length. Leading zeros are preserved.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("invalid code digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NormalizeIdentity lower-cases and trims an identifier (typically an email).
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// IdentityKey derives the store key for identity within scope. Raw
// identifiers never become keys.
func IdentityKey(scope, identity string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + NormalizeIdentity(identity)))
	return scope + ":" + hex.EncodeToString(sum[:16])
}
