package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
)

// TokenBytes is the entropy carried by a confirmation token. 20 bytes keeps
// a comfortable margin over the 128-bit floor.
const TokenBytes = 20

var tokenEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewToken returns an unguessable, URL-safe token value.
func NewToken() (string, error) {
	buf := make([]byte, TokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading entropy: %w", err)
	}
	return tokenEncoding.EncodeToString(buf), nil
}

// ConstantTimeEquals compares two token values without leaking length or
// prefix information through timing.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
