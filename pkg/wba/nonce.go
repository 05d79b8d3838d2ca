package wba

import (
	"crypto/rand"
	"encoding/base64"
)

// nonceSize is the number of random bytes in a credential nonce.
const nonceSize = 16

// NewNonce produces a cryptographically random URL-safe nonce.
func NewNonce() (string, error) {
	b := make([]byte, nonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
