package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// NewToken returns an opaque 256-bit bearer token, base64url-encoded.
func NewToken() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failure means the process is unusable.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// SessionID derives the public identifier of a session from its token:
// the first 16 bytes of SHA-256, hex-encoded. Not reversible.
func SessionID(sessionToken string) string {
	sum := sha256.Sum256([]byte(sessionToken))
	return hex.EncodeToString(sum[:16])
}
