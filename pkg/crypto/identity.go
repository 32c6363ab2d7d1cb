package crypto

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
)

// DecodeUserID decodes a social user id (base64url, no padding) into its
// Ed25519 public key.
func DecodeUserID(userID string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(userID)
	if err != nil {
		return nil, fmt.Errorf("user id is not base64url: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("user id decodes to %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

// EncodeUserID encodes an Ed25519 public key as a social user id.
func EncodeUserID(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

// VerifySocialSignature checks sigB64 (standard base64) over the canonical
// body against the public key embedded in userID.
func VerifySocialSignature(userID string, canonical []byte, sigB64 string) error {
	pub, err := DecodeUserID(userID)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("signature is not base64: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("signature is %d bytes, want %d", len(sig), ed25519.SignatureSize)
	}
	if !ed25519.Verify(pub, canonical, sig) {
		return fmt.Errorf("signature verification failed")
	}
	return nil
}

// SignSocialBody signs a canonical body, returning standard base64. Used by
// tests and client tooling; the gateway itself only verifies.
func SignSocialBody(priv ed25519.PrivateKey, canonical []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical))
}
