package portal

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// verifierLength is the number of random bytes behind a PKCE code
	// verifier. 64 bytes encode to 86 base64url characters, inside the
	// 43..128 range RFC 7636 allows.
	verifierLength = 64

	// stateLength is the number of random bytes behind the state nonce
	// that keys the stored verifier across the redirect round trip.
	stateLength = 8
)

// newVerifier draws a PKCE code verifier from r: random bytes, base64url
// encoded without padding.
func newVerifier(r io.Reader) (string, error) {
	buf := make([]byte, verifierLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generating code verifier: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// challengeS256 derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), unpadded.
func challengeS256(verifier string) string {
	h := sha256.Sum256([]byte(verifier))

	return base64.RawURLEncoding.EncodeToString(h[:])
}

// newState draws the state nonce from r.
func newState(r io.Reader) (string, error) {
	buf := make([]byte, stateLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// verifierKey is the session-store key holding the PKCE verifier for a
// given state nonce.
func verifierKey(state string) string {
	return "pkce_verifier:" + state
}
