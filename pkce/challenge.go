// Package pkce implements a delegated authorization exchange in the shape
// of RFC 7636: a client proves knowledge of a user's password once, holds a
// single-use authorization code, and later redeems it with the code
// verifier for a session token.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// Method is the transform a client applied to its code verifier.
type Method int

const (
	// MethodS256 hashes the verifier with SHA-256. The default and the only
	// method that keeps the verifier off the wire during authorization.
	MethodS256 Method = iota
	// MethodPlain sends the verifier as its own challenge. Disabled unless
	// the exchange is configured to allow it.
	MethodPlain
)

func (m Method) String() string {
	if m == MethodPlain {
		return "plain"
	}
	return "S256"
}

// ParseMethod accepts exactly the two spellings "S256" and "plain".
func ParseMethod(s string) (Method, error) {
	switch s {
	case "S256":
		return MethodS256, nil
	case "plain":
		return MethodPlain, nil
	default:
		return MethodS256, fmt.Errorf("pkce: invalid code challenge method %q, must be either %q or %q", s, "S256", "plain")
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler via ParseMethod.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// S256Challenge derives the S256 challenge for a verifier: unpadded
// base64url of its SHA-256 digest.
func S256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// CodeChallenge is the client's commitment registered at authorization
// time and checked at redemption.
type CodeChallenge struct {
	Challenge string `json:"challenge"`
	Method    Method `json:"method"`
}

// String renders the challenge as "<method>:<challenge>". The rendering
// feeds authorization code derivation, so both method and challenge are
// bound into the code.
func (c CodeChallenge) String() string {
	return c.Method.String() + ":" + c.Challenge
}

// Verify checks a code verifier against the challenge. All comparisons are
// constant-time.
func (c CodeChallenge) Verify(verifier string) bool {
	expected := verifier
	if c.Method == MethodS256 {
		expected = S256Challenge(verifier)
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(c.Challenge)) == 1
}
