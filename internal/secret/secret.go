// Package secret generates, validates, and hashes partner API key secrets.
//
// Secret format: pk_live_ or pk_test_ followed by 48 lowercase hex characters
// (192 bits from crypto/rand). Only the SHA-256 hash and a short display
// prefix are ever stored; the plaintext exists only as a transient return
// value of key creation and rotation.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/helioscrm/helios/internal/model"
)

const (
	// PrefixLive and PrefixTest are the wire-visible secret prefixes.
	PrefixLive = "pk_live_"
	PrefixTest = "pk_test_"

	// randomBytes is the entropy of the secret body (48 hex chars).
	randomBytes = 24

	// DisplayPrefixLen is how many leading characters are kept for display,
	// e.g. "pk_live_3fa27c1e". Short enough to be non-reversible.
	DisplayPrefixLen = 16
)

var secretPattern = regexp.MustCompile(`^pk_(live|test)_[a-f0-9]{48}$`)

// Generate produces a fresh secret for the given environment and returns the
// plaintext together with its display prefix. Production keys get pk_live_,
// everything else pk_test_.
func Generate(env model.Environment) (plaintext, prefix string, err error) {
	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	p := PrefixTest
	if env == model.EnvProduction {
		p = PrefixLive
	}
	plaintext = p + hex.EncodeToString(buf)
	return plaintext, plaintext[:DisplayPrefixLen], nil
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext secret. The
// digest is used both for storage and for equality lookup, so it must stay
// deterministic.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// ValidateFormat reports whether a presented secret matches the wire format.
// Called before any storage lookup so malformed input fails cheaply.
func ValidateFormat(plaintext string) bool {
	return secretPattern.MatchString(plaintext)
}
