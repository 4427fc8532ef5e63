// Package canon produces RFC 8785 canonical JSON for deterministic hashing
// and HMAC signing across the oracle: redaction tags, report run IDs, and
// leaderboard digests all hash the canonical form of a value rather than
// whatever field order happens to come out of json.Marshal.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JSON returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with the standard encoder (so struct tags and custom
// MarshalJSON methods are respected), then transformed into canonical form:
// object keys sorted by UTF-16 code unit, no insignificant whitespace, and
// numbers formatted per the ECMAScript rules JCS mandates.
func JSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal failed: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canon: jcs transform failed: %w", err)
	}
	return out, nil
}

// String returns the canonical JSON form of v as a string.
func String(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the SHA-256 hex digest of v's canonical JSON representation.
// Used for DissonanceReport.RunID derivation and baseline content hashes.
func Hash(v interface{}) (string, error) {
	b, err := JSON(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
