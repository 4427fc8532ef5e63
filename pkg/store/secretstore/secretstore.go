// Package secretstore loads versioned HMAC redaction nonces and exposes
// "verify against any active version" semantics during rotation, per spec
// §2 and §4.5.
package secretstore

import (
	"context"
	"errors"
	"sort"
)

// ErrSecretUnavailable means no nonce could be loaded — the oracle engine
// must fail closed (BLOCK) on this error outside dry-run mode.
var ErrSecretUnavailable = errors.New("secretstore: nonce unavailable")

// ErrMalformedSecret means a stored nonce failed hex/length validation.
var ErrMalformedSecret = errors.New("secretstore: malformed nonce")

// Nonce is a single versioned HMAC key, newest by Version last rotated in.
type Nonce struct {
	Version int
	Value   string // hex-encoded, ≥32 chars
}

// SecretStore exposes the current nonce plus all still-loaded versions, so
// validators can accept a tag signed with any known nonce during a rotation
// grace period (spec §4.5, §8 scenario 5).
type SecretStore interface {
	// GetNonce returns the current (highest-versioned) nonce.
	GetNonce(ctx context.Context) (Nonce, error)

	// GetNonces returns all currently loaded nonce versions, newest first.
	GetNonces(ctx context.Context) ([]Nonce, error)

	// RotateNonce stores newValue as a new version and makes it current.
	// Each call stores newValue under the next version number; calling it
	// twice with the same newValue creates two versions, and no existing
	// version is overwritten.
	RotateNonce(ctx context.Context, newValue string) (Nonce, error)

	// DropVersion removes an old nonce version, ending its grace period.
	DropVersion(ctx context.Context, version int) error
}

// sortDescending orders nonces by Version, newest first, matching the
// "parsing the numeric suffix and sorting descending" rule in spec §6.
func sortDescending(nonces []Nonce) {
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Version > nonces[j].Version })
}
