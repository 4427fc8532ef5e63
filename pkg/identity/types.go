// Package identity verifies external-collaborator organization identities
// and manages the one-active-binding-per-org nonce lifecycle used to tie a
// public key to a governance oracle submission (spec §4.5).
package identity

import (
	"errors"
	"time"
)

// ErrAlreadyBound is returned when GenerateAndBindNonce is called for an
// org that already has an active (non-revoked) binding.
var ErrAlreadyBound = errors.New("identity: org already has an active nonce binding")

// ErrNotBound is returned when an operation targets an org with no binding
// on record at all.
var ErrNotBound = errors.New("identity: no binding on record for org")

// ErrRevokedBinding is returned when rotating or revoking a binding that is
// already revoked.
var ErrRevokedBinding = errors.New("identity: binding is already revoked")

// ErrNotVerified is returned when a nonce-binding operation is attempted
// against an org whose identity has not been verified.
var ErrNotVerified = errors.New("identity: org identity is not verified")

// ErrVersionConflict is returned by Store.CommitRotation when the active
// binding's persisted version no longer matches the version a rotation
// expected, meaning a concurrent rotation already won (spec §5).
var ErrVersionConflict = errors.New("identity: binding version conflict")

// ErrInvalidPublicKey is the ValidationError kind (spec §7) for a malformed
// public key: not hex, or shorter than the 32-character floor.
type ErrInvalidPublicKey struct {
	Reason string
}

func (e *ErrInvalidPublicKey) Error() string {
	return "identity: invalid public key: " + e.Reason
}

// OrganizationIdentity is the verified-identity record for one external
// collaborator organization.
type OrganizationIdentity struct {
	OrgID      string
	Provider   string
	Subject    string
	Verified   bool
	VerifiedAt time.Time
	NonceRef   string // current active nonce, mirrored for audit convenience
}

// NonceBinding ties a public key to an org for one rotation epoch. Version
// starts at 1 and is the optimistic-concurrency token CommitRotation checks
// against; it is local to one binding row, not a running count of rotations.
type NonceBinding struct {
	OrgID         string
	Nonce         string
	PublicKey     string
	Signature     string
	CreatedAt     time.Time
	Revoked       bool
	RevokedAt     time.Time
	RevokeReason  string
	PreviousNonce string
	Version       int
}

// VerifyReason is a structured, non-panicking reason for a failed
// VerifyBinding call.
type VerifyReason string

const (
	ReasonNone            VerifyReason = ""
	ReasonNotBound        VerifyReason = "not-bound"
	ReasonNonceMismatch   VerifyReason = "nonce-mismatch"
	ReasonRevoked         VerifyReason = "revoked"
	ReasonSignatureInvalid VerifyReason = "signature-invalid"
	ReasonNotVerified     VerifyReason = "identity-not-verified"
	ReasonUnknownVersion  VerifyReason = "unknown-version"
)

// VerifyResult is the outcome of VerifyBinding.
type VerifyResult struct {
	Valid   bool
	Reason  VerifyReason
	Binding *NonceBinding
}

// Store is the identity/binding persistence contract (spec §4.6). Bindings
// are kept by nonce so GetRotationHistory can walk the PreviousNonce chain
// even after a binding is no longer active.
type Store interface {
	GetIdentity(orgID string) (OrganizationIdentity, bool, error)
	PutIdentity(identity OrganizationIdentity) error

	GetActiveBinding(orgID string) (NonceBinding, bool, error)
	GetBindingByNonce(orgID, nonce string) (NonceBinding, bool, error)
	PutBinding(binding NonceBinding) error
	SetActiveNonce(orgID, nonce string) error

	// CommitRotation atomically revokes revoked and installs next as the
	// new active binding. It is CAS-guarded: the revoke only applies if the
	// binding currently stored under revoked.Nonce still has version
	// revoked.Version, otherwise it returns ErrVersionConflict without
	// touching either row. Implementations must make the whole operation
	// all-or-nothing (spec §5, §7).
	CommitRotation(orgID string, revoked, next NonceBinding) error
}
