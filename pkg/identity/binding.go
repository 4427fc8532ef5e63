package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	nonceByteLength  = 32
	minPublicKeyLen  = 32
	maxRotationDepth = 100
)

// Engine runs the nonce-binding lifecycle described in spec §4.5 over a
// Store.
type Engine struct {
	store Store
	clock func() time.Time
}

// NewEngine builds a binding Engine.
func NewEngine(store Store) *Engine {
	return &Engine{store: store, clock: time.Now}
}

func isHex(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func validatePublicKey(publicKey string) error {
	if len(publicKey) < minPublicKeyLen {
		return &ErrInvalidPublicKey{Reason: fmt.Sprintf("must be at least %d characters", minPublicKeyLen)}
	}
	if !isHex(publicKey) {
		return &ErrInvalidPublicKey{Reason: "must be hex-encoded"}
	}
	return nil
}

func computeSignature(nonce, orgID, publicKey string) string {
	sum := sha256.Sum256([]byte(nonce + ":" + orgID + ":" + publicKey))
	return hex.EncodeToString(sum[:])
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceByteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("identity: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateAndBindNonce creates a fresh binding for orgID, tying it to
// publicKey. orgID's identity must already be verified, and no active
// binding may exist.
func (e *Engine) GenerateAndBindNonce(orgID, publicKey string) (NonceBinding, error) {
	if err := validatePublicKey(publicKey); err != nil {
		return NonceBinding{}, err
	}

	ident, ok, err := e.store.GetIdentity(orgID)
	if err != nil {
		return NonceBinding{}, fmt.Errorf("identity: load identity: %w", err)
	}
	if !ok || !ident.Verified {
		return NonceBinding{}, ErrNotVerified
	}

	if active, ok, err := e.store.GetActiveBinding(orgID); err != nil {
		return NonceBinding{}, fmt.Errorf("identity: check active binding: %w", err)
	} else if ok && !active.Revoked {
		return NonceBinding{}, ErrAlreadyBound
	}

	nonce, err := generateNonce()
	if err != nil {
		return NonceBinding{}, err
	}

	binding := NonceBinding{
		OrgID:     orgID,
		Nonce:     nonce,
		PublicKey: publicKey,
		Signature: computeSignature(nonce, orgID, publicKey),
		CreatedAt: e.clock(),
		Version:   1,
	}

	if err := e.store.PutBinding(binding); err != nil {
		return NonceBinding{}, fmt.Errorf("identity: store binding: %w", err)
	}
	if err := e.store.SetActiveNonce(orgID, nonce); err != nil {
		return NonceBinding{}, fmt.Errorf("identity: set active nonce: %w", err)
	}

	ident.NonceRef = nonce
	if err := e.store.PutIdentity(ident); err != nil {
		return NonceBinding{}, fmt.Errorf("identity: update identity: %w", err)
	}

	return binding, nil
}

// VerifyBinding checks nonce/orgID against the stored binding. It never
// panics: every failure mode returns a structured VerifyReason.
func (e *Engine) VerifyBinding(nonce, orgID string) VerifyResult {
	binding, ok, err := e.store.GetActiveBinding(orgID)
	if err != nil || !ok {
		return VerifyResult{Valid: false, Reason: ReasonNotBound}
	}
	if binding.Nonce != nonce {
		return VerifyResult{Valid: false, Reason: ReasonNonceMismatch, Binding: &binding}
	}
	if binding.Revoked {
		return VerifyResult{Valid: false, Reason: ReasonRevoked, Binding: &binding}
	}
	if computeSignature(binding.Nonce, binding.OrgID, binding.PublicKey) != binding.Signature {
		return VerifyResult{Valid: false, Reason: ReasonSignatureInvalid, Binding: &binding}
	}

	ident, ok, err := e.store.GetIdentity(orgID)
	if err != nil || !ok || !ident.Verified {
		return VerifyResult{Valid: false, Reason: ReasonNotVerified, Binding: &binding}
	}

	return VerifyResult{Valid: true, Reason: ReasonNone, Binding: &binding}
}

// RotateNonce atomically revokes the current binding and creates a new one
// chained to it via PreviousNonce. Rotating a revoked binding fails.
func (e *Engine) RotateNonce(orgID, newPublicKey, reason string) (NonceBinding, error) {
	if err := validatePublicKey(newPublicKey); err != nil {
		return NonceBinding{}, err
	}

	current, ok, err := e.store.GetActiveBinding(orgID)
	if err != nil {
		return NonceBinding{}, fmt.Errorf("identity: load active binding: %w", err)
	}
	if !ok {
		return NonceBinding{}, ErrNotBound
	}
	if current.Revoked {
		return NonceBinding{}, ErrRevokedBinding
	}

	now := e.clock()
	revoked := current
	revoked.Revoked = true
	revoked.RevokedAt = now
	revoked.RevokeReason = reason
	if reason == "" {
		revoked.RevokeReason = "rotated"
	}

	newNonce, err := generateNonce()
	if err != nil {
		return NonceBinding{}, err
	}

	next := NonceBinding{
		OrgID:         orgID,
		Nonce:         newNonce,
		PublicKey:     newPublicKey,
		Signature:     computeSignature(newNonce, orgID, newPublicKey),
		CreatedAt:     now,
		PreviousNonce: current.Nonce,
		Version:       1,
	}

	// CommitRotation is a single CAS-guarded, all-or-nothing write: it only
	// revokes current if its stored version still matches what was just
	// read here, and installs next and the active pointer in the same
	// operation. A concurrent RotateNonce on the same org loses this race
	// with ErrVersionConflict instead of silently clobbering the winner.
	if err := e.store.CommitRotation(orgID, revoked, next); err != nil {
		return NonceBinding{}, fmt.Errorf("identity: commit rotation: %w", err)
	}

	ident, ok, err := e.store.GetIdentity(orgID)
	if err == nil && ok {
		ident.NonceRef = newNonce
		_ = e.store.PutIdentity(ident)
	}

	return next, nil
}

// RevokeBinding marks the current binding revoked with a timestamp and
// reason. Subsequent VerifyBinding calls return ReasonRevoked.
func (e *Engine) RevokeBinding(orgID, reason string) error {
	current, ok, err := e.store.GetActiveBinding(orgID)
	if err != nil {
		return fmt.Errorf("identity: load active binding: %w", err)
	}
	if !ok {
		return ErrNotBound
	}
	if current.Revoked {
		return ErrRevokedBinding
	}

	current.Revoked = true
	current.RevokedAt = e.clock()
	current.RevokeReason = reason

	return e.store.PutBinding(current)
}

// GetRotationHistory walks the PreviousNonce chain for orgID, returning
// bindings oldest-first. The walk is depth-bounded at maxRotationDepth and
// stops early if it revisits a nonce, guaranteeing termination on corrupt
// chains.
func (e *Engine) GetRotationHistory(orgID string) ([]NonceBinding, error) {
	current, ok, err := e.store.GetActiveBinding(orgID)
	if err != nil {
		return nil, fmt.Errorf("identity: load active binding: %w", err)
	}
	if !ok {
		return nil, ErrNotBound
	}

	seen := map[string]bool{current.Nonce: true}
	chain := []NonceBinding{current}

	cursor := current
	for depth := 0; depth < maxRotationDepth && cursor.PreviousNonce != ""; depth++ {
		prev, ok, err := e.store.GetBindingByNonce(orgID, cursor.PreviousNonce)
		if err != nil || !ok || seen[prev.Nonce] {
			break
		}
		seen[prev.Nonce] = true
		chain = append(chain, prev)
		cursor = prev
	}

	// chain was built newest-first; reverse for chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
