package identity

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu         sync.Mutex
	identities map[string]OrganizationIdentity
	bindings   map[string]NonceBinding // keyed by nonce
	active     map[string]string       // orgID -> active nonce
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[string]OrganizationIdentity),
		bindings:   make(map[string]NonceBinding),
		active:     make(map[string]string),
	}
}

func (m *memStore) GetIdentity(orgID string) (OrganizationIdentity, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.identities[orgID]
	return ident, ok, nil
}

func (m *memStore) PutIdentity(identity OrganizationIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.OrgID] = identity
	return nil
}

func (m *memStore) GetActiveBinding(orgID string) (NonceBinding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nonce, ok := m.active[orgID]
	if !ok {
		return NonceBinding{}, false, nil
	}
	b, ok := m.bindings[nonce]
	return b, ok, nil
}

func (m *memStore) GetBindingByNonce(orgID, nonce string) (NonceBinding, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[nonce]
	if !ok || b.OrgID != orgID {
		return NonceBinding{}, false, nil
	}
	return b, true, nil
}

func (m *memStore) PutBinding(binding NonceBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[binding.Nonce] = binding
	return nil
}

func (m *memStore) SetActiveNonce(orgID, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[orgID] = nonce
	return nil
}

func (m *memStore) CommitRotation(orgID string, revoked, next NonceBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[orgID] != revoked.Nonce {
		return ErrVersionConflict
	}
	stored, ok := m.bindings[revoked.Nonce]
	if !ok || stored.Version != revoked.Version || stored.Revoked {
		return ErrVersionConflict
	}

	m.bindings[revoked.Nonce] = revoked
	m.bindings[next.Nonce] = next
	m.active[orgID] = next.Nonce
	return nil
}

func verifiedIdentity(store *memStore, orgID string) {
	_ = store.PutIdentity(OrganizationIdentity{OrgID: orgID, Provider: "github", Verified: true, VerifiedAt: time.Now()})
}

const testPublicKey = "a1b2c3d4e5f60718293a4b5c6d7e8f9a1b2c3d4e5f60718293a4b5c6d7e8f9a"

func TestGenerateAndBindNonce_RejectsUnverifiedIdentity(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.ErrorIs(t, err, ErrNotVerified)
}

func TestGenerateAndBindNonce_RejectsShortPublicKey(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", "deadbeef")
	require.Error(t, err)
	var pkErr *ErrInvalidPublicKey
	require.ErrorAs(t, err, &pkErr)
}

func TestGenerateAndBindNonce_RejectsNonHexPublicKey(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	require.Error(t, err)
}

func TestGenerateAndBindNonce_RejectsDuplicateActiveBinding(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	_, err = e.GenerateAndBindNonce("org-1", testPublicKey)
	require.ErrorIs(t, err, ErrAlreadyBound)
}

// TestOnlyOneActiveBindingPerOrg is spec §8's quantified invariant: for all
// orgIds, at most one NonceBinding with revoked=false exists at any time.
func TestOnlyOneActiveBindingPerOrg(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	first, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	_, err = e.RotateNonce("org-1", testPublicKey, "scheduled")
	require.NoError(t, err)

	reloaded, ok, err := store.GetBindingByNonce("org-1", first.Nonce)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, reloaded.Revoked)

	active, ok, err := store.GetActiveBinding("org-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, active.Revoked)
}

func TestVerifyBinding_ValidIffAllConditionsHold(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	binding, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	result := e.VerifyBinding(binding.Nonce, "org-1")
	require.True(t, result.Valid)
	require.Equal(t, ReasonNone, result.Reason)
}

func TestVerifyBinding_NonceMismatch(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	result := e.VerifyBinding("not-the-right-nonce", "org-1")
	require.False(t, result.Valid)
	require.Equal(t, ReasonNonceMismatch, result.Reason)
}

func TestVerifyBinding_TamperedSignatureFails(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	binding, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	tampered := binding
	tampered.Signature = "0000000000000000000000000000000000000000000000000000000000000"
	require.NoError(t, store.PutBinding(tampered))

	result := e.VerifyBinding(binding.Nonce, "org-1")
	require.False(t, result.Valid)
	require.Equal(t, ReasonSignatureInvalid, result.Reason)
}

func TestVerifyBinding_NoBindingReturnsNotBound(t *testing.T) {
	store := newMemStore()
	e := NewEngine(store)

	result := e.VerifyBinding("anything", "org-unknown")
	require.False(t, result.Valid)
	require.Equal(t, ReasonNotBound, result.Reason)
}

// TestRotateNonce_OldNonceRevokedNewVerifies is spec §8's round-trip law:
// RotateNonce then VerifyBinding on the new nonce succeeds; VerifyBinding
// on the old nonce fails, reported as a nonce mismatch against the new
// active binding.
func TestRotateNonce_OldNonceRevokedNewVerifies(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	oldBinding, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	newBinding, err := e.RotateNonce("org-1", testPublicKey, "compromised")
	require.NoError(t, err)
	require.Equal(t, oldBinding.Nonce, newBinding.PreviousNonce)

	result := e.VerifyBinding(newBinding.Nonce, "org-1")
	require.True(t, result.Valid)

	// The old nonce is no longer active, so VerifyBinding reports it as
	// not matching the current active binding rather than directly
	// inspecting the revoked record.
	result = e.VerifyBinding(oldBinding.Nonce, "org-1")
	require.False(t, result.Valid)
	require.Equal(t, ReasonNonceMismatch, result.Reason)
}

// TestRotateNonce_ConcurrentRotationLoses exercises the CAS path directly:
// a rotation built against a stale read of the active binding must fail
// with ErrVersionConflict rather than overwrite a rotation that already won.
func TestRotateNonce_ConcurrentRotationLoses(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	first, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	_, err = e.RotateNonce("org-1", testPublicKey, "winner")
	require.NoError(t, err)

	// A second, stale rotation attempt against the same pre-rotation
	// binding must lose the CAS race rather than silently win.
	stale := first
	stale.Revoked = true
	stale.RevokeReason = "loser"
	err = store.CommitRotation("org-1", stale, NonceBinding{OrgID: "org-1", Nonce: "loser-nonce", Version: 1})
	require.ErrorIs(t, err, ErrVersionConflict)

	active, ok, err := store.GetActiveBinding("org-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, "loser-nonce", active.Nonce)
}

func TestRotateNonce_RevokedBindingCannotRotate(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	_, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)
	require.NoError(t, e.RevokeBinding("org-1", "compromised"))

	_, err = e.RotateNonce("org-1", testPublicKey, "retry")
	require.ErrorIs(t, err, ErrRevokedBinding)
}

func TestRevokeBinding_SubsequentVerifyReturnsRevoked(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	binding, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)
	require.NoError(t, e.RevokeBinding("org-1", "manual"))

	result := e.VerifyBinding(binding.Nonce, "org-1")
	require.False(t, result.Valid)
	require.Equal(t, ReasonRevoked, result.Reason)
}

func TestGetRotationHistory_ChronologicalAndBounded(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	first, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)
	second, err := e.RotateNonce("org-1", testPublicKey, "r1")
	require.NoError(t, err)
	third, err := e.RotateNonce("org-1", testPublicKey, "r2")
	require.NoError(t, err)

	history, err := e.GetRotationHistory("org-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, first.Nonce, history[0].Nonce)
	require.Equal(t, second.Nonce, history[1].Nonce)
	require.Equal(t, third.Nonce, history[2].Nonce)
}

func TestGetRotationHistory_StopsOnCycle(t *testing.T) {
	store := newMemStore()
	verifiedIdentity(store, "org-1")
	e := NewEngine(store)

	binding, err := e.GenerateAndBindNonce("org-1", testPublicKey)
	require.NoError(t, err)

	// Corrupt the chain into a cycle pointing at itself.
	corrupted := binding
	corrupted.PreviousNonce = binding.Nonce
	require.NoError(t, store.PutBinding(corrupted))
	require.NoError(t, store.SetActiveNonce("org-1", binding.Nonce))

	history, err := e.GetRotationHistory("org-1")
	require.NoError(t, err)
	require.Len(t, history, 1, "a self-referential chain must not loop")
}
