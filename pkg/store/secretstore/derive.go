package secretstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveOrgNonce derives an org-scoped subkey from base using HKDF-SHA256,
// so that multi-tenant redaction tags are computed under distinguishable
// per-org keys without provisioning a separate secret-store entry per org.
// The derivation is deterministic: the same (base, orgID) pair always
// yields the same subkey, which is what lets Verify recompute it without
// a round trip to the store.
func DeriveOrgNonce(base Nonce, orgID string) (Nonce, error) {
	if orgID == "" {
		return Nonce{}, fmt.Errorf("secretstore: orgID must not be empty")
	}
	ikm, err := hex.DecodeString(base.Value)
	if err != nil {
		return Nonce{}, fmt.Errorf("%w: version %d", ErrMalformedSecret, base.Version)
	}

	reader := hkdf.New(sha256.New, ikm, []byte("gov-oracle-org-nonce"), []byte(orgID))
	sub := make([]byte, len(ikm))
	if _, err := io.ReadFull(reader, sub); err != nil {
		return Nonce{}, fmt.Errorf("secretstore: derive org nonce: %w", err)
	}

	return Nonce{Version: base.Version, Value: hex.EncodeToString(sub)}, nil
}
