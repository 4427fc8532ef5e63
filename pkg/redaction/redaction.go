// Package redaction computes and verifies the HMAC-SHA256 integrity tag
// over a redacted finding set, per spec §4.5. The tag's key is the current
// secretstore nonce; verification accepts a tag produced under any
// currently loaded nonce version, giving rotation a grace period.
package redaction

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/canon"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
)

// VerifyReason explains a failed Verify call without ever panicking.
type VerifyReason string

const (
	ReasonNone           VerifyReason = ""
	ReasonUnknownVersion VerifyReason = "unknown-version"
)

// ErrMalformedNonce wraps a nonce that fails hex decoding at tag time.
var ErrMalformedNonce = errors.New("redaction: malformed nonce value")

// Tag computes the HMAC-SHA256 integrity tag for payload under the
// secret store's current nonce, returning the tag's hex encoding and the
// nonce version it was produced under.
func Tag(ctx context.Context, payload any, store secretstore.SecretStore) (tag string, version int, err error) {
	body, err := canon.JSON(payload)
	if err != nil {
		return "", 0, fmt.Errorf("redaction: canonicalize payload: %w", err)
	}

	nonce, err := store.GetNonce(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("redaction: load nonce: %w", err)
	}

	sum, err := hmacWithNonce(nonce, body)
	if err != nil {
		return "", 0, err
	}
	return sum, nonce.Version, nil
}

// Verify recomputes the tag under every currently loaded nonce version and
// accepts payload if any of them match. A mismatch against every version —
// whether from tampering or a dropped grace-period nonce — is reported
// uniformly as ReasonUnknownVersion, since the two cannot be distinguished
// from the tag alone.
func Verify(ctx context.Context, payload any, tag string, store secretstore.SecretStore) (bool, VerifyReason) {
	body, err := canon.JSON(payload)
	if err != nil {
		return false, ReasonUnknownVersion
	}

	nonces, err := store.GetNonces(ctx)
	if err != nil {
		return false, ReasonUnknownVersion
	}

	for _, nonce := range nonces {
		sum, err := hmacWithNonce(nonce, body)
		if err != nil {
			continue
		}
		if hmac.Equal([]byte(sum), []byte(tag)) {
			return true, ReasonNone
		}
	}
	return false, ReasonUnknownVersion
}

// TagForOrg is Tag's multi-tenant variant: the HMAC key is an org-scoped
// subkey derived from the store's current nonce (spec §4.5 multi-tenant
// deployments), so two orgs' reports never share a redaction key even
// though they read the same underlying secret-store entry.
func TagForOrg(ctx context.Context, payload any, orgID string, store secretstore.SecretStore) (tag string, version int, err error) {
	body, err := canon.JSON(payload)
	if err != nil {
		return "", 0, fmt.Errorf("redaction: canonicalize payload: %w", err)
	}

	nonce, err := store.GetNonce(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("redaction: load nonce: %w", err)
	}
	orgNonce, err := secretstore.DeriveOrgNonce(nonce, orgID)
	if err != nil {
		return "", 0, fmt.Errorf("redaction: derive org nonce: %w", err)
	}

	sum, err := hmacWithNonce(orgNonce, body)
	if err != nil {
		return "", 0, err
	}
	return sum, nonce.Version, nil
}

// VerifyForOrg is Verify's multi-tenant counterpart, recomputing the tag
// under orgID's derived subkey for every currently loaded nonce version.
func VerifyForOrg(ctx context.Context, payload any, orgID, tag string, store secretstore.SecretStore) (bool, VerifyReason) {
	body, err := canon.JSON(payload)
	if err != nil {
		return false, ReasonUnknownVersion
	}

	nonces, err := store.GetNonces(ctx)
	if err != nil {
		return false, ReasonUnknownVersion
	}

	for _, nonce := range nonces {
		orgNonce, err := secretstore.DeriveOrgNonce(nonce, orgID)
		if err != nil {
			continue
		}
		sum, err := hmacWithNonce(orgNonce, body)
		if err != nil {
			continue
		}
		if hmac.Equal([]byte(sum), []byte(tag)) {
			return true, ReasonNone
		}
	}
	return false, ReasonUnknownVersion
}

func hmacWithNonce(nonce secretstore.Nonce, body []byte) (string, error) {
	key, err := hex.DecodeString(nonce.Value)
	if err != nil {
		return "", fmt.Errorf("%w: version %d", ErrMalformedNonce, nonce.Version)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
