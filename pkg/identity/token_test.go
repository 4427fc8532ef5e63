package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signAssertion(t *testing.T, priv ed25519.PrivateKey, kid string, claims AssertionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestVerifyAssertion_ValidSignatureYieldsVerifiedIdentity(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keySet := NewStaticKeySet(map[string]ed25519.PublicKey{"key-1": pub})
	verifier := NewVerifier(keySet)

	now := time.Now()
	assertion := signAssertion(t, priv, "key-1", AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice@example.com",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		OrgID:    "org-1",
		Provider: "github",
	})

	ident, err := verifier.VerifyAssertion(assertion)
	require.NoError(t, err)
	require.True(t, ident.Verified)
	require.Equal(t, "org-1", ident.OrgID)
	require.Equal(t, "github", ident.Provider)
}

func TestVerifyAssertion_UnknownKeyRejected(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	keySet := NewStaticKeySet(map[string]ed25519.PublicKey{"key-1": otherPub})
	verifier := NewVerifier(keySet)

	assertion := signAssertion(t, priv, "key-1", AssertionClaims{OrgID: "org-1"})
	_, err = verifier.VerifyAssertion(assertion)
	require.Error(t, err)
}

func TestVerifyAssertion_MissingOrgIDRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keySet := NewStaticKeySet(map[string]ed25519.PublicKey{"key-1": pub})
	verifier := NewVerifier(keySet)

	assertion := signAssertion(t, priv, "key-1", AssertionClaims{})
	_, err = verifier.VerifyAssertion(assertion)
	require.Error(t, err)
}

func TestVerifyAssertion_ExpiredRejected(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	keySet := NewStaticKeySet(map[string]ed25519.PublicKey{"key-1": pub})
	verifier := NewVerifier(keySet)

	past := time.Now().Add(-2 * time.Hour)
	assertion := signAssertion(t, priv, "key-1", AssertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past),
		},
		OrgID: "org-1",
	})

	_, err = verifier.VerifyAssertion(assertion)
	require.Error(t, err)
}
