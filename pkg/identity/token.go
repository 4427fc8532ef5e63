package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionClaims is the identity-provider assertion a collaborator
// organization presents to prove control of OrgID before any binding can
// be created.
type AssertionClaims struct {
	jwt.RegisteredClaims
	OrgID    string `json:"org_id"`
	Provider string `json:"provider"`
}

// Verifier validates identity-provider assertions and turns a successful
// verification into an OrganizationIdentity.
type Verifier struct {
	keySet KeySet
	clock  func() time.Time
}

// NewVerifier builds a Verifier against a provider's KeySet.
func NewVerifier(keySet KeySet) *Verifier {
	return &Verifier{keySet: keySet, clock: time.Now}
}

// VerifyAssertion parses and validates a signed assertion, returning the
// verified OrganizationIdentity it attests to. It never trusts an
// assertion's claims without signature verification against the KeySet.
func (v *Verifier) VerifyAssertion(assertion string) (OrganizationIdentity, error) {
	token, err := jwt.ParseWithClaims(assertion, &AssertionClaims{}, v.keySet.KeyFunc())
	if err != nil {
		return OrganizationIdentity{}, fmt.Errorf("identity: verify assertion: %w", err)
	}

	claims, ok := token.Claims.(*AssertionClaims)
	if !ok || !token.Valid {
		return OrganizationIdentity{}, jwt.ErrTokenSignatureInvalid
	}
	if claims.OrgID == "" {
		return OrganizationIdentity{}, fmt.Errorf("identity: assertion missing org_id")
	}

	return OrganizationIdentity{
		OrgID:      claims.OrgID,
		Provider:   claims.Provider,
		Subject:    claims.Subject,
		Verified:   true,
		VerifiedAt: v.clock(),
	}, nil
}
