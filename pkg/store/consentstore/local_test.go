package consentstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/consentstore"
	"github.com/stretchr/testify/require"
)

func TestLocalConsentStore_GrantThenCheck(t *testing.T) {
	s := consentstore.NewLocalConsentStore()
	ctx := context.Background()

	rec := consentstore.ConsentRecord{
		OrgIDHash: "hash1",
		RepoID:    "api-gateway",
		Scope:     "fp-sharing",
		GrantedAt: time.Now(),
	}
	require.NoError(t, s.Grant(ctx, rec))

	ok, err := s.Check(ctx, "hash1", "api-gateway", "fp-sharing")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocalConsentStore_RevokeFailsClosed(t *testing.T) {
	s := consentstore.NewLocalConsentStore()
	ctx := context.Background()

	rec := consentstore.ConsentRecord{OrgIDHash: "hash1", RepoID: "r", Scope: "s", GrantedAt: time.Now()}
	require.NoError(t, s.Grant(ctx, rec))
	require.NoError(t, s.Revoke(ctx, "hash1", "r", "s"))

	ok, err := s.Check(ctx, "hash1", "r", "s")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocalConsentStore_UngrantedScopeIsFalse(t *testing.T) {
	s := consentstore.NewLocalConsentStore()
	ok, err := s.Check(context.Background(), "hash-never-seen", "r", "s")
	require.NoError(t, err)
	require.False(t, ok)
}

type erroringStore struct{}

func (erroringStore) Grant(context.Context, consentstore.ConsentRecord) error { return nil }
func (erroringStore) Revoke(context.Context, string, string, string) error    { return nil }
func (erroringStore) Check(context.Context, string, string, string) (bool, error) {
	return true, assertError
}

var assertError = context.DeadlineExceeded

func TestCachedConsentStore_FailsClosedOnAdapterError(t *testing.T) {
	cached := consentstore.NewCachedConsentStore(erroringStore{})
	valid := cached.HasValidConsent(context.Background(), "hash1", "r", "s")
	require.False(t, valid, "an adapter error must never be treated as granted consent")
}
