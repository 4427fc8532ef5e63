// Package consentstore tracks per-org, resource-scoped consent grants used
// to gate whether an organization's FP submissions and governance state may
// be shared into cross-org aggregation, per spec §3/§4.6.
package consentstore

import (
	"context"
	"sync"
	"time"
)

// ConsentRecord is one grant or revocation of sharing consent.
type ConsentRecord struct {
	OrgIDHash  string // hashed, never the raw orgId
	RepoID     string // empty means org-wide
	Scope      string
	GrantedBy  string // hashed
	GrantedAt  time.Time
	ExpiresAt  *time.Time
	Revoked    bool
}

// ConsentStore is the resource-scoped grant/revoke/check contract.
type ConsentStore interface {
	Grant(ctx context.Context, rec ConsentRecord) error
	Revoke(ctx context.Context, orgIDHash, repoID, scope string) error
	Check(ctx context.Context, orgIDHash, repoID, scope string) (bool, error)
}

// cacheEntry pairs a cached boolean with its expiry.
type cacheEntry struct {
	valid     bool
	expiresAt time.Time
}

// CachedConsentStore wraps a ConsentStore with a 5-minute read cache per
// spec §4.6, and exposes HasValidConsent which fails CLOSED (returns false)
// if the underlying adapter errors — consent must never be assumed granted.
type CachedConsentStore struct {
	inner ConsentStore
	ttl   time.Duration
	clock func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCachedConsentStore wraps inner with the default 5-minute TTL cache.
func NewCachedConsentStore(inner ConsentStore) *CachedConsentStore {
	return &CachedConsentStore{
		inner: inner,
		ttl:   5 * time.Minute,
		clock: time.Now,
		cache: make(map[string]cacheEntry),
	}
}

func cacheKey(orgIDHash, repoID, scope string) string {
	return orgIDHash + "#" + repoID + "#" + scope
}

// HasValidConsent checks the cache first, falling through to inner.Check on
// a miss. An adapter error fails closed: consent is treated as absent.
func (c *CachedConsentStore) HasValidConsent(ctx context.Context, orgIDHash, repoID, scope string) bool {
	key := cacheKey(orgIDHash, repoID, scope)

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && c.clock().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.valid
	}
	c.mu.Unlock()

	valid, err := c.inner.Check(ctx, orgIDHash, repoID, scope)
	if err != nil {
		return false
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{valid: valid, expiresAt: c.clock().Add(c.ttl)}
	c.mu.Unlock()

	return valid
}

// Grant delegates to the wrapped store and invalidates the cache entry.
func (c *CachedConsentStore) Grant(ctx context.Context, rec ConsentRecord) error {
	if err := c.inner.Grant(ctx, rec); err != nil {
		return err
	}
	c.invalidate(rec.OrgIDHash, rec.RepoID, rec.Scope)
	return nil
}

// Revoke delegates to the wrapped store and invalidates the cache entry.
func (c *CachedConsentStore) Revoke(ctx context.Context, orgIDHash, repoID, scope string) error {
	if err := c.inner.Revoke(ctx, orgIDHash, repoID, scope); err != nil {
		return err
	}
	c.invalidate(orgIDHash, repoID, scope)
	return nil
}

func (c *CachedConsentStore) invalidate(orgIDHash, repoID, scope string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, cacheKey(orgIDHash, repoID, scope))
}
