package consentstore

import (
	"context"
	"sync"
	"time"
)

// LocalConsentStore is an in-memory ConsentStore for dev and tests.
type LocalConsentStore struct {
	mu    sync.RWMutex
	data  map[string]ConsentRecord
	clock func() time.Time
}

// NewLocalConsentStore returns an empty in-memory ConsentStore.
func NewLocalConsentStore() *LocalConsentStore {
	return &LocalConsentStore{data: make(map[string]ConsentRecord), clock: time.Now}
}

func (s *LocalConsentStore) Grant(_ context.Context, rec ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cacheKey(rec.OrgIDHash, rec.RepoID, rec.Scope)] = rec
	return nil
}

func (s *LocalConsentStore) Revoke(_ context.Context, orgIDHash, repoID, scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cacheKey(orgIDHash, repoID, scope)
	rec, ok := s.data[key]
	if !ok {
		return nil
	}
	rec.Revoked = true
	s.data[key] = rec
	return nil
}

func (s *LocalConsentStore) Check(_ context.Context, orgIDHash, repoID, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.data[cacheKey(orgIDHash, repoID, scope)]
	if !ok || rec.Revoked {
		return false, nil
	}
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(s.clock()) {
		return false, nil
	}
	return true, nil
}
