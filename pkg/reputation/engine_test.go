package reputation_test

import (
	"sync"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/reputation"
)

// memStore is a minimal in-memory reputation.Store for unit tests.
type memStore struct {
	mu            sync.Mutex
	reputations   map[string]reputation.OrganizationReputation
	stakes        map[string]reputation.StakePledge
	contributions map[string][]reputation.ContributionRecord
}

func newMemStore() *memStore {
	return &memStore{
		reputations:   make(map[string]reputation.OrganizationReputation),
		stakes:        make(map[string]reputation.StakePledge),
		contributions: make(map[string][]reputation.ContributionRecord),
	}
}

func (m *memStore) GetReputation(orgID string) (reputation.OrganizationReputation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reputations[orgID]
	return r, ok, nil
}

func (m *memStore) PutReputation(rec reputation.OrganizationReputation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reputations[rec.OrgID] = rec
	return nil
}

func (m *memStore) ListReputationsByScore(minScore float64) ([]reputation.OrganizationReputation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reputation.OrganizationReputation
	for _, r := range m.reputations {
		if r.ReputationScore >= minScore {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) GetStake(orgID string) (reputation.StakePledge, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stakes[orgID]
	return s, ok, nil
}

func (m *memStore) PutStake(p reputation.StakePledge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stakes[p.OrgID] = p
	return nil
}

func (m *memStore) ListContributions(orgID string, since time.Time) ([]reputation.ContributionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []reputation.ContributionRecord
	for _, c := range m.contributions[orgID] {
		if !c.Timestamp.Before(since) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) RecordContribution(rec reputation.ContributionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contributions[rec.OrgID] = append(m.contributions[rec.OrgID], rec)
	return nil
}
