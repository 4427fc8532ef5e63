package reputation

import (
	"sort"
	"sync"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/canon"
)

// LeaderboardEntry is one organization's ranked position.
type LeaderboardEntry struct {
	Rank       int
	OrgID      string
	Reputation OrganizationReputation
}

// Leaderboard ranks organizations by reputation score, deterministically:
// ties break by OrgID ascending so the same input reputation table always
// produces a byte-identical ranking and hash.
type Leaderboard struct {
	mu      sync.RWMutex
	entries []LeaderboardEntry
	computedAt time.Time
}

// NewLeaderboardFromReputations builds and ranks a Leaderboard from a
// reputation snapshot.
func NewLeaderboardFromReputations(recs []OrganizationReputation) *Leaderboard {
	lb := &Leaderboard{}
	lb.Rank(recs)
	return lb
}

// Rank recomputes the ranking from a fresh snapshot, using
// sort.SliceStable by (ReputationScore DESC, OrgID ASC).
func (l *Leaderboard) Rank(recs []OrganizationReputation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]LeaderboardEntry, len(recs))
	for i, r := range recs {
		entries[i] = LeaderboardEntry{OrgID: r.OrgID, Reputation: r}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Reputation.ReputationScore != entries[j].Reputation.ReputationScore {
			return entries[i].Reputation.ReputationScore > entries[j].Reputation.ReputationScore
		}
		return entries[i].OrgID < entries[j].OrgID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	l.entries = entries
	l.computedAt = time.Now()
}

// TopN returns the first n entries, clamped to the leaderboard's size.
func (l *Leaderboard) TopN(n int) []LeaderboardEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]LeaderboardEntry, n)
	copy(out, l.entries[:n])
	return out
}

// Entry returns orgID's current ranking, if present.
func (l *Leaderboard) Entry(orgID string) (LeaderboardEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, e := range l.entries {
		if e.OrgID == orgID {
			return e, true
		}
	}
	return LeaderboardEntry{}, false
}

// hashable is the canonical-JSON projection used to hash the leaderboard:
// only rank, orgId and score feed the hash, so unrelated reputation fields
// (e.g. LastUpdated) don't perturb a digest meant to catch ranking drift.
type hashable struct {
	Rank  int     `json:"rank"`
	OrgID string  `json:"orgId"`
	Score float64 `json:"score"`
}

// Hash returns a deterministic content hash of the current ranking.
func (l *Leaderboard) Hash() (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := make([]hashable, len(l.entries))
	for i, e := range l.entries {
		rows[i] = hashable{Rank: e.Rank, OrgID: e.OrgID, Score: e.Reputation.ReputationScore}
	}
	return canon.Hash(rows)
}
