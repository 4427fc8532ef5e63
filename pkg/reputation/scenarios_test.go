package reputation_test

import (
	"testing"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/reputation"
	"github.com/stretchr/testify/require"
)

func TestContributionWeight_MissingRecordYieldsMinimum(t *testing.T) {
	store := newMemStore()
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	w, err := e.ContributionWeight("org-never-seen")
	require.NoError(t, err)
	require.Equal(t, 0.1, w)
}

func TestContributionWeight_CapsAtOne(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutReputation(reputation.OrganizationReputation{
		OrgID:            "org-a",
		ReputationScore:  0.9,
		StakePledge:      5000,
		ConsistencyScore: 1.0,
	}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	w, err := e.ContributionWeight("org-a")
	require.NoError(t, err)
	require.Equal(t, 1.0, w)
}

func TestContributionWeight_ZeroStakeYieldsNoMultiplier(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutReputation(reputation.OrganizationReputation{
		OrgID:           "org-a",
		ReputationScore: 0.3,
		StakePledge:     0,
	}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	w, err := e.ContributionWeight("org-a")
	require.NoError(t, err)
	require.InDelta(t, 0.3, w, 1e-9)
}

func TestHasStake_NoRecordIsFalse(t *testing.T) {
	store := newMemStore()
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	staked, err := e.HasStake("org-never-staked")
	require.NoError(t, err)
	require.False(t, staked)
}

func TestHasStake_ActivePositivePledgeIsTrue(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutStake(reputation.StakePledge{OrgID: "org-a", AmountUSD: 500, Status: reputation.StakeActive}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	staked, err := e.HasStake("org-a")
	require.NoError(t, err)
	require.True(t, staked)
}

// TestHasStake_HighReputationZeroStakeIsFalse grounds the exact scenario
// RequireStake must catch: a contributor can clear any combined-weight
// floor on reputation alone while holding no stake at all.
func TestHasStake_HighReputationZeroStakeIsFalse(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutReputation(reputation.OrganizationReputation{OrgID: "org-a", ReputationScore: 0.5, ConsistencyScore: 1.0}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	w, err := e.ContributionWeight("org-a")
	require.NoError(t, err)
	require.Greater(t, w, 0.5, "reputation plus consistency bonus clears the base score alone")

	staked, err := e.HasStake("org-a")
	require.NoError(t, err)
	require.False(t, staked)
}

func TestHasStake_SlashedPledgeIsFalse(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutStake(reputation.StakePledge{OrgID: "org-a", AmountUSD: 500, Status: reputation.StakeSlashed}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	staked, err := e.HasStake("org-a")
	require.NoError(t, err)
	require.False(t, staked)
}

func TestComputeConsistency_TooFewContributionsIsNeutral(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.RecordContribution(reputation.ContributionRecord{
		OrgID: "org-a", RuleID: "MD-101", ContributedFPRate: 0.1, ConsensusFPRate: 0.1,
		Timestamp: time.Now(), EventCount: 5,
	}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	result, err := e.ComputeConsistency("org-a")
	require.NoError(t, err)
	require.True(t, result.IsNeutral)
	require.Equal(t, 0.5, result.Score)
}

func TestComputeConsistency_PerfectAlignmentScoresHigh(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.RecordContribution(reputation.ContributionRecord{
			OrgID: "org-a", RuleID: "MD-101", ContributedFPRate: 0.1, ConsensusFPRate: 0.1,
			Timestamp: now, EventCount: 5,
		}))
	}
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	result, err := e.ComputeConsistency("org-a")
	require.NoError(t, err)
	require.False(t, result.IsNeutral)
	require.InDelta(t, 1.0, result.Score, 1e-9)
}

func TestSlashStake_ZeroesReputationAndIncrementsFlagged(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutStake(reputation.StakePledge{OrgID: "org-a", AmountUSD: 2000, Status: reputation.StakeActive}))
	require.NoError(t, store.PutReputation(reputation.OrganizationReputation{OrgID: "org-a", ReputationScore: 0.8}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	require.NoError(t, e.SlashStake("org-a", "submitted fabricated events"))

	rec, found, err := store.GetReputation("org-a")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 0.0, rec.ReputationScore)
	require.Equal(t, 1, rec.FlaggedCount)
	require.Equal(t, reputation.StakeSlashed, rec.StakeStatus)

	stake, _, _ := store.GetStake("org-a")
	require.Equal(t, reputation.StakeSlashed, stake.Status)
}

func TestSlashStake_CannotSlashAlreadySlashed(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutStake(reputation.StakePledge{OrgID: "org-a", Status: reputation.StakeSlashed}))
	e := reputation.NewEngine(store, config.DefaultWeighting(), config.DefaultConsistency())

	err := e.SlashStake("org-a", "double slash")
	require.Error(t, err)
}

func TestLeaderboard_DeterministicRankingAndHash(t *testing.T) {
	recs := []reputation.OrganizationReputation{
		{OrgID: "org-b", ReputationScore: 0.7},
		{OrgID: "org-a", ReputationScore: 0.7},
		{OrgID: "org-c", ReputationScore: 0.9},
	}
	lb := reputation.NewLeaderboardFromReputations(recs)

	top := lb.TopN(3)
	require.Equal(t, "org-c", top[0].OrgID)
	require.Equal(t, "org-a", top[1].OrgID, "ties break by OrgID ascending")
	require.Equal(t, "org-b", top[2].OrgID)

	h1, err := lb.Hash()
	require.NoError(t, err)

	lb2 := reputation.NewLeaderboardFromReputations(recs)
	h2, err := lb2.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2, "identical input must hash identically")
}
