package calibration

import (
	"testing"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/stretchr/testify/require"
)

type fixedWeighter map[string]float64

func (f fixedWeighter) ContributionWeight(orgID string) (float64, error) {
	w, ok := f[orgID]
	if !ok {
		return 0.1, nil
	}
	return w, nil
}

// HasStake is a plain stub here: no byzantine_test.go case sets
// cfg.RequireStake, so this is never exercised against fixedWeighter. The
// RequireStake stage itself is tested against stakeWeighter below.
func (f fixedWeighter) HasStake(orgID string) (bool, error) {
	return true, nil
}

// stakeWeighter lets a test assign a combined weight and a stake flag
// independently, the way a high-reputation/zero-stake org would in
// practice: its weight clears any reputation floor while HasStake is false.
type stakeWeighter struct {
	weight map[string]float64
	staked map[string]bool
}

func (s stakeWeighter) ContributionWeight(orgID string) (float64, error) {
	return s.weight[orgID], nil
}

func (s stakeWeighter) HasStake(orgID string) (bool, error) {
	return s.staked[orgID], nil
}

// TestByzantineFilter_DropsExtremeOutlier is spec §8 scenario 4: fp-rates
// [0.05, 0.06, 0.07, 0.05, 0.95], all weight 0.7.
func TestByzantineFilter_DropsExtremeOutlier(t *testing.T) {
	raw := []contribution{
		{OrgID: "org-1", FPRate: 0.05},
		{OrgID: "org-2", FPRate: 0.06},
		{OrgID: "org-3", FPRate: 0.07},
		{OrgID: "org-4", FPRate: 0.05},
		{OrgID: "org-5", FPRate: 0.95},
	}
	weights := fixedWeighter{"org-1": 0.7, "org-2": 0.7, "org-3": 0.7, "org-4": 0.7, "org-5": 0.7}
	cfg := config.DefaultByzantineFilter()

	result := runByzantineFilter(raw, weights, cfg)

	var outlierDropped bool
	var lowWeightDropped bool
	for _, d := range result.dropped {
		if d.OrgID == "org-5" && d.Reason == DropStatisticalOutlier {
			outlierDropped = true
		}
		if d.Reason == DropLowWeightPercentile {
			lowWeightDropped = true
		}
	}
	require.True(t, outlierDropped, "0.95 must be dropped as a statistical outlier")
	require.True(t, lowWeightDropped, "bottom-percentile survivor must also be dropped")

	c := consensus(result.survivors)
	require.GreaterOrEqual(t, c, 0.05)
	require.LessOrEqual(t, c, 0.07)
}

func TestByzantineFilter_BelowMinContributors_SkipsStatisticalStages(t *testing.T) {
	raw := []contribution{
		{OrgID: "org-1", FPRate: 0.01},
		{OrgID: "org-2", FPRate: 0.99},
	}
	weights := fixedWeighter{"org-1": 0.5, "org-2": 0.5}
	cfg := config.DefaultByzantineFilter() // MinContributorsForFiltering = 5

	result := runByzantineFilter(raw, weights, cfg)
	require.Len(t, result.survivors, 2, "fewer than minContributorsForFiltering must skip z-score/percentile stages")
}

func TestByzantineFilter_PercentileFloorOfFourSurvivorsDropsZero(t *testing.T) {
	// spec §8 boundary: floor(4*0.20) = 0.
	raw := []contribution{
		{OrgID: "a", FPRate: 0.1},
		{OrgID: "b", FPRate: 0.1},
		{OrgID: "c", FPRate: 0.1},
		{OrgID: "d", FPRate: 0.1},
		{OrgID: "e", FPRate: 0.1},
	}
	weights := fixedWeighter{"a": 0.5, "b": 0.5, "c": 0.5, "d": 0.5, "e": 0.5}
	cfg := config.DefaultByzantineFilter()
	cfg.MinContributorsForFiltering = 4

	// Force exactly 4 survivors into the percentile stage by setting one
	// contributor's weight below the reputation floor so it's dropped
	// earlier, leaving 4 for the z-score/percentile stages.
	weights["e"] = 0.0
	result := runByzantineFilter(raw, weights, cfg)

	dropped := 0
	for _, d := range result.dropped {
		if d.Reason == DropLowWeightPercentile {
			dropped++
		}
	}
	require.Equal(t, 0, dropped)
}

func TestClassifyConfidence_FewerThanThreeIsAlwaysInsufficient(t *testing.T) {
	survivors := []contribution{
		{OrgID: "a", FPRate: 0.1, Weight: 0.9, EventCount: 500},
		{OrgID: "b", FPRate: 0.1, Weight: 0.9, EventCount: 500},
	}
	confidence, _ := classifyConfidence(survivors)
	require.Equal(t, ConfidenceInsufficient, confidence)
}

func TestConsensus_EmptySurvivorsIsZero(t *testing.T) {
	require.Equal(t, 0.0, consensus(nil))
}

// TestByzantineFilter_RequireStakeDropsHighWeightZeroStake is spec §4.4
// step 3: a contributor with baseReputation=0.5, stake=0, consistencyBonus=0.1
// (combined weight 0.6) clears any weight-based floor but must still be
// dropped as DropNoStake once RequireStake is on.
func TestByzantineFilter_RequireStakeDropsHighWeightZeroStake(t *testing.T) {
	raw := []contribution{
		{OrgID: "no-stake", FPRate: 0.1},
		{OrgID: "staked", FPRate: 0.1},
	}
	weighter := stakeWeighter{
		weight: map[string]float64{"no-stake": 0.6, "staked": 0.6},
		staked: map[string]bool{"no-stake": false, "staked": true},
	}
	cfg := config.DefaultByzantineFilter()
	cfg.RequireStake = true
	cfg.MinimumReputationScore = 0.2 // below 0.6, so stage 1+2 alone would let both through

	result := runByzantineFilter(raw, weighter, cfg)

	require.Len(t, result.survivors, 1)
	require.Equal(t, "staked", result.survivors[0].OrgID)

	var droppedNoStake bool
	for _, d := range result.dropped {
		if d.OrgID == "no-stake" && d.Reason == DropNoStake {
			droppedNoStake = true
		}
	}
	require.True(t, droppedNoStake, "high-weight zero-stake contributor must be dropped as DropNoStake")
}
