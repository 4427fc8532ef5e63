package reputation

import (
	"fmt"
	"math"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
)

// Engine computes contribution weights and consistency scores, and applies
// the stake-slash feedback loop described in spec §4.4.
type Engine struct {
	store     Store
	weighting config.WeightingConfig
	consist   config.ConsistencyConfig
	clock     func() time.Time
}

// NewEngine builds a reputation Engine over store using the given tunables.
func NewEngine(store Store, weighting config.WeightingConfig, consist config.ConsistencyConfig) *Engine {
	return &Engine{store: store, weighting: weighting, consist: consist, clock: time.Now}
}

// ContributionWeight computes min(baseReputation + stakeMultiplier +
// consistencyBonus, 1.0) per spec §4.4. A missing record yields the minimum
// participation weight of 0.1.
func (e *Engine) ContributionWeight(orgID string) (float64, error) {
	rec, found, err := e.store.GetReputation(orgID)
	if err != nil {
		return 0, fmt.Errorf("reputation: get %s: %w", orgID, err)
	}
	if !found {
		return 0.1, nil
	}

	stakeMultiplier := 0.0
	if rec.StakePledge > 0 {
		stakeMultiplier = math.Min(rec.StakePledge/e.weighting.MinStakeUSD, 1.0) * e.weighting.StakeCap
	}
	consistencyBonus := rec.ConsistencyScore * e.weighting.ConsistencyBonusCap

	weight := rec.ReputationScore + stakeMultiplier + consistencyBonus
	return math.Min(weight, 1.0), nil
}

// HasStake reports whether orgID has an active, positive stake pledge on
// record. Unlike ContributionWeight, this never folds reputation or
// consistency into the answer — it exists for callers (the Byzantine
// filter's stake-requirement stage) that need the stake component in
// isolation, not the combined weight.
func (e *Engine) HasStake(orgID string) (bool, error) {
	pledge, found, err := e.store.GetStake(orgID)
	if err != nil {
		return false, fmt.Errorf("reputation: get stake %s: %w", orgID, err)
	}
	if !found {
		return false, nil
	}
	return pledge.Status == StakeActive && pledge.AmountUSD > 0, nil
}

// ConsistencyResult is the outcome of ComputeConsistency, including whether
// the neutral-default fallback applied.
type ConsistencyResult struct {
	Score        float64
	IsNeutral    bool // true when too few contributions for a real score
	OutlierCount int
}

// ComputeConsistency scores orgID's alignment with consensus over the
// window [now-maxAge, now], per spec §4.4.
func (e *Engine) ComputeConsistency(orgID string) (ConsistencyResult, error) {
	since := e.clock().Add(-e.consist.MaxContributionAge)
	contributions, err := e.store.ListContributions(orgID, since)
	if err != nil {
		return ConsistencyResult{}, fmt.Errorf("reputation: list contributions: %w", err)
	}

	eligible := make([]ContributionRecord, 0, len(contributions))
	for _, c := range contributions {
		if c.EventCount >= e.consist.MinEventCount {
			eligible = append(eligible, c)
		}
	}

	if len(eligible) < e.consist.MinContributionsRequired {
		return ConsistencyResult{Score: 0.5, IsNeutral: true}, nil
	}

	var weightedSum, weightTotal float64
	outliers := 0
	now := e.clock()

	for _, c := range eligible {
		deviation := math.Abs(c.ContributedFPRate - c.ConsensusFPRate)
		if deviation > e.consist.OutlierThreshold {
			outliers++
			if e.consist.ExcludeOutliersFromScore {
				continue
			}
		}

		singleScore := 1 - math.Min(deviation, 1.0)
		ageDays := now.Sub(c.Timestamp).Hours() / 24
		w := math.Exp(-e.consist.DecayRate * ageDays)

		weightedSum += w * singleScore
		weightTotal += w
	}

	if weightTotal == 0 {
		return ConsistencyResult{Score: 0.5, IsNeutral: true, OutlierCount: outliers}, nil
	}

	return ConsistencyResult{Score: weightedSum / weightTotal, OutlierCount: outliers}, nil
}

// ApplyConsistencyUpdate persists a freshly computed consistency score for
// orgID, called by the calibration engine's feedback loop after each
// successful AggregateFPsByRule.
func (e *Engine) ApplyConsistencyUpdate(orgID string, result ConsistencyResult) error {
	rec, found, err := e.store.GetReputation(orgID)
	if err != nil {
		return fmt.Errorf("reputation: get %s: %w", orgID, err)
	}
	if !found {
		rec = OrganizationReputation{OrgID: orgID, ReputationScore: 0.1}
	}
	rec.ConsistencyScore = result.Score
	rec.LastUpdated = e.clock()
	return e.store.PutReputation(rec)
}

// SlashStake transitions orgID's stake to slashed, zeroes its reputation
// score, and atomically increments its flagged count, per spec §4.4's
// feedback-loop requirement and §3's one-way stake-transition invariant.
func (e *Engine) SlashStake(orgID, reason string) error {
	pledge, found, err := e.store.GetStake(orgID)
	if err != nil {
		return fmt.Errorf("reputation: get stake %s: %w", orgID, err)
	}
	if !found || pledge.Status != StakeActive {
		return fmt.Errorf("reputation: %s has no active stake to slash", orgID)
	}
	pledge.Status = StakeSlashed
	pledge.SlashReason = reason
	if err := e.store.PutStake(pledge); err != nil {
		return fmt.Errorf("reputation: put stake: %w", err)
	}

	rec, found, err := e.store.GetReputation(orgID)
	if err != nil {
		return fmt.Errorf("reputation: get %s: %w", orgID, err)
	}
	if !found {
		rec = OrganizationReputation{OrgID: orgID}
	}
	rec.ReputationScore = 0
	rec.StakeStatus = StakeSlashed
	rec.FlaggedCount++
	rec.LastUpdated = e.clock()
	return e.store.PutReputation(rec)
}
