package calibration

import (
	"math"
	"sort"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
)

// filterResult is the outcome of running the Byzantine filter pipeline over
// one rule's raw contributions.
type filterResult struct {
	survivors []contribution
	dropped   []DroppedContributor
}

// runByzantineFilter executes the first six of the seven ordered stages from
// spec §4.4; the seventh, consensus, is computed by the caller over the
// returned survivors. The stage order is itself an invariant (spec §5):
// missing-data -> minimum-reputation -> stake -> minimum-contributors floor
// -> z-score -> percentile -> consensus.
func runByzantineFilter(raw []contribution, weighter ContributionWeighter, cfg config.ByzantineFilterConfig) filterResult {
	var dropped []DroppedContributor
	survivors := make([]contribution, 0, len(raw))

	// Stage 1+2: weight lookup failure, or weight below the floor. A missing
	// reputation record is not a lookup failure (it yields the 0.1
	// participation weight per the reputation engine); only a lookup error
	// drops a contributor as insufficient data, and everyone else is subject
	// to the minimumReputationScore cut.
	for _, c := range raw {
		weight, err := weighter.ContributionWeight(c.OrgID)
		if err != nil {
			dropped = append(dropped, DroppedContributor{OrgID: c.OrgID, Reason: DropInsufficientData})
			continue
		}
		c.Weight = weight
		if weight < cfg.MinimumReputationScore {
			dropped = append(dropped, DroppedContributor{OrgID: c.OrgID, Reason: DropLowReputation})
			continue
		}
		survivors = append(survivors, c)
	}

	// Stage 3: optional stake requirement. Weight folds reputation, stake,
	// and a consistency bonus into one number, so a high-reputation,
	// zero-stake contributor can clear any weight-based floor; HasStake
	// checks the stake component directly instead.
	if cfg.RequireStake {
		kept := survivors[:0:0]
		for _, c := range survivors {
			staked, err := weighter.HasStake(c.OrgID)
			if err != nil || !staked {
				dropped = append(dropped, DroppedContributor{OrgID: c.OrgID, Reason: DropNoStake})
				continue
			}
			kept = append(kept, c)
		}
		survivors = kept
	}

	// Stage 4: below the statistical floor, skip stages 5-6 entirely.
	if len(survivors) < cfg.MinContributorsForFiltering {
		return filterResult{survivors: survivors, dropped: dropped}
	}

	// Stage 5: z-score outlier rejection.
	mean, stddev := meanStddev(survivors)
	kept := survivors[:0:0]
	for _, c := range survivors {
		z := 0.0
		if stddev > 0 {
			z = math.Abs(c.FPRate-mean) / stddev
		}
		if z > cfg.ZScoreThreshold {
			dropped = append(dropped, DroppedContributor{OrgID: c.OrgID, Reason: DropStatisticalOutlier})
			continue
		}
		kept = append(kept, c)
	}
	survivors = kept

	// Stage 6: drop the bottom byzantineFilterPercentile by weight.
	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].Weight < survivors[j].Weight })
	dropCount := int(math.Floor(float64(len(survivors)) * cfg.ByzantineFilterPercentile))
	for i := 0; i < dropCount; i++ {
		dropped = append(dropped, DroppedContributor{OrgID: survivors[i].OrgID, Reason: DropLowWeightPercentile})
	}
	survivors = survivors[dropCount:]

	return filterResult{survivors: survivors, dropped: dropped}
}

func meanStddev(contributions []contribution) (mean, stddev float64) {
	if len(contributions) == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range contributions {
		sum += c.FPRate
	}
	mean = sum / float64(len(contributions))

	var variance float64
	for _, c := range contributions {
		d := c.FPRate - mean
		variance += d * d
	}
	variance /= float64(len(contributions))
	return mean, math.Sqrt(variance)
}

// consensus computes Σ(weight·fpRate)/Σ(weight) over survivors.
func consensus(survivors []contribution) float64 {
	var weightedSum, weightTotal float64
	for _, c := range survivors {
		weightedSum += c.Weight * c.FPRate
		weightTotal += c.Weight
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal
}

// classifyConfidence computes the weighted-mean confidence score from spec
// §4.4: contributor-count/20 (capped), 1-coefficientOfVariation,
// trusted-event-count/1000 (capped), mean weight — weights 0.35/0.30/0.20/0.15.
func classifyConfidence(survivors []contribution) (Confidence, int) {
	trustedEvents := 0
	for _, c := range survivors {
		trustedEvents += c.EventCount
	}

	if len(survivors) < 3 {
		return ConfidenceInsufficient, trustedEvents
	}

	countFactor := math.Min(float64(len(survivors))/20.0, 1.0)

	mean, stddev := meanStddev(survivors)
	cv := 0.0
	if mean != 0 {
		cv = stddev / math.Abs(mean)
	}
	cvFactor := 1 - math.Min(cv, 1.0)

	eventFactor := math.Min(float64(trustedEvents)/1000.0, 1.0)

	var weightSum float64
	for _, c := range survivors {
		weightSum += c.Weight
	}
	meanWeight := weightSum / float64(len(survivors))

	score := 0.35*countFactor + 0.30*cvFactor + 0.20*eventFactor + 0.15*meanWeight

	switch {
	case score >= 0.7:
		return ConfidenceHigh, trustedEvents
	case score >= 0.5:
		return ConfidenceMedium, trustedEvents
	case score >= 0.3:
		return ConfidenceLow, trustedEvents
	default:
		return ConfidenceInsufficient, trustedEvents
	}
}
