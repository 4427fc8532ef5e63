package calibration

import (
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
)

const kAnonymityFloor = 3

// fpEventTTL mirrors the ~90 day retention window named in spec §3 for
// FPEvent rows; aggregation only ever considers events still within it.
const fpEventTTL = 90 * 24 * time.Hour

// Engine runs FP-rate aggregation over a store's events, applying the
// Byzantine filter before disclosing any consensus output.
type Engine struct {
	store    Store
	weighter ContributionWeighter
	updater  ConsistencyUpdater
	cfg      config.ByzantineFilterConfig
	clock    func() time.Time
}

// NewEngine builds a calibration Engine. updater may be nil, in which case
// AggregateFPsByRule skips the consistency feedback loop (used by tests and
// by read-only calibration previews).
func NewEngine(store Store, weighter ContributionWeighter, updater ConsistencyUpdater, cfg config.ByzantineFilterConfig) *Engine {
	return &Engine{store: store, weighter: weighter, updater: updater, cfg: cfg, clock: time.Now}
}

// AggregateFPsByRule turns a population of per-org FP submissions for
// ruleID into a consensus rate, per spec §4.4. Returns ErrKAnonymityError
// if fewer than the k-anonymity floor of trusted contributors survive.
func (e *Engine) AggregateFPsByRule(ruleID string) (CalibrationResult, error) {
	events, err := e.store.GetWindowBySince(ruleID, e.clock().Add(-fpEventTTL))
	if err != nil {
		return CalibrationResult{}, fmt.Errorf("calibration: fetch events: %w", err)
	}

	raw := groupByOrg(events)
	result := runByzantineFilter(raw, e.weighter, e.cfg)

	if len(result.survivors) < kAnonymityFloor {
		return CalibrationResult{}, ErrKAnonymityError
	}

	confidence, trustedEvents := classifyConfidence(result.survivors)

	if e.updater != nil {
		e.applyFeedbackLoop(result.survivors)
	}

	return CalibrationResult{
		RuleID:            ruleID,
		ConsensusFPRate:   consensus(result.survivors),
		Confidence:        confidence,
		SurvivorCount:     len(result.survivors),
		TrustedEventCount: trustedEvents,
		Dropped:           result.dropped,
		ComputedAt:        e.clock(),
	}, nil
}

// applyFeedbackLoop recomputes and persists each survivor's consistency
// score (spec §4.4 "after each successful AggregateFPsByRule"). A single
// org's update failure never aborts aggregation; the result has already
// been computed and is returned to the caller regardless.
func (e *Engine) applyFeedbackLoop(survivors []contribution) {
	for _, c := range survivors {
		result, err := e.updater.ComputeConsistency(c.OrgID)
		if err != nil {
			continue
		}
		_ = e.updater.ApplyConsistencyUpdate(c.OrgID, result)
	}
}

// groupByOrg reduces a rule's raw FPEvent stream into one contribution per
// org: the per-org FP rate and a count of events backing it.
func groupByOrg(events []FPEvent) []contribution {
	type acc struct {
		fpCount, total int
	}
	byOrg := make(map[string]*acc)
	order := make([]string, 0)

	for _, ev := range events {
		a, ok := byOrg[ev.OrgIDHash]
		if !ok {
			a = &acc{}
			byOrg[ev.OrgIDHash] = a
			order = append(order, ev.OrgIDHash)
		}
		a.total++
		if ev.IsFalsePositive {
			a.fpCount++
		}
	}

	out := make([]contribution, 0, len(order))
	for _, orgID := range order {
		a := byOrg[orgID]
		rate := 0.0
		if a.total > 0 {
			rate = float64(a.fpCount) / float64(a.total)
		}
		out = append(out, contribution{OrgID: orgID, FPRate: rate, EventCount: a.total})
	}
	return out
}
