// Package calibration aggregates per-org false-positive rate submissions
// into a consensus rate per rule, filtering out statistically extreme or
// low-reputation contributors before the weighted average is computed
// (spec §4.4).
package calibration

import (
	"errors"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/reputation"
)

// ErrKAnonymityError is returned when fewer than the k-anonymity floor of
// trusted contributors remain after filtering; callers must never surface
// aggregation output below this floor (spec §4.4, §8).
var ErrKAnonymityError = errors.New("calibration: fewer than k-anonymity floor of trusted contributors")

// FPEvent is one operator-reviewed finding outcome, submitted for
// aggregation. Stored by (ruleId, eventId) with a TTL of ~90 days (spec §3).
type FPEvent struct {
	EventID           string
	RuleID            string
	RuleVersion       string
	FindingID         string
	Outcome           string
	IsFalsePositive   bool
	ReviewedBy        string
	ReviewedAt        time.Time
	SuppressionTicket string
	Timestamp         time.Time
	Context           map[string]any
	OrgIDHash         string
	ConsentRef        string
}

// Store is the FP event persistence contract from spec §4.6. Concrete
// adapters (local file, Redis) live under pkg/store/fpstore.
type Store interface {
	// RecordEvent rejects duplicates by (RuleID, EventID), returning
	// ErrDuplicateEvent (swallowed by callers as an expected conflict).
	RecordEvent(e FPEvent) error
	GetWindowByCount(ruleID string, n int) ([]FPEvent, error)
	GetWindowBySince(ruleID string, since time.Time) ([]FPEvent, error)
	MarkFalsePositive(findingID, reviewedBy, ticket string) error
	IsFalsePositive(ruleID, findingID string) (bool, error)
}

// ErrDuplicateEvent signals an expected conflict on duplicate-event insert;
// engine code swallows it, never surfacing it as a failure (spec §7).
var ErrDuplicateEvent = errors.New("calibration: duplicate (ruleId, eventId)")

// ContributionWeighter supplies per-org weights to the Byzantine filter,
// satisfied by *reputation.Engine. HasStake exposes the stake component in
// isolation: ContributionWeight folds reputation, stake, and a consistency
// bonus into one number, which is useless for RequireStake's "does this org
// actually have skin in the game" check (a high-reputation, zero-stake org
// can clear the combined weight floor easily).
type ContributionWeighter interface {
	ContributionWeight(orgID string) (float64, error)
	HasStake(orgID string) (bool, error)
}

// ConsistencyUpdater closes the feedback loop described in spec §4.4:
// after a successful aggregation, each surviving contributor's alignment
// with consensus is scored and persisted back to the reputation store.
// Satisfied by *reputation.Engine.
type ConsistencyUpdater interface {
	ComputeConsistency(orgID string) (reputation.ConsistencyResult, error)
	ApplyConsistencyUpdate(orgID string, result reputation.ConsistencyResult) error
}

// Confidence categorizes how trustworthy a CalibrationResult is.
type Confidence string

const (
	ConfidenceHigh         Confidence = "high"
	ConfidenceMedium       Confidence = "medium"
	ConfidenceLow          Confidence = "low"
	ConfidenceInsufficient Confidence = "insufficient"
)

// DropReason records why a contributor was excluded from consensus.
type DropReason string

const (
	DropInsufficientData   DropReason = "insufficient_data"
	DropLowReputation      DropReason = "low_reputation"
	DropNoStake            DropReason = "no_stake"
	DropStatisticalOutlier DropReason = "statistical_outlier"
	DropLowWeightPercentile DropReason = "low_weight_percentile"
)

// DroppedContributor records one exclusion decision for audit.
type DroppedContributor struct {
	OrgID  string
	Reason DropReason
}

// CalibrationResult is the consensus output of AggregateFPsByRule.
type CalibrationResult struct {
	RuleID          string
	ConsensusFPRate float64
	Confidence      Confidence
	SurvivorCount   int
	TrustedEventCount int
	Dropped         []DroppedContributor
	ComputedAt      time.Time
}

// contribution is the internal per-org submission the filter pipeline
// operates over.
type contribution struct {
	OrgID      string
	FPRate     float64
	Weight     float64
	EventCount int
}
