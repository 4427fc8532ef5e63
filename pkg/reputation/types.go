// Package reputation maintains per-organization reputation, stake, and
// consistency, and computes the contribution weights the Byzantine filter
// uses to discount noisy or dishonest FP-rate submissions (spec §4.4).
package reputation

import "time"

// StakeStatus tracks a pledge's lifecycle. Transitions are one-way:
// active->slashed, active->withdrawn; never back to active (spec §3 invariant).
type StakeStatus string

const (
	StakeActive    StakeStatus = "active"
	StakeSlashed   StakeStatus = "slashed"
	StakeWithdrawn StakeStatus = "withdrawn"
)

// StakePledge is an organization's staked USD amount backing its submissions.
type StakePledge struct {
	OrgID      string
	AmountUSD  float64
	PledgedAt  time.Time
	Status     StakeStatus
	SlashReason string
}

// OrganizationReputation is the durable reputation record for one org.
type OrganizationReputation struct {
	OrgID            string
	ReputationScore  float64 // [0,1]
	StakePledge      float64 // USD, ≥0
	ContributionCount int
	FlaggedCount     int
	ConsistencyScore float64 // [0,1]
	AgeScore         float64 // [0,1]
	VolumeScore      float64 // [0,1]
	StakeStatus      StakeStatus
	LastUpdated      time.Time
}

// ContributionRecord is one org's FP-rate submission for one rule, together
// with how it compared to consensus at aggregation time.
type ContributionRecord struct {
	OrgID           string
	RuleID          string
	ContributedFPRate float64
	ConsensusFPRate   float64
	Timestamp       time.Time
	EventCount      int
	Deviation       float64
	ConsistencyScore float64
}

// Store is the persistence contract the reputation engine depends on.
// Concrete adapters (local file, Postgres) live under pkg/store/reputationstore
// and implement this interface against these domain types.
type Store interface {
	GetReputation(orgID string) (OrganizationReputation, bool, error)
	PutReputation(rec OrganizationReputation) error
	ListReputationsByScore(minScore float64) ([]OrganizationReputation, error)

	GetStake(orgID string) (StakePledge, bool, error)
	PutStake(p StakePledge) error

	ListContributions(orgID string, since time.Time) ([]ContributionRecord, error)
	RecordContribution(rec ContributionRecord) error
}
