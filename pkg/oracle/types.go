// Package oracle orchestrates the rule registry over a per-request context
// and produces a DissonanceReport with a gate decision (spec §4.1).
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Mode is one of the enumerated evaluation modes (spec §6).
type Mode string

const (
	ModePullRequest Mode = "pull_request"
	ModeMergeGroup  Mode = "merge_group"
	ModeSchedule    Mode = "schedule"
	ModeCalibration Mode = "calibration"
	ModeDrift       Mode = "drift"
)

// Outcome is the gate decision attached to a DissonanceReport.
type Outcome string

const (
	OutcomeAllow Outcome = "ALLOW"
	OutcomeWarn  Outcome = "WARN"
	OutcomeBlock Outcome = "BLOCK"
)

// Severity is a Finding's severity level. The engine maps it to a gate
// contribution via the severity ladder (spec §4.1 step 4).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityBlock    Severity = "block"
	SeverityWarn     Severity = "warn"
	SeverityAllow    Severity = "allow"
)

// Tier gates whether a rule requires a licensed feature (spec §4.1 step 1).
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
)

// FPTolerance bounds the acceptable false-positive rate for a rule,
// expressed as a ceiling and the window size it is measured over.
type FPTolerance struct {
	Ceiling    float64
	WindowSize int
}

// RuleDescriptor is a rule's immutable registration metadata (spec §3).
type RuleDescriptor struct {
	ID              string
	Version         *semver.Version
	Tier            Tier
	RequiredFeature string // non-empty only for Tier B
	Severity        Severity
	Category        string
	FPTolerance     FPTolerance

	// Strict, when non-nil, overrides the mode-level strict flag for this
	// rule's contribution to outcome computation.
	Strict *bool
}

// License describes the caller's license tier, features, and expiry,
// consulted only for tier gating (spec §4.1 step 1).
type License struct {
	Tier     Tier
	Features map[string]bool
	Expiry   time.Time
}

// HasFeature reports whether feature is present and the license has not expired.
func (l License) HasFeature(feature string) bool {
	if !l.Expiry.IsZero() && time.Now().After(l.Expiry) {
		return false
	}
	return l.Features[feature]
}

// WorkflowJob is one job entry parsed from a CI workflow file.
type WorkflowJob struct {
	Name  string
	Steps []string
}

// Workflow is a single parsed CI workflow file.
type Workflow struct {
	Path string
	Jobs []WorkflowJob
}

// RuleContext is built once per Oracle invocation and is read-only to rules
// (spec §3).
type RuleContext struct {
	License License
	Files   map[string]string // path -> content
	Repo    RepoRef
	Mode    Mode

	OrgContext        *OrgContext
	BranchProtection  *BranchProtection
	MergeQueuePolicy  *MergeQueuePolicy
	WorkflowJobs      []Workflow

	// RequestedRuleIDs, when non-empty, restricts evaluation to those ids
	// and is what distinguishes "explicitly requested" from "skip" in the
	// tier-gating fatal-error conversion rule.
	RequestedRuleIDs []string
}

// RepoRef identifies the repository under evaluation.
type RepoRef struct {
	Owner string
	Name  string
}

// FullName returns "owner/name", the repoId used throughout reports.
func (r RepoRef) FullName() string {
	if r.Owner == "" {
		return r.Name
	}
	return r.Owner + "/" + r.Name
}

// BranchProtection is the observed branch-protection state for the default branch.
type BranchProtection struct {
	RequireReviews       bool
	RequiredApprovals    int
	RequireSignedCommits bool
	RequireLinearHistory bool
	EnforceAdmins        bool
	AllowBypassForAdmins bool
	AllowDirectPushes    bool
	RequiredStatusChecks []string
}

// MergeQueuePolicy is the organization's merge-queue requirements.
type MergeQueuePolicy struct {
	RequiredForDefaultBranch bool
	AllowBypassForAdmins     bool
	RequireLinearHistory     bool
	AllowDirectPushes        bool
	RequiredStatusChecks     []string

	// CustomRules are CEL predicates evaluated against the observed branch
	// protection in addition to the fixed fields above.
	CustomRules []string
}

// OrgContext is built once per scheduled org-wide run (spec §3).
type OrgContext struct {
	Manifest any // policy.OrgPolicyManifest (a value, not a pointer); kept as any to avoid an import cycle with pkg/policy consumers that don't need it
	Repos    []RepoObservation
}

// RepoObservation pairs a repo's identity with its observed governance state
// and any critical/merge-queue tagging used by MD-102-federated.
type RepoObservation struct {
	Repo       RepoRef
	Archived   bool
	Tags       []string
	Topics     []string
	Visibility string
	MergeQueue *MergeQueuePolicy
	State      any // *policy.RepoGovernanceState
}

// HasTag reports whether tag is present in the observation's Tags, used by
// MD-102-federated to find repos tagged "critical".
func (r RepoObservation) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Evidence is one supporting location for a Finding.
type Evidence struct {
	Path    string
	Line    int
	Context map[string]any
}

// Finding is one rule's emitted observation (spec §3).
type Finding struct {
	ID            string     `json:"id"`
	RuleID        string     `json:"ruleId"`
	RuleName      string     `json:"ruleName"`
	Severity      Severity   `json:"severity"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Remediation   string     `json:"remediation"`
	Evidence      []Evidence `json:"evidence"`
	ADRReferences []string   `json:"adrReferences"`
}

// DissonanceReport is the engine's output (spec §3, wire shape in §6).
type DissonanceReport struct {
	RunID              string    `json:"runId"`
	RepoID             string    `json:"repoId"`
	Mode               Mode      `json:"mode"`
	Outcome            Outcome   `json:"outcome"`
	ThresholdsSnapshot any       `json:"thresholdsSnapshot"`
	Findings           []Finding `json:"findings"`
	RedactionTag       string    `json:"redactionTag"`
	NonceVersion       int       `json:"-"`
	SchemaVersion      string    `json:"schemaVersion"`
	CreatedAt          time.Time `json:"createdAt"`

	SuppressedCount int `json:"-"`
}

// Rule is the capability set every governance rule implements (spec §4.2).
type Rule interface {
	Descriptor() RuleDescriptor
	Evaluate(ctx context.Context, rc RuleContext) ([]Finding, error)
}

// EvaluateOptions carries invocation flags outside of RuleContext.
type EvaluateOptions struct {
	// PromoteBaseline, when true and Mode is calibration, writes the
	// computed findings to the object store as the new baseline. Bare
	// calibration runs never mutate stored baselines.
	PromoteBaseline bool

	// DryRun relaxes the fail-closed-on-secret-unavailable rule (spec §4.1):
	// the engine still attempts redaction but returns the report with an
	// empty tag instead of a synthetic BLOCK when the secret store fails.
	DryRun bool
}

// ErrLicenseRequired means a Tier-B rule ran without its required feature.
var ErrLicenseRequired = errors.New("oracle: license feature required")
