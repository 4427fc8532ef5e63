// Package policy resolves an org's governance manifest into the expected
// policy set for a given repo and diffs it against observed repo state
// (spec §4.3).
package policy

import "time"

// RequirementKind tags which DetectGaps branch applies to an Expectation.
type RequirementKind string

const (
	RequirementBranchProtection RequirementKind = "branch-protection"
	RequirementStatusChecks     RequirementKind = "status-checks"
	RequirementWorkflowPresence RequirementKind = "workflow-presence"
	RequirementPermissions      RequirementKind = "permissions"
	RequirementCodeowners       RequirementKind = "codeowners"

	// RequirementCEL covers org-specific rules that don't fit the other
	// tagged kinds. Expression is evaluated against the repo's observed
	// state by a CELEvaluator; a gap is reported whenever it evaluates false.
	RequirementCEL RequirementKind = "cel"
)

// PermissionLevel is the {read<write<admin} ordinal scale spec §4.3 compares on.
type PermissionLevel string

const (
	PermissionRead  PermissionLevel = "read"
	PermissionWrite PermissionLevel = "write"
	PermissionAdmin PermissionLevel = "admin"
)

func (p PermissionLevel) rank() int {
	switch p {
	case PermissionRead:
		return 0
	case PermissionWrite:
		return 1
	case PermissionAdmin:
		return 2
	default:
		return -1
	}
}

// RepoMatcher selects which repos a classification's expectations apply to.
type RepoMatcher struct {
	Repos      []string
	Patterns   []string
	Topics     []string
	Visibility string
}

// ExpectationSeverity tags how serious a gap against an expectation is,
// independent of whether the observed state is missing, partial, or
// exceeds the requirement (spec §4.2's MD-101 severity mapping).
type ExpectationSeverity string

const (
	ExpectationLow      ExpectationSeverity = "low"
	ExpectationMedium   ExpectationSeverity = "medium"
	ExpectationHigh     ExpectationSeverity = "high"
	ExpectationCritical ExpectationSeverity = "critical"
)

// PolicyExpectation is one requirement a repo is expected to satisfy.
type PolicyExpectation struct {
	ID          string
	Requirement RequirementKind
	Severity    ExpectationSeverity

	// BranchProtection fields (RequirementBranchProtection).
	RequireReviews      bool
	RequiredApprovals   int
	RequireSignedCommits bool
	RequireLinearHistory bool
	EnforceAdmins       bool

	// StatusChecks fields.
	RequiredContexts []string

	// WorkflowPresence fields.
	WorkflowPath string

	// Permissions fields.
	MaxPermission PermissionLevel

	// Codeowners fields.
	RequiredPaths []string

	// Expression is the CEL predicate for RequirementCEL; it must evaluate
	// to a bool over the "repo" input built by repoInput. A false result
	// is reported as a GapMissing gap.
	Expression string
}

// PolicyClassification groups a RepoMatcher with the expectations it layers
// on top of an org's defaults.
type PolicyClassification struct {
	Name         string
	Match        RepoMatcher
	Expectations []string // expectation IDs, resolved against the manifest's expectation table
}

// Exemption excuses a repo from one expectation, for a bounded time.
type Exemption struct {
	ExpectationID string
	RepoName      string
	Reason        string
	ApprovedBy    string
	ExpiresAt     time.Time
}

// OrgPolicyManifest is the org-level governance configuration.
type OrgPolicyManifest struct {
	OrgID         string
	SchemaVersion string
	UpdatedAt     time.Time
	ApprovedBy    string

	Expectations    []PolicyExpectation
	Defaults        []string // expectation IDs
	Classifications []PolicyClassification
	Exemptions      []Exemption
	MergeQueue      *MergeQueuePolicy
}

// MergeQueuePolicy is the organization-wide merge-queue trust-chain policy
// MD-102/MD-102-federated compares observed branch protection and
// per-repo merge-queue enablement against (spec §4.2).
type MergeQueuePolicy struct {
	RequiredForDefaultBranch bool
	AllowBypassForAdmins     bool
	RequireLinearHistory     bool
	AllowDirectPushes        bool
	RequiredStatusChecks     []string

	// CustomRules are CEL predicates evaluated against the repo's observed
	// state in addition to the fixed trust-chain fields above; each false
	// result produces its own Finding in mergeQueueViolations.
	CustomRules []string
}

func (m *OrgPolicyManifest) expectationByID(id string) (PolicyExpectation, bool) {
	for _, e := range m.Expectations {
		if e.ID == id {
			return e, true
		}
	}
	return PolicyExpectation{}, false
}

// RepoMeta is the observed metadata used to match a repo against classifications.
type RepoMeta struct {
	Topics     []string
	Visibility string
	Archived   bool
}

// RepoGovernanceState is the observed state DetectGaps diffs against expectations.
type RepoGovernanceState struct {
	RepoName string

	BranchProtection *ObservedBranchProtection // nil means "not configured"
	StatusCheckContexts []string
	Workflows        []string // file paths present in .github/workflows
	WorkflowJobNames []string // job names found across every workflow file, flattened
	ObservedPermission PermissionLevel
	Codeowners       ObservedCodeowners

	// MergeQueueEnabled and Tags support MD-102-federated; Tags carries
	// organization-assigned labels such as "critical".
	MergeQueueEnabled bool
	Tags              []string
}

// ObservedBranchProtection mirrors the branch-protection fields spec §4.3
// compares on. The fields are plain values, so an unset field reads as
// false (or 0); a nil *ObservedBranchProtection on RepoGovernanceState is
// what marks branch protection as not configured.
type ObservedBranchProtection struct {
	RequireReviews       bool
	AllowBypassForAdmins bool
	AllowDirectPushes    bool
	RequiredApprovals    int
	RequireSignedCommits bool
	RequireLinearHistory bool
	EnforceAdmins        bool
}

// ObservedCodeowners is the repo's current CODEOWNERS coverage.
type ObservedCodeowners struct {
	Exists        bool
	CoveredPaths  []string
}

// GapSeverity tags how serious a Gap is.
type GapSeverity string

const (
	GapMissing GapSeverity = "missing"
	GapPartial GapSeverity = "partial"
	GapExceeds GapSeverity = "exceeds"
)

// Gap is one detected divergence between expectation and observed state.
type Gap struct {
	ExpectationID    string
	RepoName         string
	Requirement      RequirementKind
	Severity         GapSeverity
	WeakenedFields   []string
	MissingContexts  []string
	MissingPaths     []string
}
