package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleManifest() OrgPolicyManifest {
	return OrgPolicyManifest{
		OrgID:         "acme",
		SchemaVersion: "1",
		UpdatedAt:     time.Now(),
		ApprovedBy:    "security-team",
		Expectations: []PolicyExpectation{
			{ID: "bp-main", Requirement: RequirementBranchProtection, RequireReviews: true, RequiredApprovals: 2},
			{ID: "sc-oracle", Requirement: RequirementStatusChecks, RequiredContexts: []string{"oracle/gate"}},
			{ID: "wf-oracle", Requirement: RequirementWorkflowPresence, WorkflowPath: ".github/workflows/oracle.yml"},
			{ID: "perm-read", Requirement: RequirementPermissions, MaxPermission: PermissionRead},
		},
		Defaults: []string{"bp-main", "sc-oracle", "wf-oracle", "perm-read"},
	}
}

func TestValidate_RequiresCoreFields(t *testing.T) {
	res := Validate(OrgPolicyManifest{}, time.Now())
	require.Contains(t, res.Errors, "orgId is required")
	require.Contains(t, res.Errors, "approvedBy is required")
	require.Contains(t, res.Errors, "schemaVersion must be non-empty")
}

func TestValidate_ExemptionMustReferenceExistingExpectation(t *testing.T) {
	m := sampleManifest()
	m.Exemptions = []Exemption{{ExpectationID: "no-such-id", RepoName: "docs-site", Reason: "r", ApprovedBy: "a", ExpiresAt: time.Now().Add(time.Hour)}}

	res := Validate(m, time.Now())
	require.NotEmpty(t, res.Errors)
}

func TestValidate_ExpiredExemptionIsWarningNotError(t *testing.T) {
	m := sampleManifest()
	m.Exemptions = []Exemption{{ExpectationID: "bp-main", RepoName: "docs-site", Reason: "r", ApprovedBy: "a", ExpiresAt: time.Now().Add(-time.Hour)}}

	res := Validate(m, time.Now())
	require.Empty(t, res.Errors)
	require.NotEmpty(t, res.Warnings)
}

func TestMatchesRepo_GlobSupportsStarAndQuestionMark(t *testing.T) {
	matcher := RepoMatcher{Patterns: []string{"api-*", "svc-?"}}
	require.True(t, matchGlob("api-*", "api-gateway"))
	require.True(t, MatchesRepo(matcher, "api-gateway", RepoMeta{}))
	require.True(t, MatchesRepo(matcher, "svc-1", RepoMeta{}))
	require.False(t, MatchesRepo(matcher, "svc-12", RepoMeta{}))
	require.False(t, MatchesRepo(matcher, "frontend", RepoMeta{}))
}

func TestMatchesRepo_TopicsAndVisibility(t *testing.T) {
	matcher := RepoMatcher{Topics: []string{"payments"}}
	require.True(t, MatchesRepo(matcher, "anything", RepoMeta{Topics: []string{"payments", "critical"}}))

	visMatcher := RepoMatcher{Visibility: "public"}
	require.True(t, MatchesRepo(visMatcher, "anything", RepoMeta{Visibility: "public"}))
	require.False(t, MatchesRepo(visMatcher, "anything", RepoMeta{Visibility: "private"}))
}

// TestResolveForRepo_ExemptionHonoredThenExpires is spec §8 scenario 2.
func TestResolveForRepo_ExemptionHonoredThenExpires(t *testing.T) {
	m := sampleManifest()
	future := time.Now().Add(90 * 24 * time.Hour)
	m.Exemptions = []Exemption{
		{ExpectationID: "bp-main", RepoName: "docs-site", Reason: "low risk", ApprovedBy: "security-team", ExpiresAt: future},
		{ExpectationID: "sc-oracle", RepoName: "docs-site", Reason: "low risk", ApprovedBy: "security-team", ExpiresAt: future},
		{ExpectationID: "wf-oracle", RepoName: "docs-site", Reason: "low risk", ApprovedBy: "security-team", ExpiresAt: future},
	}

	resolved := ResolveForRepo(m, "docs-site", RepoMeta{}, time.Now())
	ids := expectationIDs(resolved.Expectations)
	require.NotContains(t, ids, "bp-main")
	require.NotContains(t, ids, "sc-oracle")
	require.NotContains(t, ids, "wf-oracle")
	require.Contains(t, ids, "perm-read")
	require.Len(t, resolved.ActiveExemptions, 3)

	afterExpiry := future.Add(time.Hour)
	resolvedLater := ResolveForRepo(m, "docs-site", RepoMeta{}, afterExpiry)
	idsLater := expectationIDs(resolvedLater.Expectations)
	require.Contains(t, idsLater, "bp-main")
	require.Contains(t, idsLater, "sc-oracle")
	require.Contains(t, idsLater, "wf-oracle")
	require.Empty(t, resolvedLater.ActiveExemptions)
}

func expectationIDs(exps []PolicyExpectation) []string {
	out := make([]string, len(exps))
	for i, e := range exps {
		out[i] = e.ID
	}
	return out
}
