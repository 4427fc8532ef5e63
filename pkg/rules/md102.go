package rules

import (
	"context"
	"fmt"
	"sort"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/policy"
)

// MD102 is the "Merge Queue Trust Chain Break" rule. In per-repo mode it
// compares the in-context observed branch protection against the
// in-context merge-queue policy; when an OrgContext is present it also runs
// the federated variant over every repo, flagging critical-tagged repos
// with no merge queue enabled. Both variants emit findings tagged
// RuleID "MD-102" — one rule family sharing an id, not two independently
// registered rules.
type MD102 struct{}

func (MD102) Descriptor() oracle.RuleDescriptor {
	return oracle.RuleDescriptor{
		ID:       "MD-102",
		Tier:     oracle.TierA,
		Severity: oracle.SeverityHigh,
		Category: "merge-queue-trust",
	}
}

func (MD102) Evaluate(_ context.Context, rc oracle.RuleContext) ([]oracle.Finding, error) {
	var findings []oracle.Finding

	if rc.MergeQueuePolicy != nil && rc.BranchProtection != nil {
		jobNames := flattenJobNames(rc.WorkflowJobs)
		findings = append(findings, mergeQueueViolations(rc.Repo.FullName(), rc.BranchProtection, rc.MergeQueuePolicy, jobNames)...)
	}

	if rc.OrgContext != nil {
		findings = append(findings, federatedFindings(rc.OrgContext)...)
	}

	return findings, nil
}

// mergeQueueViolations diffs observed branch protection against the
// merge-queue policy, property by property, plus orphaned required status
// checks (contexts no workflow job provides).
func mergeQueueViolations(repoID string, observed *oracle.BranchProtection, want *oracle.MergeQueuePolicy, jobNames map[string]bool) []oracle.Finding {
	var findings []oracle.Finding

	if want.AllowBypassForAdmins != observed.AllowBypassForAdmins {
		findings = append(findings, violation(repoID, "allow-bypass-for-admins",
			fmt.Sprintf("%s: allow-bypass-for-admins is %t, policy requires %t", repoID, observed.AllowBypassForAdmins, want.AllowBypassForAdmins)))
	}
	if want.RequireLinearHistory && !observed.RequireLinearHistory {
		findings = append(findings, violation(repoID, "require-linear-history",
			fmt.Sprintf("%s: linear history is not required", repoID)))
	}
	if want.AllowDirectPushes != observed.AllowDirectPushes {
		findings = append(findings, violation(repoID, "allow-direct-pushes",
			fmt.Sprintf("%s: allow-direct-pushes is %t, policy requires %t", repoID, observed.AllowDirectPushes, want.AllowDirectPushes)))
	}

	have := make(map[string]bool, len(observed.RequiredStatusChecks))
	for _, c := range observed.RequiredStatusChecks {
		have[c] = true
	}
	missing := make([]string, 0)
	for _, c := range want.RequiredStatusChecks {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	sort.Strings(missing)
	for _, c := range missing {
		findings = append(findings, violation(repoID, "required-status-checks",
			fmt.Sprintf("%s: required status check %q is not configured", repoID, c)))
	}

	orphaned := make([]string, 0)
	for _, c := range observed.RequiredStatusChecks {
		if !jobNames[c] {
			orphaned = append(orphaned, c)
		}
	}
	sort.Strings(orphaned)
	for _, c := range orphaned {
		f := violation(repoID, "orphaned-required-status-check",
			fmt.Sprintf("%s: required status check %q is provided by no workflow job", repoID, c))
		f.Severity = oracle.SeverityMedium
		findings = append(findings, f)
	}

	findings = append(findings, customRuleViolations(repoID, observed, want.CustomRules)...)

	return findings
}

// customRuleViolations evaluates each org-specific CEL predicate against
// observed branch protection, reporting one finding per rule that fails to
// evaluate true — including compile/eval errors, which are themselves a
// misconfigured-policy finding rather than a silent skip.
func customRuleViolations(repoID string, observed *oracle.BranchProtection, rules []string) []oracle.Finding {
	if len(rules) == 0 {
		return nil
	}
	input := map[string]any{
		"branchProtection": map[string]any{
			"requireReviews":       observed.RequireReviews,
			"allowBypassForAdmins": observed.AllowBypassForAdmins,
			"allowDirectPushes":    observed.AllowDirectPushes,
			"requiredApprovals":    observed.RequiredApprovals,
			"requireSignedCommits": observed.RequireSignedCommits,
			"requireLinearHistory": observed.RequireLinearHistory,
			"enforceAdmins":        observed.EnforceAdmins,
		},
	}

	var findings []oracle.Finding
	for _, rule := range rules {
		ok, err := policy.EvaluateCEL(rule, input)
		switch {
		case err != nil:
			findings = append(findings, violation(repoID, "custom-rule",
				fmt.Sprintf("%s: custom rule %q failed to evaluate: %v", repoID, rule, err)))
		case !ok:
			findings = append(findings, violation(repoID, "custom-rule",
				fmt.Sprintf("%s: custom rule %q is not satisfied", repoID, rule)))
		}
	}
	return findings
}

func violation(repoID, check, title string) oracle.Finding {
	return oracle.Finding{
		RuleID:      "MD-102",
		RuleName:    "Merge Queue Trust Chain Break",
		Severity:    oracle.SeverityHigh,
		Title:       title,
		Description: "observed branch protection does not satisfy the merge-queue trust-chain policy",
		Evidence:    []oracle.Evidence{{Path: repoID, Context: map[string]any{"check": check}}},
	}
}

// federatedFindings runs the MD-102-federated variant over every
// non-archived repo in orgCtx: per-repo trust-chain violations against the
// manifest's org-wide merge-queue policy, plus the federated-only check
// that critical-tagged repos have a merge queue enabled at all.
func federatedFindings(orgCtx *oracle.OrgContext) []oracle.Finding {
	manifest, ok := orgCtx.Manifest.(policy.OrgPolicyManifest)
	if !ok || manifest.MergeQueue == nil {
		return nil
	}

	repos := make([]oracle.RepoObservation, len(orgCtx.Repos))
	copy(repos, orgCtx.Repos)
	sort.Slice(repos, func(i, j int) bool { return repos[i].Repo.Name < repos[j].Repo.Name })

	want := manifest.MergeQueue
	var findings []oracle.Finding
	for _, obs := range repos {
		if obs.Archived {
			continue
		}

		state, hasState := obs.State.(*policy.RepoGovernanceState)
		if hasState && state != nil && state.BranchProtection != nil {
			observed := &oracle.BranchProtection{
				AllowBypassForAdmins: state.BranchProtection.AllowBypassForAdmins,
				RequireLinearHistory: state.BranchProtection.RequireLinearHistory,
				AllowDirectPushes:    state.BranchProtection.AllowDirectPushes,
				RequiredStatusChecks: state.StatusCheckContexts,
			}
			wantOracle := &oracle.MergeQueuePolicy{
				AllowBypassForAdmins: want.AllowBypassForAdmins,
				RequireLinearHistory: want.RequireLinearHistory,
				AllowDirectPushes:    want.AllowDirectPushes,
				RequiredStatusChecks: want.RequiredStatusChecks,
				CustomRules:          want.CustomRules,
			}
			jobNames := make(map[string]bool, len(state.WorkflowJobNames))
			for _, n := range state.WorkflowJobNames {
				jobNames[n] = true
			}
			findings = append(findings, mergeQueueViolations(obs.Repo.FullName(), observed, wantOracle, jobNames)...)
		}

		if want.RequiredForDefaultBranch && obs.HasTag("critical") {
			enabled := obs.MergeQueue != nil || (hasState && state != nil && state.MergeQueueEnabled)
			if !enabled {
				findings = append(findings, oracle.Finding{
					RuleID:      "MD-102",
					RuleName:    "Merge Queue Trust Chain Break",
					Severity:    oracle.SeverityCritical,
					Title:       fmt.Sprintf("%s: critical repository has no merge queue enabled", obs.Repo.FullName()),
					Description: "the organization's merge-queue policy requires a merge queue on the default branch of every critical repository",
					Evidence:    []oracle.Evidence{{Path: obs.Repo.FullName(), Context: map[string]any{"check": "federated-critical-no-queue"}}},
				})
			}
		}
	}
	return findings
}

func flattenJobNames(workflows []oracle.Workflow) map[string]bool {
	names := make(map[string]bool)
	for _, wf := range workflows {
		for _, job := range wf.Jobs {
			names[job.Name] = true
		}
	}
	return names
}
