package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/policy"
)

// MD101 is the "Cross-Repo Protection Gap" rule: it resolves each
// non-archived repo's expected policy set from the org manifest and emits a
// finding per unresolved gap, honoring active exemptions (spec §4.2).
type MD101 struct {
	// Clock, when set, overrides time.Now for exemption-expiry comparisons
	// in tests; nil uses the wall clock.
	Clock func() time.Time
}

func (MD101) Descriptor() oracle.RuleDescriptor {
	return oracle.RuleDescriptor{
		ID:       "MD-101",
		Tier:     oracle.TierA,
		Severity: oracle.SeverityMedium,
		Category: "cross-repo-policy",
	}
}

func (r MD101) Evaluate(_ context.Context, rc oracle.RuleContext) ([]oracle.Finding, error) {
	if rc.OrgContext == nil {
		return nil, nil
	}
	manifest, ok := rc.OrgContext.Manifest.(policy.OrgPolicyManifest)
	if !ok {
		return nil, nil
	}

	now := time.Now()
	if r.Clock != nil {
		now = r.Clock()
	}

	repos := make([]oracle.RepoObservation, len(rc.OrgContext.Repos))
	copy(repos, rc.OrgContext.Repos)
	sort.Slice(repos, func(i, j int) bool { return repos[i].Repo.Name < repos[j].Repo.Name })

	var findings []oracle.Finding
	for _, obs := range repos {
		if obs.Archived {
			continue
		}
		state, ok := obs.State.(*policy.RepoGovernanceState)
		if !ok || state == nil {
			continue
		}

		meta := policy.RepoMeta{Topics: obs.Topics, Visibility: obs.Visibility, Archived: obs.Archived}
		resolved := policy.ResolveForRepo(manifest, obs.Repo.Name, meta, now)

		expByID := make(map[string]policy.PolicyExpectation, len(resolved.Expectations))
		for _, exp := range resolved.Expectations {
			expByID[exp.ID] = exp
		}

		gaps := policy.DetectGaps(*state, resolved.Expectations)
		sort.Slice(gaps, func(i, j int) bool { return gaps[i].ExpectationID < gaps[j].ExpectationID })

		for _, gap := range gaps {
			exp := expByID[gap.ExpectationID]
			findings = append(findings, gapFinding(obs.Repo.Name, gap, exp))
		}

		for _, ex := range expiredExemptions(manifest, obs.Repo.Name, now) {
			findings = append(findings, oracle.Finding{
				RuleID:      "MD-101",
				RuleName:    "Cross-Repo Protection Gap",
				Severity:    oracle.SeverityMedium,
				Title:       fmt.Sprintf("%s: exemption for %q has expired", obs.Repo.Name, ex.ExpectationID),
				Description: "the exemption's expiresAt has passed; the underlying expectation is active again",
				Evidence:    []oracle.Evidence{{Path: obs.Repo.Name, Context: map[string]any{"expectationId": ex.ExpectationID}}},
			})
		}
	}

	return findings, nil
}

func expiredExemptions(m policy.OrgPolicyManifest, repoName string, now time.Time) []policy.Exemption {
	var out []policy.Exemption
	for _, ex := range m.Exemptions {
		if ex.RepoName != repoName {
			continue
		}
		if !ex.ExpiresAt.After(now) {
			out = append(out, ex)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpectationID < out[j].ExpectationID })
	return out
}

func gapFinding(repoName string, gap policy.Gap, exp policy.PolicyExpectation) oracle.Finding {
	sev := gapSeverity(gap, exp)
	title := fmt.Sprintf("%s: %s expectation %q is %s", repoName, exp.Requirement, gap.ExpectationID, gap.Severity)

	ctx := map[string]any{"expectationId": gap.ExpectationID, "requirement": string(gap.Requirement)}
	if len(gap.WeakenedFields) > 0 {
		ctx["weakenedFields"] = gap.WeakenedFields
	}
	if len(gap.MissingContexts) > 0 {
		ctx["missingContexts"] = gap.MissingContexts
	}
	if len(gap.MissingPaths) > 0 {
		ctx["missingPaths"] = gap.MissingPaths
	}

	return oracle.Finding{
		RuleID:      "MD-101",
		RuleName:    "Cross-Repo Protection Gap",
		Severity:    sev,
		Title:       title,
		Description: "the repository's observed governance state does not satisfy an organization-wide policy expectation",
		Evidence:    []oracle.Evidence{{Path: repoName, Context: ctx}},
	}
}

// gapSeverity maps (gap severity, expectation severity) to a Finding
// severity, per spec §4.2: "missing + critical -> block; partial + high ->
// warn; others -> medium/low". Any other critical or high expectation maps
// to warn, a medium expectation to medium, and everything else to low. The
// function is total: every combination resolves to a severity, never an
// error.
func gapSeverity(gap policy.Gap, exp policy.PolicyExpectation) oracle.Severity {
	switch {
	case gap.Severity == policy.GapMissing && exp.Severity == policy.ExpectationCritical:
		return oracle.SeverityBlock
	case gap.Severity == policy.GapPartial && exp.Severity == policy.ExpectationHigh:
		return oracle.SeverityWarn
	case exp.Severity == policy.ExpectationCritical, exp.Severity == policy.ExpectationHigh:
		return oracle.SeverityWarn
	case exp.Severity == policy.ExpectationMedium:
		return oracle.SeverityMedium
	default:
		return oracle.SeverityLow
	}
}
