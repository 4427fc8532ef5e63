package policy

// DetectGaps diffs a repo's observed state against its resolved
// expectations, dispatching on requirement kind (spec §4.3).
func DetectGaps(state RepoGovernanceState, expectations []PolicyExpectation) []Gap {
	var gaps []Gap
	for _, exp := range expectations {
		if gap, ok := detectOne(state, exp); ok {
			gaps = append(gaps, gap)
		}
	}
	return gaps
}

func detectOne(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	switch exp.Requirement {
	case RequirementBranchProtection:
		return detectBranchProtectionGap(state, exp)
	case RequirementStatusChecks:
		return detectStatusChecksGap(state, exp)
	case RequirementWorkflowPresence:
		return detectWorkflowPresenceGap(state, exp)
	case RequirementPermissions:
		return detectPermissionsGap(state, exp)
	case RequirementCodeowners:
		return detectCodeownersGap(state, exp)
	case RequirementCEL:
		return detectCELGap(state, exp)
	default:
		return Gap{}, false
	}
}

// detectCELGap reports a gap whenever exp.Expression evaluates false, or
// whenever it fails to compile or evaluate — a broken predicate must be
// surfaced as a finding, not silently skipped.
func detectCELGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	ok, err := EvaluateCEL(exp.Expression, repoInput(state))
	if err == nil && ok {
		return Gap{}, false
	}
	gap := Gap{
		ExpectationID: exp.ID,
		RepoName:      state.RepoName,
		Requirement:   exp.Requirement,
		Severity:      GapMissing,
	}
	if err != nil {
		gap.WeakenedFields = []string{exp.Expression}
	}
	return gap, true
}

func detectBranchProtectionGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	base := Gap{ExpectationID: exp.ID, RepoName: state.RepoName, Requirement: exp.Requirement}

	if state.BranchProtection == nil {
		base.Severity = GapMissing
		return base, true
	}

	observed := state.BranchProtection
	var weakened []string
	if exp.RequireReviews && !observed.RequireReviews {
		weakened = append(weakened, "requireReviews")
	}
	if exp.RequiredApprovals > observed.RequiredApprovals {
		weakened = append(weakened, "requiredApprovals")
	}
	if exp.RequireSignedCommits && !observed.RequireSignedCommits {
		weakened = append(weakened, "requireSignedCommits")
	}
	if exp.RequireLinearHistory && !observed.RequireLinearHistory {
		weakened = append(weakened, "requireLinearHistory")
	}
	if exp.EnforceAdmins && !observed.EnforceAdmins {
		weakened = append(weakened, "enforceAdmins")
	}

	if len(weakened) == 0 {
		return Gap{}, false
	}
	base.Severity = GapPartial
	base.WeakenedFields = weakened
	return base, true
}

func detectStatusChecksGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	have := make(map[string]bool, len(state.StatusCheckContexts))
	for _, c := range state.StatusCheckContexts {
		have[c] = true
	}

	var missing []string
	for _, required := range exp.RequiredContexts {
		if !have[required] {
			missing = append(missing, required)
		}
	}
	if len(missing) == 0 {
		return Gap{}, false
	}
	return Gap{
		ExpectationID:   exp.ID,
		RepoName:        state.RepoName,
		Requirement:     exp.Requirement,
		Severity:        GapMissing,
		MissingContexts: missing,
	}, true
}

func detectWorkflowPresenceGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	for _, path := range state.Workflows {
		if path == exp.WorkflowPath {
			return Gap{}, false
		}
	}
	return Gap{
		ExpectationID: exp.ID,
		RepoName:      state.RepoName,
		Requirement:   exp.Requirement,
		Severity:      GapMissing,
		MissingPaths:  []string{exp.WorkflowPath},
	}, true
}

func detectPermissionsGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	if state.ObservedPermission.rank() <= exp.MaxPermission.rank() {
		return Gap{}, false
	}
	return Gap{
		ExpectationID: exp.ID,
		RepoName:      state.RepoName,
		Requirement:   exp.Requirement,
		Severity:      GapExceeds,
	}, true
}

func detectCodeownersGap(state RepoGovernanceState, exp PolicyExpectation) (Gap, bool) {
	if !state.Codeowners.Exists {
		return Gap{
			ExpectationID: exp.ID,
			RepoName:      state.RepoName,
			Requirement:   exp.Requirement,
			Severity:      GapMissing,
		}, true
	}

	var missing []string
	for _, required := range exp.RequiredPaths {
		if !coveredByPrefix(required, state.Codeowners.CoveredPaths) {
			missing = append(missing, required)
		}
	}
	if len(missing) == 0 {
		return Gap{}, false
	}
	return Gap{
		ExpectationID: exp.ID,
		RepoName:      state.RepoName,
		Requirement:   exp.Requirement,
		Severity:      GapPartial,
		MissingPaths:  missing,
	}, true
}

func coveredByPrefix(required string, covered []string) bool {
	for _, c := range covered {
		if len(c) >= len(required) && c[:len(required)] == required {
			return true
		}
	}
	return false
}
