package oracle

import "github.com/MultiplicityFoundation/gov-oracle/pkg/config"

// contribution is a finding's effect on the gate outcome, independent of
// the enumerated report Outcome (ALLOW/WARN/BLOCK) it eventually feeds.
type contribution string

const (
	contributeBlock      contribution = "block"
	contributeWarn       contribution = "warn"
	contributeAnnotation contribution = "allow" // allow-with-annotation: recorded, never gates
)

// ladderContribution maps a Finding's severity to a gate contribution using
// thresholds and the rule's own strict override, if any (spec §4.1 step 4).
func ladderContribution(sev Severity, strict bool, th config.ThresholdConfig) contribution {
	switch sev {
	case SeverityBlock:
		return contributeBlock
	case SeverityCritical:
		if strict && th.CriticalBlocksInStrict {
			return contributeBlock
		}
		return contributeWarn
	case SeverityHigh, SeverityWarn:
		return contributeWarn
	default: // medium, low, allow
		return contributeAnnotation
	}
}

// isStrict resolves the effective strictness for a rule: its own override
// takes precedence over the mode-level flag (spec §9 design note: "rule-level
// strictness is the more specific and dominant setting").
func isStrict(desc RuleDescriptor, modeStrict bool) bool {
	if desc.Strict != nil {
		return *desc.Strict
	}
	return modeStrict
}

// computeOutcome folds every finding's contribution into a single gate
// decision for mode, per spec §4.1 step 5.
func computeOutcome(mode Mode, contributions []contribution) Outcome {
	hasBlock, hasWarn := false, false
	for _, c := range contributions {
		switch c {
		case contributeBlock:
			hasBlock = true
		case contributeWarn:
			hasWarn = true
		}
	}

	switch mode {
	case ModeCalibration:
		return OutcomeAllow
	case ModeMergeGroup:
		// Strict merge-group mode tolerates no non-allow finding: a WARN
		// contribution escalates to BLOCK just as a BLOCK one does.
		if hasBlock || hasWarn {
			return OutcomeBlock
		}
		return OutcomeAllow
	default: // pull_request, schedule, drift
		if hasBlock {
			return OutcomeBlock
		}
		if hasWarn {
			return OutcomeWarn
		}
		return OutcomeAllow
	}
}
