package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/calibration"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/canon"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/observability"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/redaction"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/blockcounter"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
)

// ReportSchemaVersion is embedded in every produced report.
const ReportSchemaVersion = "1.0"

// Engine orchestrates the rule registry over a RuleContext and produces a
// DissonanceReport (spec §4.1).
type Engine struct {
	registry *Registry

	fpStore      calibration.Store
	blockCounter blockcounter.BlockCounter
	secretStore  secretstore.SecretStore
	objectStore  objectstore.ObjectStore

	thresholds     config.ThresholdConfig
	circuitBreaker config.CircuitBreakerConfig

	obs    *observability.Provider
	logger *slog.Logger
	clock  func() time.Time
}

// NewEngine builds an Engine. obs may be nil to disable tracing/metrics.
func NewEngine(
	registry *Registry,
	fpStore calibration.Store,
	blockCounter blockcounter.BlockCounter,
	secretStore secretstore.SecretStore,
	objectStore objectstore.ObjectStore,
	thresholds config.ThresholdConfig,
	circuitBreaker config.CircuitBreakerConfig,
	obs *observability.Provider,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:       registry,
		fpStore:        fpStore,
		blockCounter:   blockCounter,
		secretStore:    secretStore,
		objectStore:    objectStore,
		thresholds:     thresholds,
		circuitBreaker: circuitBreaker,
		obs:            obs,
		logger:         logger.With("component", "oracle"),
		clock:          time.Now,
	}
}

// Evaluate runs every applicable rule over rc and returns the resulting
// report, per the eight-step algorithm in spec §4.1.
func (e *Engine) Evaluate(ctx context.Context, rc RuleContext, opts EvaluateOptions) (report DissonanceReport, err error) {
	if e.obs != nil {
		var done func(string, error)
		ctx, done = e.obs.TrackEvaluation(ctx, string(rc.Mode))
		defer func() { done(string(report.Outcome), err) }()
	}

	report, err = e.evaluate(ctx, rc, opts)
	return report, err
}

func (e *Engine) evaluate(ctx context.Context, rc RuleContext, opts EvaluateOptions) (DissonanceReport, error) {
	runID := uuid.NewString()
	modeStrict := rc.Mode == ModeMergeGroup && e.thresholds.StrictMergeGroup

	findings, suppressed := e.runRules(ctx, rc)

	var contributions []contribution
	var baseline Baseline
	isDrift := rc.Mode == ModeDrift
	if isDrift && e.objectStore != nil {
		var err error
		baseline, err = loadBaseline(ctx, e.objectStore, rc.Repo.FullName())
		if err != nil {
			e.logger.WarnContext(ctx, "drift baseline load failed", "error", err)
		}
	}

	for _, f := range findings {
		desc, _ := e.registry.Get(f.RuleID)
		strict := isStrict(desc, modeStrict)
		c := ladderContribution(f.Severity, strict, e.thresholds)

		if isDrift {
			c = e.applyDriftComparison(baseline, f, desc, c)
		}

		c = e.applyCircuitBreaker(ctx, rc.Mode, f.RuleID, c)

		contributions = append(contributions, c)
	}

	outcome := computeOutcome(rc.Mode, contributions)

	if rc.Mode == ModeCalibration && opts.PromoteBaseline && e.objectStore != nil {
		b := newBaselineFromFindings(rc.Repo.FullName(), findings, e.clock)
		if err := storeBaseline(ctx, e.objectStore, b); err != nil {
			e.logger.WarnContext(ctx, "baseline promotion failed", "error", err)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].RuleID != findings[j].RuleID {
			return findings[i].RuleID < findings[j].RuleID
		}
		return findings[i].ID < findings[j].ID
	})

	tag, version, tagErr := e.tagFindings(ctx, findings)
	if tagErr != nil {
		if opts.DryRun {
			e.logger.WarnContext(ctx, "redaction tag unavailable in dry-run, continuing", "error", tagErr)
		} else {
			return e.failClosed(runID, rc, findings, suppressed), nil
		}
	}

	report := DissonanceReport{
		RunID:              runID,
		RepoID:             rc.Repo.FullName(),
		Mode:               rc.Mode,
		Outcome:            outcome,
		ThresholdsSnapshot: e.thresholds,
		Findings:           findings,
		RedactionTag:       tag,
		NonceVersion:       version,
		SchemaVersion:      ReportSchemaVersion,
		CreatedAt:          e.clock(),
		SuppressedCount:    suppressed,
	}

	if err := ValidateReportSchema(report); err != nil {
		e.logger.WarnContext(ctx, "report failed schema validation", "error", err)
	}

	return report, nil
}

// failClosed builds the synthetic BLOCK report the engine returns when the
// secret store cannot deliver a valid nonce outside dry-run mode (spec §4.1,
// §7 "SecretUnavailable").
func (e *Engine) failClosed(runID string, rc RuleContext, findings []Finding, suppressed int) DissonanceReport {
	synthetic := Finding{
		ID:          contentHash("SYSTEM", "redaction-unavailable", nil),
		RuleID:      "SYSTEM",
		RuleName:    "system",
		Severity:    SeverityBlock,
		Title:       "redaction nonce unavailable",
		Description: "the secret store could not deliver a valid nonce; the engine fails closed",
	}
	return DissonanceReport{
		RunID:           runID,
		RepoID:          rc.Repo.FullName(),
		Mode:            rc.Mode,
		Outcome:         OutcomeBlock,
		Findings:        append(findings, synthetic),
		SchemaVersion:   ReportSchemaVersion,
		CreatedAt:       e.clock(),
		SuppressedCount: suppressed,
	}
}

// runRules executes steps 1–3 of spec §4.1: tier gating, independent rule
// execution, and FP-store suppression.
func (e *Engine) runRules(ctx context.Context, rc RuleContext) ([]Finding, int) {
	requested := make(map[string]bool, len(rc.RequestedRuleIDs))
	for _, id := range rc.RequestedRuleIDs {
		requested[id] = true
	}
	explicitlyRequested := len(rc.RequestedRuleIDs) > 0

	var findings []Finding
	suppressed := 0

	for _, rule := range e.registry.All() {
		desc := rule.Descriptor()
		if explicitlyRequested && !requested[desc.ID] {
			continue
		}

		if desc.Tier == TierB && !rc.License.HasFeature(desc.RequiredFeature) {
			if explicitlyRequested {
				findings = append(findings, Finding{
					ID:          contentHash(desc.ID, "license-required", nil),
					RuleID:      desc.ID,
					RuleName:    desc.ID,
					Severity:    SeverityHigh,
					Title:       fmt.Sprintf("%s requires licensed feature %q", desc.ID, desc.RequiredFeature),
					Description: "this rule was explicitly requested but the required license feature is not present",
				})
			}
			continue
		}

		produced, err := rule.Evaluate(ctx, rc)
		if err != nil {
			if e.obs != nil {
				e.obs.RecordRuleError(ctx, desc.ID, err)
			}
			findings = append(findings, Finding{
				ID:          contentHash(desc.ID, "rule-error", nil),
				RuleID:      desc.ID,
				RuleName:    desc.ID,
				Severity:    SeverityWarn,
				Title:       fmt.Sprintf("%s failed to evaluate", desc.ID),
				Description: err.Error(),
			})
			continue
		}

		for _, f := range produced {
			if f.ID == "" {
				f.ID = contentHash(f.RuleID, f.Title, f.Evidence)
			}
			if e.fpStore != nil {
				isFP, err := e.fpStore.IsFalsePositive(f.RuleID, f.ID)
				if err == nil && isFP {
					suppressed++
					continue
				}
			}
			findings = append(findings, f)
		}
	}

	if e.obs != nil && suppressed > 0 {
		e.obs.RecordSuppressed(ctx, "*", int64(suppressed))
	}

	return findings, suppressed
}

// applyDriftComparison escalates a finding's contribution when it is new
// relative to the stored baseline, or BLOCKs it outright when the owning
// rule is must-hold (spec §4.1 step 5, drift mode).
func (e *Engine) applyDriftComparison(baseline Baseline, f Finding, desc RuleDescriptor, base contribution) contribution {
	if baseline.has(f.RuleID, f.ID) {
		return base
	}
	if mustHoldRule(desc) {
		return contributeBlock
	}
	if base == contributeAnnotation {
		return contributeWarn
	}
	return base
}

// applyCircuitBreaker increments the per-rule block counter when c is a
// BLOCK contribution and demotes it to WARN once the rule has tripped its
// configured block rate (spec §4.1 step 6).
func (e *Engine) applyCircuitBreaker(ctx context.Context, mode Mode, ruleID string, c contribution) contribution {
	if c != contributeBlock || e.blockCounter == nil {
		return c
	}
	count, err := e.blockCounter.Increment(ctx, ruleID, e.circuitBreaker.Window)
	if err != nil {
		e.logger.WarnContext(ctx, "block counter increment failed", "rule", ruleID, "error", err)
		return c
	}
	if count > int64(e.circuitBreaker.MaxBlocksPerWindow) {
		if e.obs != nil {
			e.obs.RecordCircuitOpen(ctx, ruleID)
		}
		return contributeWarn
	}
	return c
}

// tagFindings computes the report-level redaction tag over every finding's
// evidence paths and title (spec §4.1 step 7).
func (e *Engine) tagFindings(ctx context.Context, findings []Finding) (string, int, error) {
	if e.secretStore == nil {
		return "", 0, nil
	}
	type redactedFinding struct {
		RuleID string   `json:"ruleId"`
		Title  string   `json:"title"`
		Paths  []string `json:"paths"`
	}
	payload := make([]redactedFinding, 0, len(findings))
	for _, f := range findings {
		paths := make([]string, 0, len(f.Evidence))
		for _, ev := range f.Evidence {
			paths = append(paths, ev.Path)
		}
		payload = append(payload, redactedFinding{RuleID: f.RuleID, Title: f.Title, Paths: paths})
	}
	return redaction.Tag(ctx, payload, e.secretStore)
}

// contentHash derives a stable finding id from its content so that the same
// observation gets the same id across runs, letting FP suppression and
// drift-baseline comparison recognize a recurring finding (spec §3's "fresh"
// id is computed fresh every run, not persisted, but must be reproducible).
func contentHash(ruleID, title string, evidence []Evidence) string {
	paths := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		paths = append(paths, ev.Path)
	}
	h, err := canon.Hash(struct {
		RuleID string
		Title  string
		Paths  []string
	}{ruleID, title, paths})
	if err != nil {
		return ruleID + ":" + title
	}
	return h[:16]
}
