package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
)

// BaselineEntry is one finding recorded in a repo's stored baseline.
type BaselineEntry struct {
	RuleID      string
	FindingHash string
	Severity    Severity
	Title       string
}

// Baseline is the drift-mode comparison point for one repo, persisted under
// "baselines/<repoId>.json" (spec §4.3, §6).
type Baseline struct {
	RepoID     string
	Entries    []BaselineEntry
	ComputedAt time.Time
}

// baselineKey is the ObjectStore key for repoID; the cloud adapters store
// it at "baselines/<repoId>.json".
func baselineKey(repoID string) string {
	return repoID
}

func loadBaseline(ctx context.Context, store objectstore.ObjectStore, repoID string) (Baseline, error) {
	data, err := store.GetBaseline(ctx, baselineKey(repoID))
	if errors.Is(err, objectstore.ErrNotFound) {
		return Baseline{RepoID: repoID}, nil
	}
	if err != nil {
		return Baseline{}, fmt.Errorf("oracle: load baseline: %w", err)
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return Baseline{}, fmt.Errorf("oracle: decode baseline: %w", err)
	}
	return b, nil
}

func storeBaseline(ctx context.Context, store objectstore.ObjectStore, b Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("oracle: encode baseline: %w", err)
	}
	if err := store.PutBaseline(ctx, baselineKey(b.RepoID), data); err != nil {
		return fmt.Errorf("oracle: put baseline: %w", err)
	}
	return nil
}

func (b Baseline) has(ruleID, findingHash string) bool {
	for _, e := range b.Entries {
		if e.RuleID == ruleID && e.FindingHash == findingHash {
			return true
		}
	}
	return false
}

// mustHoldRule names the rules whose drift regressions escalate to BLOCK
// rather than WARN: the top two rungs of the severity ladder (spec §4.1
// step 5's "regressions on must-hold rules").
func mustHoldRule(desc RuleDescriptor) bool {
	return desc.Severity == SeverityBlock || desc.Severity == SeverityCritical
}

func newBaselineFromFindings(repoID string, findings []Finding, clock func() time.Time) Baseline {
	entries := make([]BaselineEntry, 0, len(findings))
	for _, f := range findings {
		entries = append(entries, BaselineEntry{RuleID: f.RuleID, FindingHash: f.ID, Severity: f.Severity, Title: f.Title})
	}
	return Baseline{RepoID: repoID, Entries: entries, ComputedAt: clock()}
}
