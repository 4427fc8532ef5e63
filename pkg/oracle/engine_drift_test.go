package oracle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/blockcounter"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/fpstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
)

func newDriftEngine(t *testing.T, reg *oracle.Registry, os_ objectstore.ObjectStore) *oracle.Engine {
	t.Helper()
	fp := fpstore.NewLocalFPStore(t.TempDir(), 90*24*time.Hour)
	bc := blockcounter.NewLocalCounter()
	ss, err := secretstore.NewLocalSecretStore(t.TempDir() + "/secrets.json")
	require.NoError(t, err)
	_, err = ss.RotateNonce(context.Background(), "a1b2c3d4e5f60718293a4b5c6d7e8f9a1b2c3d4e5f60718293a4b5c6d7e8f9a")
	require.NoError(t, err)
	return oracle.NewEngine(reg, fp, bc, ss, os_, config.DefaultThresholds(), config.DefaultCircuitBreaker(), nil, nil)
}

func TestEvaluate_DriftNewFindingOnMustHoldRuleBlocks(t *testing.T) {
	reg := oracle.NewRegistry()
	require.NoError(t, reg.Register(stubRule{
		desc: oracle.RuleDescriptor{ID: "MD-X", Severity: oracle.SeverityCritical},
		findings: []oracle.Finding{
			{RuleID: "MD-X", Title: "new regression", Severity: oracle.SeverityCritical},
		},
	}))
	store := objectstore.NewLocalObjectStore(t.TempDir())
	engine := newDriftEngine(t, reg, store)

	report, err := engine.Evaluate(context.Background(), oracle.RuleContext{
		Mode: oracle.ModeDrift,
		Repo: oracle.RepoRef{Name: "widgets"},
	}, oracle.EvaluateOptions{})

	require.NoError(t, err)
	require.Equal(t, oracle.OutcomeBlock, report.Outcome, "a new finding on a must-hold rule is a regression")
}

func TestEvaluate_DriftKnownFindingDoesNotEscalate(t *testing.T) {
	reg := oracle.NewRegistry()
	require.NoError(t, reg.Register(stubRule{
		desc: oracle.RuleDescriptor{ID: "MD-X", Severity: oracle.SeverityLow},
		findings: []oracle.Finding{
			{RuleID: "MD-X", Title: "long-standing low finding", Severity: oracle.SeverityLow},
		},
	}))
	store := objectstore.NewLocalObjectStore(t.TempDir())
	engine := newDriftEngine(t, reg, store)
	ctx := context.Background()
	rc := oracle.RuleContext{Mode: oracle.ModeCalibration, Repo: oracle.RepoRef{Name: "widgets"}}

	_, err := engine.Evaluate(ctx, rc, oracle.EvaluateOptions{PromoteBaseline: true})
	require.NoError(t, err)

	rc.Mode = oracle.ModeDrift
	report, err := engine.Evaluate(ctx, rc, oracle.EvaluateOptions{})
	require.NoError(t, err)
	require.Equal(t, oracle.OutcomeAllow, report.Outcome, "a finding already present in the baseline is not a drift regression")
}

func TestEvaluate_DriftNewLowSeverityFindingWarnsNotBlocks(t *testing.T) {
	reg := oracle.NewRegistry()
	require.NoError(t, reg.Register(stubRule{
		desc: oracle.RuleDescriptor{ID: "MD-X", Severity: oracle.SeverityLow},
		findings: []oracle.Finding{
			{RuleID: "MD-X", Title: "brand new low finding", Severity: oracle.SeverityLow},
		},
	}))
	store := objectstore.NewLocalObjectStore(t.TempDir())
	engine := newDriftEngine(t, reg, store)

	report, err := engine.Evaluate(context.Background(), oracle.RuleContext{
		Mode: oracle.ModeDrift,
		Repo: oracle.RepoRef{Name: "widgets"},
	}, oracle.EvaluateOptions{})

	require.NoError(t, err)
	require.Equal(t, oracle.OutcomeWarn, report.Outcome, "a new finding on a non-must-hold rule only warns")
}
