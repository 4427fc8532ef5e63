package oracle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
)

func TestValidateReportSchema_AcceptsWellFormedReport(t *testing.T) {
	report := oracle.DissonanceReport{
		RunID:         "run-1",
		RepoID:        "acme/widgets",
		Mode:          oracle.ModePullRequest,
		Outcome:       oracle.OutcomeAllow,
		SchemaVersion: oracle.ReportSchemaVersion,
		CreatedAt:     time.Now(),
		Findings:      []oracle.Finding{{ID: "f1", RuleID: "MD-100", Severity: oracle.SeverityLow, Title: "t"}},
	}
	require.NoError(t, oracle.ValidateReportSchema(report))
}

func TestValidateReportSchema_RejectsUnknownMode(t *testing.T) {
	report := oracle.DissonanceReport{
		RunID:         "run-1",
		RepoID:        "acme/widgets",
		Mode:          "not_a_real_mode",
		Outcome:       oracle.OutcomeAllow,
		SchemaVersion: oracle.ReportSchemaVersion,
		CreatedAt:     time.Now(),
	}
	require.Error(t, oracle.ValidateReportSchema(report))
}
