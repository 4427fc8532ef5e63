// Package rules contains the representative governance rules named in spec
// §4.2 — MD-100, MD-101, MD-102/MD-102-federated — as canonical examples of
// the oracle.Rule framework, not a complete policy set.
package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
)

// workflowFile is the permissive internal shape a CI workflow YAML parses
// into (spec §9: "parse into an internal strict struct and treat parse
// failure as a single recoverable branch").
type workflowFile struct {
	Jobs map[string]workflowJob `yaml:"jobs"`
}

type workflowJob struct {
	Steps []workflowStep `yaml:"steps"`
}

type workflowStep struct {
	Uses string `yaml:"uses"`
	Run  string `yaml:"run"`
}

// jobIntent is a job's classified semantic category, plus the deploy
// environment when Category is "deploy".
type jobIntent struct {
	Category string // security | test | build | lint | deploy | "" (unclassified)
	Env      string // "staging" | "production" | "" (only meaningful for deploy)
}

// MD100 is the "Semantic Job Drift" rule: a workflow job's name should match
// what its steps actually do.
type MD100 struct{}

// Descriptor implements oracle.Rule.
func (MD100) Descriptor() oracle.RuleDescriptor {
	return oracle.RuleDescriptor{
		ID:       "MD-100",
		Tier:     oracle.TierA,
		Severity: oracle.SeverityHigh,
		Category: "workflow-integrity",
	}
}

// Evaluate implements oracle.Rule.
func (MD100) Evaluate(_ context.Context, rc oracle.RuleContext) ([]oracle.Finding, error) {
	var findings []oracle.Finding

	paths := make([]string, 0, len(rc.Files))
	for path := range rc.Files {
		if !isWorkflowPath(path) {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		var wf workflowFile
		if err := yaml.Unmarshal([]byte(rc.Files[path]), &wf); err != nil {
			// Malformed YAML yields no findings for this file; other files
			// still get processed (spec §8 boundary behavior).
			continue
		}

		jobNames := make([]string, 0, len(wf.Jobs))
		for name := range wf.Jobs {
			jobNames = append(jobNames, name)
		}
		sort.Strings(jobNames)

		for _, name := range jobNames {
			job := wf.Jobs[name]
			if onlyChecksOut(job) {
				continue
			}

			nameIntent := classifyJobName(name)
			stepIntent := classifyJobSteps(job)
			if nameIntent.Category == "" || stepIntent.Category == "" {
				continue
			}

			if f, ok := compareIntents(path, name, nameIntent, stepIntent); ok {
				findings = append(findings, f)
			}
		}
	}

	return findings, nil
}

func isWorkflowPath(path string) bool {
	return strings.HasPrefix(path, ".github/workflows/") &&
		(strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml"))
}

func onlyChecksOut(job workflowJob) bool {
	if len(job.Steps) == 0 {
		return true
	}
	for _, s := range job.Steps {
		if s.Run != "" {
			return false
		}
		if s.Uses != "" && !strings.Contains(s.Uses, "actions/checkout") {
			return false
		}
	}
	return true
}

var nameTokenCategory = map[string]string{
	"security": "security",
	"scan":     "security",
	"audit":    "security",
	"test":     "test",
	"tests":    "test",
	"lint":     "lint",
	"build":    "build",
	"deploy":   "deploy",
}

func classifyJobName(name string) jobIntent {
	tokens := splitTokens(name)
	intent := jobIntent{}
	for _, tok := range tokens {
		if cat, ok := nameTokenCategory[tok]; ok {
			if intent.Category == "" || cat == "deploy" {
				intent.Category = cat
			}
		}
		if tok == "staging" || tok == "production" || tok == "prod" {
			if tok == "prod" {
				tok = "production"
			}
			intent.Env = tok
		}
	}
	return intent
}

func classifyJobSteps(job workflowJob) jobIntent {
	var commands []string
	for _, s := range job.Steps {
		if s.Run != "" {
			commands = append(commands, strings.ToLower(s.Run))
		}
	}
	joined := strings.Join(commands, " ")

	intent := jobIntent{}
	switch {
	case containsAny(joined, "kubectl", "helm upgrade", "helm install", "terraform apply", "deploy"):
		intent.Category = "deploy"
	case containsAny(joined, "audit", "snyk", "trivy"):
		intent.Category = "security"
	case containsAny(joined, "lint", "eslint", "golangci-lint"):
		intent.Category = "lint"
	case containsAny(joined, "test", "pytest", "jest", "go test"):
		intent.Category = "test"
	case containsAny(joined, "build", "compile"):
		intent.Category = "build"
	}

	if intent.Category == "deploy" {
		switch {
		case strings.Contains(joined, "production") || strings.Contains(joined, "prod/"):
			intent.Env = "production"
		case strings.Contains(joined, "staging"):
			intent.Env = "staging"
		}
	}
	return intent
}

func compareIntents(path, jobName string, nameIntent, stepIntent jobIntent) (oracle.Finding, bool) {
	if nameIntent.Category == stepIntent.Category {
		if nameIntent.Category != "deploy" || nameIntent.Env == "" || stepIntent.Env == "" || nameIntent.Env == stepIntent.Env {
			return oracle.Finding{}, false
		}
	}

	severity := oracle.SeverityMedium
	title := fmt.Sprintf("job %q name suggests %s but its steps run %s", jobName, describe(nameIntent), describe(stepIntent))

	switch {
	case nameIntent.Category == "deploy" && stepIntent.Category == "deploy" &&
		nameIntent.Env == "staging" && stepIntent.Env == "production":
		severity = oracle.SeverityHigh
		title = fmt.Sprintf("job %q is named for staging but its steps deploy to production", jobName)
	case nameIntent.Category == "security" || stepIntent.Category == "security":
		severity = oracle.SeverityWarn
	}

	return oracle.Finding{
		RuleID:      "MD-100",
		RuleName:    "Semantic Job Drift",
		Severity:    severity,
		Title:       title,
		Description: "the job's name implies one intent but its steps perform another, which can hide a misconfigured pipeline stage",
		Evidence:    []oracle.Evidence{{Path: path}},
	}, true
}

func describe(i jobIntent) string {
	if i.Env != "" {
		return i.Category + "-" + i.Env
	}
	return i.Category
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == '-' || r == '_' || r == ' '
	})
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
