package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEvaluator runs operator-authored CEL predicates over a repo's
// governance input, for expectations that don't fit the DetectGaps tagged
// variants (e.g. org-specific compliance rules layered on top of the
// standard requirement kinds). Compiled programs are cached by expression.
type CELEvaluator struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEvaluator builds an evaluator over a "repo" dynamic map input.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("repo", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create CEL environment: %w", err)
	}
	return &CELEvaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Evaluate runs expr against repo input, returning its boolean result.
// Non-boolean results are a compile-time-detectable authoring mistake and
// are reported as an error rather than silently coerced.
func (e *CELEvaluator) Evaluate(expr string, repo map[string]any) (bool, error) {
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{"repo": repo})
	if err != nil {
		return false, fmt.Errorf("policy: evaluate %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: predicate %q did not evaluate to bool", expr)
	}
	return val, nil
}

var (
	defaultEvaluatorOnce sync.Once
	defaultEvaluator     *CELEvaluator
	defaultEvaluatorErr  error
)

// defaultCELEvaluator lazily builds the package-wide evaluator used by
// DetectGaps' CEL branch and by the merge-queue custom-rule escape hatch.
// A single cached *cel.Env is reused across every expectation and repo.
func defaultCELEvaluator() (*CELEvaluator, error) {
	defaultEvaluatorOnce.Do(func() {
		defaultEvaluator, defaultEvaluatorErr = NewCELEvaluator()
	})
	return defaultEvaluator, defaultEvaluatorErr
}

// EvaluateCEL runs expr against input using the package's default
// evaluator, for callers outside this package (the merge-queue trust-chain
// rule's custom-rule escape hatch) that need the same compiled-program cache
// DetectGaps uses rather than standing up their own *cel.Env.
func EvaluateCEL(expr string, input map[string]any) (bool, error) {
	ev, err := defaultCELEvaluator()
	if err != nil {
		return false, err
	}
	return ev.Evaluate(expr, input)
}

// repoInput flattens a RepoGovernanceState into the dynamic "repo" map a
// CEL expectation predicate evaluates against.
func repoInput(state RepoGovernanceState) map[string]any {
	input := map[string]any{
		"name":                 state.RepoName,
		"statusCheckContexts":  toAnySlice(state.StatusCheckContexts),
		"workflows":            toAnySlice(state.Workflows),
		"workflowJobNames":     toAnySlice(state.WorkflowJobNames),
		"observedPermission":   string(state.ObservedPermission),
		"mergeQueueEnabled":    state.MergeQueueEnabled,
		"tags":                 toAnySlice(state.Tags),
		"codeowners": map[string]any{
			"exists":       state.Codeowners.Exists,
			"coveredPaths": toAnySlice(state.Codeowners.CoveredPaths),
		},
	}
	if state.BranchProtection != nil {
		input["branchProtection"] = map[string]any{
			"requireReviews":       state.BranchProtection.RequireReviews,
			"allowBypassForAdmins": state.BranchProtection.AllowBypassForAdmins,
			"allowDirectPushes":    state.BranchProtection.AllowDirectPushes,
			"requiredApprovals":    state.BranchProtection.RequiredApprovals,
			"requireSignedCommits": state.BranchProtection.RequireSignedCommits,
			"requireLinearHistory": state.BranchProtection.RequireLinearHistory,
			"enforceAdmins":        state.BranchProtection.EnforceAdmins,
		}
	}
	return input
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

func (e *CELEvaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[expr]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("policy: program %q: %w", expr, err)
	}
	e.programs[expr] = prg
	return prg, nil
}
