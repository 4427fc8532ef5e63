package policy

import (
	"fmt"
	"time"
)

// ValidationResult is Validate's non-panicking outcome: errors block the
// manifest from loading, warnings do not.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Validate checks required fields and exemption integrity. Expired
// exemptions produce a warning but remain loadable — they are simply
// inactive (spec §4.3).
func Validate(m OrgPolicyManifest, now time.Time) ValidationResult {
	var res ValidationResult

	if m.OrgID == "" {
		res.Errors = append(res.Errors, "orgId is required")
	}
	if m.UpdatedAt.IsZero() {
		res.Errors = append(res.Errors, "updatedAt is required")
	}
	if m.ApprovedBy == "" {
		res.Errors = append(res.Errors, "approvedBy is required")
	}
	if m.SchemaVersion == "" {
		res.Errors = append(res.Errors, "schemaVersion must be non-empty")
	}

	for i, ex := range m.Exemptions {
		if _, ok := m.expectationByID(ex.ExpectationID); !ok {
			res.Errors = append(res.Errors, fmt.Sprintf("exemption[%d] references unknown expectation %q", i, ex.ExpectationID))
		}
		if ex.Reason == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("exemption[%d] reason must be non-empty", i))
		}
		if ex.ApprovedBy == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("exemption[%d] approvedBy must be non-empty", i))
		}
		if ex.ExpiresAt.IsZero() {
			res.Errors = append(res.Errors, fmt.Sprintf("exemption[%d] expiresAt must parse as ISO8601", i))
			continue
		}
		if !ex.ExpiresAt.After(now) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("exemption[%d] for %q has expired", i, ex.ExpectationID))
		}
	}

	return res
}

// ResolvedPolicy is ResolveForRepo's output: the expectation set this repo
// must satisfy, plus which exemptions were active for it.
type ResolvedPolicy struct {
	Expectations     []PolicyExpectation
	ActiveExemptions []Exemption
}

// ResolveForRepo starts from the manifest's defaults, layers on every
// classification whose matcher accepts (repoName, meta), then removes any
// expectation covered by an active (non-expired) exemption for this repo.
func ResolveForRepo(m OrgPolicyManifest, repoName string, meta RepoMeta, now time.Time) ResolvedPolicy {
	ids := make(map[string]bool)
	for _, id := range m.Defaults {
		ids[id] = true
	}
	for _, c := range m.Classifications {
		if MatchesRepo(c.Match, repoName, meta) {
			for _, id := range c.Expectations {
				ids[id] = true
			}
		}
	}

	var active []Exemption
	for _, ex := range m.Exemptions {
		if ex.RepoName != repoName {
			continue
		}
		if ex.ExpiresAt.After(now) {
			active = append(active, ex)
			delete(ids, ex.ExpectationID)
		}
	}

	out := make([]PolicyExpectation, 0, len(ids))
	for id := range ids {
		if exp, ok := m.expectationByID(id); ok {
			out = append(out, exp)
		}
	}

	return ResolvedPolicy{Expectations: out, ActiveExemptions: active}
}

// MatchesRepo reports whether matcher accepts (repoName, meta): an exact
// name, a glob pattern, a shared topic, or a matching visibility.
func MatchesRepo(matcher RepoMatcher, repoName string, meta RepoMeta) bool {
	for _, name := range matcher.Repos {
		if name == repoName {
			return true
		}
	}
	for _, pattern := range matcher.Patterns {
		if globMatch(pattern, repoName) {
			return true
		}
	}
	for _, topic := range matcher.Topics {
		for _, observed := range meta.Topics {
			if topic == observed {
				return true
			}
		}
	}
	if matcher.Visibility != "" && matcher.Visibility == meta.Visibility {
		return true
	}
	return false
}

// globMatch anchors pattern against the full name. Only '*' (zero or more
// of [a-zA-Z0-9._-]) and '?' (exactly one such char) are supported, per
// spec §4.3 — no general regex, no path-separator semantics.
func globMatch(pattern, name string) bool {
	return matchGlob([]rune(pattern), []rune(name))
}

func isPatternChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.' || r == '_' || r == '-':
		return true
	default:
		return false
	}
}

func matchGlob(pattern, name []rune) bool {
	if len(pattern) == 0 {
		return len(name) == 0
	}
	switch pattern[0] {
	case '*':
		if matchGlob(pattern[1:], name) {
			return true
		}
		if len(name) > 0 && isPatternChar(name[0]) {
			return matchGlob(pattern, name[1:])
		}
		return false
	case '?':
		if len(name) == 0 || !isPatternChar(name[0]) {
			return false
		}
		return matchGlob(pattern[1:], name[1:])
	default:
		if len(name) == 0 || pattern[0] != name[0] {
			return false
		}
		return matchGlob(pattern[1:], name[1:])
	}
}
