package validation

import (
	"github.com/agentwarden/agentwarden/internal/conflict"
	"github.com/agentwarden/agentwarden/internal/resolve"
	"github.com/agentwarden/agentwarden/internal/types"
)

// IssueKind classifies an error or warning in a validation result.
type IssueKind string

const (
	// IssueInvalidSyntax covers unparseable configurations and internal
	// faults converted at the orchestrator boundary.
	IssueInvalidSyntax IssueKind = "invalid_syntax"
	// IssueInvalidPattern covers empty patterns and malformed regex
	// downgraded to literals.
	IssueInvalidPattern IssueKind = "invalid_pattern"
	// IssueSecurityViolation covers zero-bypass breaches and weak patterns.
	IssueSecurityViolation IssueKind = "security_violation"
	// IssueRuleConflict wraps detected conflicts other than bypasses.
	IssueRuleConflict IssueKind = "rule_conflict"
)

// Issue is a single error or warning.
type Issue struct {
	Kind     IssueKind      `json:"kind"`
	Message  string         `json:"message"`
	Pattern  string         `json:"pattern,omitempty"`
	Category types.Category `json:"category,omitempty"`
	Severity types.Severity `json:"severity,omitempty"`
}

// Performance reports how the validation run measured against its target.
type Performance struct {
	ElapsedMs      float64 `json:"elapsed_ms"`
	RulesProcessed int     `json:"rules_processed"`
	TargetMs       int     `json:"target_ms"`
	Achieved       bool    `json:"achieved"`
}

// Result is the terminal artifact of a validation call. It is always
// well-formed, even when the run failed internally.
type Result struct {
	IsValid       bool                 `json:"is_valid"`
	Errors        []Issue              `json:"errors"`
	Warnings      []Issue              `json:"warnings"`
	Conflicts     []conflict.Conflict  `json:"conflicts"`
	Suggestions   []resolve.Suggestion `json:"suggestions"`
	SecurityScore int                  `json:"security_score"`
	Performance   Performance          `json:"performance"`
	ConfigHash    string               `json:"config_hash,omitempty"`
}

// clone returns a copy whose slices do not alias the receiver's, so a result
// handed out of the cache stays intact when the caller mutates theirs.
func (r Result) clone() Result {
	out := r
	out.Errors = append([]Issue(nil), r.Errors...)
	out.Warnings = append([]Issue(nil), r.Warnings...)
	if r.Conflicts != nil {
		out.Conflicts = make([]conflict.Conflict, len(r.Conflicts))
		for i, c := range r.Conflicts {
			c.Rules = append([]conflict.ConflictingRule(nil), c.Rules...)
			out.Conflicts[i] = c
		}
	}
	if r.Suggestions != nil {
		out.Suggestions = make([]resolve.Suggestion, len(r.Suggestions))
		for i, s := range r.Suggestions {
			if s.AutoFix != nil {
				fix := *s.AutoFix
				s.AutoFix = &fix
			}
			out.Suggestions[i] = s
		}
	}
	return out
}

// BatchResult aggregates the results of validating several configurations.
type BatchResult struct {
	ID           string   `json:"id"`
	Results      []Result `json:"results"`
	TotalTimeMs  float64  `json:"total_time_ms"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
}

// Statistics summarizes a configuration without running validation.
type Statistics struct {
	TotalRules      int            `json:"total_rules"`
	ByCategory      map[string]int `json:"by_category"`
	AvgComplexity   int            `json:"avg_complexity"`
	CoveragePercent int            `json:"coverage_percent"`
}
