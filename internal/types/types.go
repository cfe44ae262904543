// Package types defines common type-safe enums used across the codebase.
package types

import "strings"

// Category represents the permission tier a rule belongs to.
type Category string

const (
	// CategoryDeny rules block matching inputs unconditionally.
	CategoryDeny Category = "deny"
	// CategoryAsk rules require interactive confirmation.
	CategoryAsk Category = "ask"
	// CategoryAllow rules permit matching inputs.
	CategoryAllow Category = "allow"
)

// Valid returns true if the Category is a known valid value.
func (c Category) Valid() bool {
	return c == CategoryDeny || c == CategoryAsk || c == CategoryAllow
}

// Precedence returns the tier ordering: deny before ask before allow.
// Lower values take precedence.
func (c Category) Precedence() int {
	switch c {
	case CategoryDeny:
		return 0
	case CategoryAsk:
		return 1
	case CategoryAllow:
		return 2
	}
	return 3
}

// Severity represents the security impact of a conflict or weakness.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns the sort order for a severity. Critical sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// Valid returns true if the Severity is a known valid value.
func (s Severity) Valid() bool {
	return s.Rank() < 4
}

// Strategy identifies how a detected conflict can be resolved.
type Strategy string

const (
	StrategyRemoveConflictingRule    Strategy = "remove_conflicting_rule"
	StrategyMakeAllowMoreRestrictive Strategy = "make_allow_more_restrictive"
	StrategyMakeDenyMoreSpecific     Strategy = "make_deny_more_specific"
	StrategyManualReviewRequired     Strategy = "manual_review_required"
)

// LogLevel represents the configured logging verbosity.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is a known valid value.
func (l LogLevel) Valid() bool {
	switch LogLevel(strings.ToLower(string(l))) {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, "":
		return true
	}
	return false
}
