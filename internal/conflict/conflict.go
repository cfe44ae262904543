// Package conflict detects contradictions, overlaps, and zero-bypass
// violations in a normalized permission rule set.
package conflict

import (
	"sort"
	"strings"

	"github.com/agentwarden/agentwarden/internal/pattern"
	"github.com/agentwarden/agentwarden/internal/types"
)

// Kind identifies the class of a detected conflict.
type Kind string

const (
	// KindAllowOverridesDeny is a zero-bypass violation: a weaker-tier rule
	// can match an input a deny rule also matches.
	KindAllowOverridesDeny Kind = "allow_overrides_deny"
	KindOverlappingRules   Kind = "overlapping_patterns"
	KindContradictoryRules Kind = "contradictory_rules"
	KindPrecedence         Kind = "precedence_ambiguity"
	KindSecurityViolation  Kind = "security_violation"
)

// ConflictingRule identifies one rule participating in a conflict.
type ConflictingRule struct {
	Category types.Category `json:"category"`
	Pattern  string         `json:"pattern"`
	Location int            `json:"location"` // index within its tier
}

// Conflict is a single detected problem. Conflicts are pure values: computed,
// sorted by severity, and deduplicated per detection pass.
type Conflict struct {
	Kind       Kind                `json:"kind"`
	Message    string              `json:"message"`
	Rules      []ConflictingRule   `json:"rules"`
	Resolution types.Strategy      `json:"resolution"`
	Impact     types.Severity      `json:"impact"`
	Overlap    pattern.OverlapKind `json:"overlap,omitempty"`
	Confidence int                 `json:"confidence,omitempty"`
}

// dedupeKey identifies a conflict by kind plus its sorted participant
// patterns, so the same pair reported by two passes of the same kind
// collapses to one entry.
func (c Conflict) dedupeKey() string {
	ids := make([]string, len(c.Rules))
	for i, r := range c.Rules {
		ids[i] = string(r.Category) + ":" + r.Pattern
	}
	sort.Strings(ids)
	key := string(c.Kind) + "|" + strings.Join(ids, "|")
	// A rule may carry several distinct weaknesses; keep them apart.
	if c.Kind == KindSecurityViolation {
		key += "|" + c.Message
	}
	return key
}

func participant(r pattern.Rule) ConflictingRule {
	return ConflictingRule{Category: r.Category, Pattern: r.Normalized, Location: r.Index}
}

// dedupe removes duplicate conflicts, keeping first occurrence.
func dedupe(conflicts []Conflict) []Conflict {
	seen := make(map[string]bool, len(conflicts))
	out := conflicts[:0]
	for _, c := range conflicts {
		k := c.dedupeKey()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// sortBySeverity orders conflicts critical-first, then by message for a
// stable report.
func sortBySeverity(conflicts []Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		if ri, rj := conflicts[i].Impact.Rank(), conflicts[j].Impact.Rank(); ri != rj {
			return ri < rj
		}
		return conflicts[i].Message < conflicts[j].Message
	})
}
