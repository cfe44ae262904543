// Package resolve maps detected conflicts to prioritized, security-level
// aware resolution suggestions, optionally with verified automatic fixes.
package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentwarden/agentwarden/internal/conflict"
	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/pattern"
	"github.com/agentwarden/agentwarden/internal/types"
)

var log = logger.New("resolve")

// SecurityLevel modulates strategy preference and fix aggressiveness.
type SecurityLevel string

const (
	LevelStrict     SecurityLevel = "strict"
	LevelModerate   SecurityLevel = "moderate"
	LevelPermissive SecurityLevel = "permissive"
)

// SuggestionKind orders suggestions in the final report.
type SuggestionKind string

const (
	SuggestionFix          SuggestionKind = "fix"
	SuggestionWarning      SuggestionKind = "warning"
	SuggestionOptimization SuggestionKind = "optimization"
)

func (k SuggestionKind) rank() int {
	switch k {
	case SuggestionFix:
		return 0
	case SuggestionWarning:
		return 1
	default:
		return 2
	}
}

// AutoFix is a concrete, verified change that resolves a conflict.
type AutoFix struct {
	Description string `json:"description"`
	Change      Change `json:"change"`
}

// Suggestion is one resolution proposal for a conflict.
type Suggestion struct {
	Kind     SuggestionKind `json:"kind"`
	Message  string         `json:"message"`
	Strategy types.Strategy `json:"strategy"`
	AutoFix  *AutoFix       `json:"auto_fix,omitempty"`
	Critical bool           `json:"critical,omitempty"`
}

// Resolver turns conflicts into suggestions.
type Resolver struct {
	level    SecurityLevel
	analyzer *pattern.Analyzer
}

// NewResolver creates a resolver at the given security level.
func NewResolver(level SecurityLevel, analyzer *pattern.Analyzer) *Resolver {
	if level == "" {
		level = LevelModerate
	}
	return &Resolver{level: level, analyzer: analyzer}
}

// strategyOrder returns the preferred-then-fallback strategy list for a
// conflict kind at the resolver's security level.
func (r *Resolver) strategyOrder(kind conflict.Kind) []types.Strategy {
	switch kind {
	case conflict.KindAllowOverridesDeny:
		if r.level == LevelStrict {
			return []types.Strategy{
				types.StrategyRemoveConflictingRule,
				types.StrategyMakeAllowMoreRestrictive,
				types.StrategyManualReviewRequired,
			}
		}
		return []types.Strategy{
			types.StrategyMakeAllowMoreRestrictive,
			types.StrategyRemoveConflictingRule,
			types.StrategyManualReviewRequired,
		}
	case conflict.KindOverlappingRules:
		return []types.Strategy{
			types.StrategyRemoveConflictingRule,
			types.StrategyManualReviewRequired,
		}
	case conflict.KindContradictoryRules:
		return []types.Strategy{
			types.StrategyRemoveConflictingRule,
			types.StrategyMakeAllowMoreRestrictive,
			types.StrategyManualReviewRequired,
		}
	case conflict.KindSecurityViolation:
		return []types.Strategy{
			types.StrategyMakeDenyMoreSpecific,
			types.StrategyManualReviewRequired,
		}
	default:
		return []types.Strategy{types.StrategyManualReviewRequired}
	}
}

// Resolve produces a suggestion for a conflict, trying the preferred
// strategy and falling back in order. Returns nil only if every strategy
// declines, which cannot happen in practice because manual review always
// succeeds and terminates every list.
func (r *Resolver) Resolve(c conflict.Conflict, rules []pattern.Rule) *Suggestion {
	for _, strategy := range r.strategyOrder(c.Kind) {
		var s *Suggestion
		switch strategy {
		case types.StrategyRemoveConflictingRule:
			s = r.removeConflictingRule(c, rules)
		case types.StrategyMakeAllowMoreRestrictive:
			s = r.makeAllowMoreRestrictive(c, rules)
		case types.StrategyMakeDenyMoreSpecific:
			s = r.makeDenyMoreSpecific(c, rules)
		case types.StrategyManualReviewRequired:
			s = r.manualReview(c)
		}
		if s != nil {
			s.Strategy = strategy
			s.Critical = c.Impact == types.SeverityCritical
			return s
		}
	}
	return nil
}

// removeConflictingRule drops one side of the conflict: never a deny rule in
// strict mode, otherwise the less specific pattern.
func (r *Resolver) removeConflictingRule(c conflict.Conflict, _ []pattern.Rule) *Suggestion {
	if len(c.Rules) < 2 {
		return nil
	}
	a, b := c.Rules[0], c.Rules[1]

	victim := a
	if pattern.SpecificityScore(a.Pattern) > pattern.SpecificityScore(b.Pattern) {
		victim = b
	}
	if victim.Category == types.CategoryDeny {
		if r.level == LevelStrict {
			// Strict mode never drops a deny rule; try the other side.
			if other := otherSide(victim, a, b); other.Category != types.CategoryDeny {
				victim = other
			} else {
				return nil
			}
		} else if other := otherSide(victim, a, b); other.Category != types.CategoryDeny {
			// Outside strict mode prefer dropping the weaker-tier rule too,
			// unless both sides are deny (duplicate deny rules).
			victim = other
		}
	}

	return &Suggestion{
		Kind:    SuggestionFix,
		Message: fmt.Sprintf("remove %s rule %q to resolve the conflict", victim.Category, victim.Pattern),
		AutoFix: &AutoFix{
			Description: fmt.Sprintf("remove %q from the %s list", victim.Pattern, victim.Category),
			Change: Change{
				Action:          ActionRemove,
				Category:        victim.Category,
				OriginalPattern: victim.Pattern,
				Reason:          c.Message,
			},
		},
	}
}

func otherSide(victim, a, b conflict.ConflictingRule) conflict.ConflictingRule {
	if victim == a {
		return b
	}
	return a
}

// restrictionTemplates are the transformations tried, in order, to narrow a
// weaker-tier pattern away from a deny rule.
func restrictionTemplates(p string) []string {
	var out []string
	switch {
	case p == "*" || p == "**":
		// wildcard -> extension-filtered
		out = append(out, "*.md", "docs/*.md")
	case strings.HasSuffix(p, "/*") || strings.HasSuffix(p, "/**"):
		// trailing wildcard -> extension-filtered
		base := strings.TrimRight(p, "*")
		out = append(out, base+"*.md", base+"*.txt")
	case !strings.ContainsAny(p, "*?[") && !strings.Contains(p, "/"):
		// bare token -> path-prefixed
		out = append(out, "approved/"+p)
	}
	// Generic restriction fallback.
	out = append(out, "approved/"+strings.TrimPrefix(p, "/"))
	return out
}

// makeAllowMoreRestrictive narrows the weaker-tier pattern, then re-verifies
// that the candidate no longer overlaps the opposing deny rule. Unverified
// candidates are never surfaced.
func (r *Resolver) makeAllowMoreRestrictive(c conflict.Conflict, rules []pattern.Rule) *Suggestion {
	deny, weaker, ok := splitBypassPair(c)
	if !ok {
		return nil
	}
	denyRule, ok1 := findRule(rules, deny)
	weakRule, ok2 := findRule(rules, weaker)
	if !ok1 || !ok2 {
		return nil
	}

	engine := r.analyzer.Engine()
	for _, candidate := range restrictionTemplates(weakRule.Normalized) {
		candRule := engine.NewRule(candidate, weakRule.Category, weakRule.Index)
		if ov := r.analyzer.Overlap(candRule, denyRule); ov.Kind != pattern.OverlapNone {
			log.Debug("candidate %q still overlaps deny %q (%s), trying next template",
				candidate, denyRule.Normalized, ov.Kind)
			continue
		}
		return &Suggestion{
			Kind: SuggestionFix,
			Message: fmt.Sprintf("narrow %s rule %q to %q so it no longer reaches denied inputs",
				weakRule.Category, weakRule.Normalized, candidate),
			AutoFix: &AutoFix{
				Description: fmt.Sprintf("replace %q with %q in the %s list",
					weakRule.Normalized, candidate, weakRule.Category),
				Change: Change{
					Action:          ActionModify,
					Category:        weakRule.Category,
					OriginalPattern: weakRule.Normalized,
					NewPattern:      candidate,
					Reason:          c.Message,
				},
			},
		}
	}
	return nil
}

// makeDenyMoreSpecific anchors an unanchored deny pattern. In strict mode
// the candidate is rejected when its security score drops below the
// original's: a "more specific" deny must never be easier to bypass.
func (r *Resolver) makeDenyMoreSpecific(c conflict.Conflict, rules []pattern.Rule) *Suggestion {
	var denyRef *conflict.ConflictingRule
	for i := range c.Rules {
		if c.Rules[i].Category == types.CategoryDeny {
			denyRef = &c.Rules[i]
			break
		}
	}
	if denyRef == nil {
		return nil
	}
	denyRule, ok := findRule(rules, *denyRef)
	if !ok {
		return nil
	}

	p := denyRule.Normalized
	candidate := p
	if !strings.HasPrefix(candidate, "/") && !strings.Contains(candidate, "/") {
		candidate = "**/" + candidate
	}
	if candidate == p {
		return nil
	}
	if r.level == LevelStrict && pattern.SecurityScore(candidate) < pattern.SecurityScore(p) {
		log.Debug("rejecting deny rewrite %q -> %q: security score regression", p, candidate)
		return nil
	}

	// The deny itself is immutable; suggest adding the anchored variant in
	// front of it so coverage never shrinks.
	pos := 0
	return &Suggestion{
		Kind: SuggestionWarning,
		Message: fmt.Sprintf("deny rule %q is loosely anchored; add %q ahead of it",
			p, candidate),
		AutoFix: &AutoFix{
			Description: fmt.Sprintf("add %q to the deny list", candidate),
			Change: Change{
				Action:     ActionAdd,
				Category:   types.CategoryDeny,
				NewPattern: candidate,
				Position:   &pos,
				Reason:     c.Message,
			},
		},
	}
}

// manualReview always succeeds: it attaches guidance derived from the
// conflict's composition.
func (r *Resolver) manualReview(c conflict.Conflict) *Suggestion {
	var hints []string
	for _, cr := range c.Rules {
		if cr.Category == types.CategoryDeny {
			hints = append(hints, "a deny rule is involved: do not weaken it")
			break
		}
	}
	if len(c.Rules) > 2 {
		hints = append(hints, fmt.Sprintf("%d rules participate: consider consolidating them", len(c.Rules)))
	}
	if c.Impact == types.SeverityCritical {
		hints = append(hints, "critical impact: resolve before deploying this configuration")
	}
	if len(hints) == 0 {
		hints = append(hints, "inspect the listed patterns and decide which behavior is intended")
	}
	return &Suggestion{
		Kind:    SuggestionWarning,
		Message: fmt.Sprintf("manual review: %s (%s)", c.Message, strings.Join(hints, "; ")),
	}
}

// splitBypassPair extracts (deny, weaker) from a zero-bypass conflict.
func splitBypassPair(c conflict.Conflict) (deny, weaker conflict.ConflictingRule, ok bool) {
	for _, cr := range c.Rules {
		if cr.Category == types.CategoryDeny {
			deny = cr
		} else {
			weaker = cr
		}
	}
	ok = deny.Pattern != "" && weaker.Pattern != ""
	return deny, weaker, ok
}

func findRule(rules []pattern.Rule, ref conflict.ConflictingRule) (pattern.Rule, bool) {
	for _, r := range rules {
		if r.Category == ref.Category && r.Normalized == ref.Pattern {
			return r, true
		}
	}
	return pattern.Rule{}, false
}

// maxPermissiveSuggestions caps the suggestion list in permissive mode.
const maxPermissiveSuggestions = 10

// Optimize deduplicates suggestions by the (category, pattern) they touch,
// sorts fixes before warnings before optimizations, and in permissive mode
// caps the list while always retaining critical-labeled entries.
func (r *Resolver) Optimize(suggestions []Suggestion) []Suggestion {
	seen := make(map[string]bool, len(suggestions))
	out := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		key := s.Message
		if s.AutoFix != nil {
			ch := s.AutoFix.Change
			p := ch.NewPattern
			if p == "" {
				p = ch.OriginalPattern
			}
			key = string(ch.Category) + ":" + p
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Kind.rank() < out[j].Kind.rank()
	})

	if r.level == LevelPermissive && len(out) > maxPermissiveSuggestions {
		kept := make([]Suggestion, 0, maxPermissiveSuggestions)
		for _, s := range out {
			if s.Critical {
				kept = append(kept, s)
			}
		}
		for _, s := range out {
			if len(kept) >= maxPermissiveSuggestions {
				break
			}
			if !s.Critical {
				kept = append(kept, s)
			}
		}
		out = kept
	}
	return out
}
