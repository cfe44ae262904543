package resolve

import (
	"fmt"
	"testing"

	"github.com/agentwarden/agentwarden/internal/conflict"
	"github.com/agentwarden/agentwarden/internal/pattern"
	"github.com/agentwarden/agentwarden/internal/types"
)

func bypassConflict(denyPattern, allowPattern string) conflict.Conflict {
	return conflict.Conflict{
		Kind:    conflict.KindAllowOverridesDeny,
		Message: fmt.Sprintf("allow rule %q can match inputs denied by %q", allowPattern, denyPattern),
		Rules: []conflict.ConflictingRule{
			{Category: types.CategoryDeny, Pattern: denyPattern},
			{Category: types.CategoryAllow, Pattern: allowPattern},
		},
		Impact: types.SeverityCritical,
	}
}

func bypassRules(engine *pattern.Engine, denyPattern, allowPattern string) []pattern.Rule {
	return []pattern.Rule{
		engine.NewRule(denyPattern, types.CategoryDeny, 0),
		engine.NewRule(allowPattern, types.CategoryAllow, 0),
	}
}

func TestResolveStrictNeverRemovesDeny(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelStrict, pattern.NewAnalyzer(engine))

	// The deny glob scores lower on specificity than the allow literal, so
	// naive victim selection would drop the deny rule.
	c := bypassConflict("*.exe", "app.exe")
	s := r.Resolve(c, bypassRules(engine, "*.exe", "app.exe"))
	if s == nil {
		t.Fatal("Resolve() returned nil")
	}
	if s.AutoFix == nil {
		t.Fatal("expected an automatic fix")
	}
	if s.AutoFix.Change.Category == types.CategoryDeny {
		t.Errorf("strict resolution targeted the deny tier: %+v", s.AutoFix.Change)
	}
	if !s.Critical {
		t.Error("suggestion for a critical conflict should be marked critical")
	}
}

func TestResolveModerateNarrowsAllow(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelModerate, pattern.NewAnalyzer(engine))

	c := bypassConflict("secrets/*", "*")
	s := r.Resolve(c, bypassRules(engine, "secrets/*", "*"))
	if s == nil {
		t.Fatal("Resolve() returned nil")
	}
	if s.Strategy != types.StrategyMakeAllowMoreRestrictive {
		t.Fatalf("strategy = %v, want make_allow_more_restrictive", s.Strategy)
	}
	fix := s.AutoFix
	if fix == nil || fix.Change.Action != ActionModify {
		t.Fatalf("expected a modify fix, got %+v", fix)
	}
	if fix.Change.Category != types.CategoryAllow {
		t.Errorf("fix category = %v, want allow", fix.Change.Category)
	}

	// The replacement must be verified against the deny rule.
	cand := engine.NewRule(fix.Change.NewPattern, types.CategoryAllow, 0)
	deny := engine.NewRule("secrets/*", types.CategoryDeny, 0)
	if ov := pattern.NewAnalyzer(engine).Overlap(cand, deny); ov.Kind != pattern.OverlapNone {
		t.Errorf("suggested pattern %q still overlaps the deny rule (%v)", fix.Change.NewPattern, ov.Kind)
	}
}

func TestResolveFallsBackWhenNoTemplateVerifies(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelModerate, pattern.NewAnalyzer(engine))

	// Every restriction template for "app.exe" still ends in .exe, so the
	// narrowing strategy cannot verify and resolution falls back to removal.
	c := bypassConflict("*.exe", "app.exe")
	s := r.Resolve(c, bypassRules(engine, "*.exe", "app.exe"))
	if s == nil {
		t.Fatal("Resolve() returned nil")
	}
	if s.Strategy != types.StrategyRemoveConflictingRule {
		t.Fatalf("strategy = %v, want fallback to remove_conflicting_rule", s.Strategy)
	}
	if s.AutoFix == nil || s.AutoFix.Change.Category != types.CategoryAllow {
		t.Errorf("fallback should remove the allow rule, got %+v", s.AutoFix)
	}
}

func TestResolveSecurityViolationAnchorsDeny(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelModerate, pattern.NewAnalyzer(engine))

	c := conflict.Conflict{
		Kind:    conflict.KindSecurityViolation,
		Message: `deny pattern "*.exe" is unanchored`,
		Rules:   []conflict.ConflictingRule{{Category: types.CategoryDeny, Pattern: "*.exe"}},
		Impact:  types.SeverityHigh,
	}
	rules := []pattern.Rule{engine.NewRule("*.exe", types.CategoryDeny, 0)}

	s := r.Resolve(c, rules)
	if s == nil {
		t.Fatal("Resolve() returned nil")
	}
	if s.Strategy != types.StrategyMakeDenyMoreSpecific {
		t.Fatalf("strategy = %v, want make_deny_more_specific", s.Strategy)
	}
	fix := s.AutoFix
	if fix == nil || fix.Change.Action != ActionAdd {
		t.Fatalf("expected an add fix, got %+v", fix)
	}
	if fix.Change.Category != types.CategoryDeny {
		t.Errorf("anchored variant must be added to the deny tier, got %v", fix.Change.Category)
	}
	if fix.Change.Position == nil || *fix.Change.Position != 0 {
		t.Error("anchored variant should be inserted ahead of the original")
	}
}

func TestResolveManualReviewAlwaysSucceeds(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelModerate, pattern.NewAnalyzer(engine))

	c := conflict.Conflict{
		Kind:    conflict.KindPrecedence,
		Message: "similar rules span multiple permission tiers",
		Rules: []conflict.ConflictingRule{
			{Category: types.CategoryDeny, Pattern: "*.sh"},
			{Category: types.CategoryAsk, Pattern: "*.py"},
			{Category: types.CategoryAllow, Pattern: "*.md"},
		},
		Impact: types.SeverityMedium,
	}

	s := r.Resolve(c, nil)
	if s == nil {
		t.Fatal("manual review must always produce a suggestion")
	}
	if s.Strategy != types.StrategyManualReviewRequired {
		t.Errorf("strategy = %v, want manual_review_required", s.Strategy)
	}
	if s.AutoFix != nil {
		t.Error("manual review never carries an automatic fix")
	}
}

func TestOptimizeDedupesAndSorts(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelModerate, pattern.NewAnalyzer(engine))

	fix := Suggestion{
		Kind:    SuggestionFix,
		Message: "remove the rule",
		AutoFix: &AutoFix{Change: Change{Action: ActionRemove, Category: types.CategoryAllow, OriginalPattern: "app.exe"}},
	}
	warn := Suggestion{Kind: SuggestionWarning, Message: "manual review: something"}

	out := r.Optimize([]Suggestion{warn, fix, fix})
	if len(out) != 2 {
		t.Fatalf("expected duplicate fix collapsed, got %d suggestions", len(out))
	}
	if out[0].Kind != SuggestionFix {
		t.Errorf("fixes should sort before warnings, got %v first", out[0].Kind)
	}
}

func TestOptimizePermissiveCapsButKeepsCritical(t *testing.T) {
	engine := pattern.NewEngine()
	r := NewResolver(LevelPermissive, pattern.NewAnalyzer(engine))

	var in []Suggestion
	for i := 0; i < 14; i++ {
		in = append(in, Suggestion{
			Kind:    SuggestionWarning,
			Message: fmt.Sprintf("warning %d", i),
		})
	}
	critical := Suggestion{Kind: SuggestionFix, Message: "critical fix", Critical: true}
	in = append(in, critical)

	out := r.Optimize(in)
	if len(out) != maxPermissiveSuggestions {
		t.Fatalf("expected cap of %d, got %d", maxPermissiveSuggestions, len(out))
	}
	found := false
	for _, s := range out {
		if s.Critical {
			found = true
		}
	}
	if !found {
		t.Error("critical suggestion must survive the permissive cap")
	}
}
