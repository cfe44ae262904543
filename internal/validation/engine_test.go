package validation

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/conflict"
	"github.com/agentwarden/agentwarden/internal/resolve"
	"github.com/agentwarden/agentwarden/internal/types"
)

func testSettings() *config.Settings {
	return &config.Settings{
		CacheEntries:  32,
		CacheTTL:      time.Hour,
		CacheMemoryMB: 8,
		TargetMs:      5000,
		SecurityLevel: string(resolve.LevelModerate),
	}
}

func permConfig(deny, ask, allow []string) *config.PermissionConfig {
	return &config.PermissionConfig{
		Permissions: config.PermissionSet{Deny: deny, Ask: ask, Allow: allow},
	}
}

func countKind(conflicts []conflict.Conflict, kind conflict.Kind) int {
	n := 0
	for _, c := range conflicts {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func hasIssueKind(issues []Issue, kind IssueKind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}

func TestValidateIdenticalDenyAndAllow(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"exec"}, nil, []string{"exec"}), Options{})

	if result.IsValid {
		t.Fatal("identical deny and allow patterns must invalidate the configuration")
	}
	if n := countKind(result.Conflicts, conflict.KindAllowOverridesDeny); n != 1 {
		t.Errorf("bypass conflicts = %d, want exactly 1", n)
	}
	for _, c := range result.Conflicts {
		if c.Kind == conflict.KindAllowOverridesDeny && c.Impact != types.SeverityCritical {
			t.Errorf("bypass impact = %v, want critical", c.Impact)
		}
	}
	if !hasIssueKind(result.Errors, IssueSecurityViolation) {
		t.Error("expected a security-violation error")
	}
}

func TestValidateSubsetBypass(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"*.exe"}, nil, []string{"app.exe"}), Options{})

	if result.IsValid {
		t.Fatal("an allow rule inside a deny glob must invalidate the configuration")
	}
	found := false
	for _, c := range result.Conflicts {
		if c.Kind == conflict.KindAllowOverridesDeny {
			found = true
			if c.Overlap != "subset" {
				t.Errorf("overlap = %v, want subset", c.Overlap)
			}
			if c.Impact != types.SeverityCritical {
				t.Errorf("impact = %v, want critical", c.Impact)
			}
		}
	}
	if !found {
		t.Error("missing bypass conflict")
	}
	if len(result.Suggestions) == 0 {
		t.Error("a bypass violation should produce resolution suggestions")
	}
}

func TestValidateDisjointIsClean(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"dangerous/*"}, nil, []string{"safe/*"}), Options{})

	if !result.IsValid {
		t.Fatalf("disjoint configuration should be valid, errors: %v", result.Errors)
	}
	if len(result.Conflicts) != 0 {
		t.Errorf("expected no conflicts, got %v", result.Conflicts)
	}
	if result.SecurityScore != 100 {
		t.Errorf("security score = %d, want 100 for a clean configuration", result.SecurityScore)
	}
}

func TestValidateDuplicateDenyRules(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"test/*", "test/*"}, nil, nil), Options{})

	if n := countKind(result.Conflicts, conflict.KindOverlappingRules); n != 1 {
		t.Fatalf("overlapping conflicts = %d, want exactly 1", n)
	}
	for _, c := range result.Conflicts {
		if c.Kind == conflict.KindOverlappingRules && c.Overlap != "exact" {
			t.Errorf("overlap = %v, want exact for duplicates", c.Overlap)
		}
	}
}

func TestValidateLargeDisjointConfig(t *testing.T) {
	// Globs, not literals: every pair goes through the probe corpus, which is
	// where pairwise cost lives on large rule sets.
	var deny, ask, allow []string
	for i := 0; i < 400; i++ {
		deny = append(deny, fmt.Sprintf("blocked/ns%03d/*", i))
		allow = append(allow, fmt.Sprintf("granted/ns%03d/*", i))
	}
	for i := 0; i < 200; i++ {
		ask = append(ask, fmt.Sprintf("review/ns%03d/*", i))
	}

	engine := NewEngine(testSettings())
	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- engine.Validate(context.Background(), permConfig(deny, ask, allow), Options{Parallel: true})
	}()

	select {
	case result := <-done:
		if result.Performance.RulesProcessed != 1000 {
			t.Errorf("rules processed = %d, want 1000", result.Performance.RulesProcessed)
		}
		if !result.IsValid {
			t.Errorf("disjoint namespaces should validate, errors: %v", result.Errors)
		}
		if elapsed := time.Since(start); elapsed > 20*time.Second {
			t.Errorf("1000 glob rules took %v: pairwise overlap is not being memoized", elapsed)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("validation of 1000 rules did not complete in time")
	}
}

func TestValidateBareStarIsTooBroad(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"*"}, nil, nil), Options{})

	if result.IsValid {
		t.Fatal("a bare deny star must invalidate the configuration")
	}
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e.Message, "too-broad") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a too-broad error, got %v", result.Errors)
	}
	if result.SecurityScore >= 100 {
		t.Errorf("security score = %d, should be discounted", result.SecurityScore)
	}
}

func TestValidateEmptyPatternWarns(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig(nil, nil, []string{""}), Options{})

	if !hasIssueKind(result.Warnings, IssueInvalidPattern) {
		t.Errorf("empty pattern should warn, got warnings %v", result.Warnings)
	}
	if !result.IsValid {
		t.Errorf("an empty pattern alone should not invalidate, errors: %v", result.Errors)
	}
}

func TestValidateNilAndEmptyConfigs(t *testing.T) {
	engine := NewEngine(testSettings())

	for _, cfg := range []*config.PermissionConfig{nil, {}} {
		result := engine.Validate(context.Background(), cfg, Options{})
		if !result.IsValid {
			t.Errorf("empty configuration should be trivially valid, errors: %v", result.Errors)
		}
		if result.Performance.RulesProcessed != 0 {
			t.Errorf("rules processed = %d, want 0", result.Performance.RulesProcessed)
		}
	}
}

func TestValidateRiskTokenWarns(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig(nil, nil, []string{"tools/exec-helper"}), Options{})

	if !hasIssueKind(result.Warnings, IssueSecurityViolation) {
		t.Errorf("allow rule containing an execution token should warn, got %v", result.Warnings)
	}
}

func TestValidateResultCached(t *testing.T) {
	engine := NewEngine(testSettings())
	cfg := permConfig([]string{"dangerous/*"}, nil, []string{"safe/*"})

	first := engine.Validate(context.Background(), cfg, Options{})
	second := engine.Validate(context.Background(), cfg, Options{})

	if first.ConfigHash != second.ConfigHash {
		t.Errorf("config hash unstable: %s vs %s", first.ConfigHash, second.ConfigHash)
	}
	stats := engine.CacheStats()
	if stats.Hits != 1 {
		t.Errorf("cache hits = %d, want 1 for the repeat call", stats.Hits)
	}

	// SkipCache must bypass both lookup and store.
	engine.FlushCache()
	engine.Validate(context.Background(), cfg, Options{SkipCache: true})
	if s := engine.CacheStats(); s.Entries != 0 {
		t.Errorf("SkipCache stored a result: %d entries", s.Entries)
	}
}

func TestValidateCacheIgnoresMetadata(t *testing.T) {
	engine := NewEngine(testSettings())
	a := permConfig([]string{"dangerous/*"}, nil, nil)
	b := permConfig([]string{"dangerous/*"}, nil, nil)
	b.Metadata = map[string]any{"author": "ops"}

	ra := engine.Validate(context.Background(), a, Options{})
	rb := engine.Validate(context.Background(), b, Options{})
	if ra.ConfigHash != rb.ConfigHash {
		t.Error("metadata must not change the configuration hash")
	}
}

func TestValidateSkipConflictDetection(t *testing.T) {
	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig([]string{"*.exe"}, nil, []string{"app.exe"}), Options{
		SkipConflictDetection: true,
		SkipCache:             true,
	})

	if len(result.Conflicts) != 0 {
		t.Errorf("conflict detection was skipped but conflicts reported: %v", result.Conflicts)
	}
	// Weak-pattern analysis still runs: the unanchored deny glob is an error.
	if result.IsValid {
		t.Error("security analysis must run even when detection is skipped")
	}
}

func TestValidateStrictTimeout(t *testing.T) {
	var deny, allow []string
	for i := 0; i < 60; i++ {
		deny = append(deny, fmt.Sprintf("blocked-%02d/*", i))
		allow = append(allow, fmt.Sprintf("granted-%02d/*", i))
	}

	engine := NewEngine(testSettings())
	result := engine.Validate(context.Background(), permConfig(deny, nil, allow), Options{
		StrictMode: true,
		TimeoutMs:  1,
		SkipCache:  true,
	})

	// With a 1ms deadline over thousands of overlap probes the run cannot
	// finish; strict mode must turn that into a hard error.
	if result.IsValid {
		t.Error("strict mode should fail a timed-out validation")
	}
}

func TestValidateDeadlineStillFlagsBypass(t *testing.T) {
	// A deny bypass buried in a large rule set must survive a run that is cut
	// short: deny/allow conflicts are found before the deadline is honored.
	deny := []string{"*.exe"}
	allow := []string{"app.exe"}
	for i := 0; i < 120; i++ {
		allow = append(allow, fmt.Sprintf("granted-%03d/*", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewEngine(testSettings())
	result := engine.Validate(ctx, permConfig(deny, nil, allow), Options{SkipCache: true})

	if result.IsValid {
		t.Fatal("an interrupted run must not report a bypassing configuration as valid")
	}
	if !hasIssueKind(result.Errors, IssueSecurityViolation) {
		t.Errorf("expected a security-violation error, got %v", result.Errors)
	}
	if n := countKind(result.Conflicts, conflict.KindAllowOverridesDeny); n != 1 {
		t.Errorf("bypass conflicts = %d, want 1 kept in the interrupted result", n)
	}
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w.Message, "timed out") {
			found = true
		}
	}
	if !found {
		t.Errorf("interrupted run should warn about the timeout, got %v", result.Warnings)
	}
}

func TestValidateCachedResultIsNotAliased(t *testing.T) {
	engine := NewEngine(testSettings())
	cfg := permConfig([]string{"*.exe"}, nil, []string{"app.exe"})

	engine.Validate(context.Background(), cfg, Options{})
	fromCache := engine.Validate(context.Background(), cfg, Options{})
	if len(fromCache.Conflicts) == 0 || len(fromCache.Errors) == 0 {
		t.Fatal("precondition failed: cached result should carry conflicts and errors")
	}

	// Scribbling over a served result must not reach the cached entry.
	fromCache.Errors[0].Message = "clobbered"
	fromCache.Conflicts[0].Message = "clobbered"
	fromCache.Conflicts[0].Rules[0].Pattern = "clobbered"

	pristine := engine.Validate(context.Background(), cfg, Options{})
	if pristine.Errors[0].Message == "clobbered" {
		t.Error("cached error message was mutated through a served result")
	}
	if pristine.Conflicts[0].Message == "clobbered" {
		t.Error("cached conflict message was mutated through a served result")
	}
	if pristine.Conflicts[0].Rules[0].Pattern == "clobbered" {
		t.Error("cached conflict participant was mutated through a served result")
	}
}

func TestValidateIdempotent(t *testing.T) {
	engine := NewEngine(testSettings())
	cfg := permConfig([]string{"*.exe", "secrets/*"}, []string{"*.sh"}, []string{"docs/*.md"})

	first := engine.Validate(context.Background(), cfg, Options{SkipCache: true})
	second := engine.Validate(context.Background(), cfg, Options{SkipCache: true})

	if first.IsValid != second.IsValid {
		t.Error("validity changed across identical runs")
	}
	if first.ConfigHash != second.ConfigHash {
		t.Error("configuration hash changed across identical runs")
	}
	if !reflect.DeepEqual(first.Conflicts, second.Conflicts) {
		t.Error("conflicts changed across identical runs")
	}
}

func TestGetRuleStatistics(t *testing.T) {
	stats := GetRuleStatistics(permConfig([]string{"*.exe"}, []string{"*.sh"}, []string{"docs/*.md", "README.md"}))

	if stats.TotalRules != 4 {
		t.Errorf("total = %d, want 4", stats.TotalRules)
	}
	want := map[string]int{"deny": 1, "ask": 1, "allow": 2}
	if !reflect.DeepEqual(stats.ByCategory, want) {
		t.Errorf("by category = %v, want %v", stats.ByCategory, want)
	}
	if stats.CoveragePercent <= 0 || stats.CoveragePercent > 100 {
		t.Errorf("coverage = %d%%, want within (0,100]", stats.CoveragePercent)
	}

	if empty := GetRuleStatistics(nil); empty.TotalRules != 0 {
		t.Errorf("nil config stats = %+v", empty)
	}
}

func TestValidateBatch(t *testing.T) {
	engine := NewEngine(testSettings())
	configs := []*config.PermissionConfig{
		permConfig([]string{"dangerous/*"}, nil, []string{"safe/*"}), // valid
		permConfig([]string{"exec"}, nil, []string{"exec"}),          // invalid
		permConfig(nil, nil, nil),                                    // trivially valid
	}

	batch := engine.ValidateBatch(context.Background(), "test-batch", configs, Options{SkipCache: true})

	if len(batch.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(batch.Results))
	}
	if batch.SuccessCount != 2 || batch.FailureCount != 1 {
		t.Errorf("success/failure = %d/%d, want 2/1", batch.SuccessCount, batch.FailureCount)
	}
	if batch.Results[1].IsValid {
		t.Error("results must stay aligned with their input configurations")
	}
}
