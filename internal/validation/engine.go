// Package validation orchestrates the validation pipeline: normalize,
// validate individual rules, detect conflicts, enforce zero-bypass, analyze
// security, and generate suggestions, with a content-addressed result cache
// in front of the whole pipeline.
package validation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentwarden/agentwarden/internal/cache"
	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/conflict"
	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/pattern"
	"github.com/agentwarden/agentwarden/internal/resolve"
	"github.com/agentwarden/agentwarden/internal/types"
)

var log = logger.New("validation")

// Phase identifies a stage of the validation pipeline. Phases drive the
// progress state for observability only, never control flow.
type Phase string

const (
	PhaseInitializing          Phase = "initializing"
	PhaseParsing               Phase = "parsing"
	PhaseNormalizing           Phase = "normalizing"
	PhaseValidating            Phase = "validating"
	PhaseDetectingConflicts    Phase = "detecting_conflicts"
	PhaseGeneratingSuggestions Phase = "generating_suggestions"
	PhaseComplete              Phase = "complete"
)

// Progress is a snapshot of pipeline advancement.
type Progress struct {
	Phase       Phase  `json:"phase"`
	Percent     int    `json:"percent"`
	Description string `json:"description"`
}

// Options are per-call validation knobs.
type Options struct {
	StrictMode            bool     `json:"strict_mode,omitempty"`
	SkipConflictDetection bool     `json:"skip_conflict_detection,omitempty"`
	SkipCache             bool     `json:"skip_cache,omitempty"`
	TimeoutMs             int      `json:"timeout_ms,omitempty"`
	Parallel              bool     `json:"parallel,omitempty"`
	WorkerCount           int      `json:"worker_count,omitempty"`
	CustomPatterns        []string `json:"custom_patterns,omitempty"`
}

// Engine is the sole entry point consumed by the CLI and API layers.
// Callers construct and own their engine; there is no process-wide instance.
type Engine struct {
	settings *config.Settings
	cache    *cache.Cache[Result]
	detCache *conflict.ResultCache
	level    resolve.SecurityLevel

	mu       sync.Mutex
	progress Progress
}

// NewEngine creates a validation engine. A nil settings uses defaults.
func NewEngine(settings *config.Settings) *Engine {
	if settings == nil {
		settings = &config.Settings{
			CacheEntries:  256,
			CacheTTL:      time.Hour,
			CacheMemoryMB: 64,
			TargetMs:      100,
			SecurityLevel: string(resolve.LevelModerate),
		}
	}
	return &Engine{
		settings: settings,
		cache:    cache.New[Result](settings.CacheEntries, int64(settings.CacheMemoryMB)<<20, settings.CacheTTL),
		detCache: conflict.NewResultCache(),
		level:    resolve.SecurityLevel(settings.SecurityLevel),
	}
}

// Progress returns the current pipeline progress snapshot.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

func (e *Engine) setPhase(p Phase, percent int, desc string) {
	e.mu.Lock()
	e.progress = Progress{Phase: p, Percent: percent, Description: desc}
	e.mu.Unlock()
	log.Trace("phase %s (%d%%): %s", p, percent, desc)
}

// ExportCache serializes the result cache for persistence.
func (e *Engine) ExportCache() ([]byte, error) { return e.cache.Export() }

// ImportCache restores a previously exported result cache.
func (e *Engine) ImportCache(data []byte) (int, error) { return e.cache.Import(data) }

// CacheStats returns result cache statistics.
func (e *Engine) CacheStats() cache.Stats { return e.cache.GetStats() }

// FlushCache drops every cached result and returns how many were evicted.
func (e *Engine) FlushCache() int { return e.cache.Flush() }

// Validate runs the full pipeline over a configuration. It never returns an
// error and never panics: all failure is encoded in the Result.
func (e *Engine) Validate(ctx context.Context, cfg *config.PermissionConfig, opts Options) (result Result) {
	start := time.Now()
	target := e.settings.TargetMs

	defer func() {
		if r := recover(); r != nil {
			log.Error("validation panicked: %v", r)
			result = e.faultResult(fmt.Sprintf("internal validation fault: %v", r), start, 0)
		}
	}()

	e.setPhase(PhaseInitializing, 0, "starting validation")

	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	e.setPhase(PhaseParsing, 10, "reading configuration")
	if cfg == nil {
		cfg = &config.PermissionConfig{}
	}
	hash := cache.Hash(cfg)

	if !opts.SkipCache {
		if cached, ok := e.cache.Get(hash); ok {
			log.Debug("cache hit for %s", hash[:12])
			// The cache hands back the stored value; clone so callers cannot
			// mutate the cached entry through shared slices.
			cached = cached.clone()
			cached.Performance.ElapsedMs = elapsedMs(start)
			cached.Performance.Achieved = cached.Performance.ElapsedMs < float64(target)
			e.setPhase(PhaseComplete, 100, "served from cache")
			return cached
		}
	}

	e.setPhase(PhaseNormalizing, 25, "normalizing rules")
	patEngine := pattern.NewEngine()
	rules := normalizeRules(patEngine, cfg.Permissions)

	e.setPhase(PhaseValidating, 40, "validating individual rules")
	errors, warnings := validateRules(rules)

	var conflicts []conflict.Conflict
	if !opts.SkipConflictDetection {
		e.setPhase(PhaseDetectingConflicts, 60, "running conflict detection passes")
		analyzer := pattern.NewAnalyzer(patEngine, opts.CustomPatterns...)
		workers := opts.WorkerCount
		if !opts.Parallel && workers == 0 {
			workers = 1
		}
		detector := conflict.NewDetector(analyzer, workers, e.detCache)

		var err error
		conflicts, err = detector.Detect(ctx, rules)
		if err != nil {
			// Detect returns what its completed passes found; pass 1 always
			// finishes, so bypasses survive the deadline and still invalidate.
			return e.timeoutResult(opts, rules, conflicts, start, target)
		}
	}

	// Zero-bypass enforcement. Every non-partial overlap between a deny rule
	// and a weaker-tier rule is a hard error; this cannot be downgraded by
	// options. Partial overlap is surfaced as a high-severity warning.
	level := e.level
	if opts.StrictMode {
		level = resolve.LevelStrict
	}
	bypassErrors, bypassWarnings := bypassIssues(conflicts)
	errors = append(errors, bypassErrors...)
	warnings = append(warnings, bypassWarnings...)

	// Security analysis runs independently of conflict detection so weak
	// patterns surface even when detection is skipped.
	score, secErrors, secWarnings := analyzeSecurity(rules)
	errors = append(errors, secErrors...)
	warnings = append(warnings, secWarnings...)

	e.setPhase(PhaseGeneratingSuggestions, 80, "generating resolution suggestions")
	var suggestions []resolve.Suggestion
	if len(conflicts) > 0 {
		resolver := resolve.NewResolver(level, pattern.NewAnalyzer(patEngine, opts.CustomPatterns...))
		for _, c := range conflicts {
			if s := resolver.Resolve(c, rules); s != nil {
				suggestions = append(suggestions, *s)
			}
		}
		suggestions = resolver.Optimize(suggestions)
	}

	elapsed := elapsedMs(start)
	result = Result{
		IsValid:       len(errors) == 0,
		Errors:        errors,
		Warnings:      warnings,
		Conflicts:     conflicts,
		Suggestions:   suggestions,
		SecurityScore: score,
		Performance: Performance{
			ElapsedMs:      elapsed,
			RulesProcessed: len(rules),
			TargetMs:       target,
			Achieved:       elapsed < float64(target),
		},
		ConfigHash: hash,
	}

	if ctx.Err() != nil {
		return e.timeoutResult(opts, rules, conflicts, start, target)
	}

	e.setPhase(PhaseComplete, 100, "validation complete")

	// Slow runs are never cached: entrenching their timing would hide
	// regressions behind stale results.
	if !opts.SkipCache && elapsed < float64(2*target) {
		e.cache.Set(hash, result, time.Since(start))
	}
	return result
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// faultResult is the terminal result for an internal failure.
func (e *Engine) faultResult(msg string, start time.Time, rules int) Result {
	elapsed := elapsedMs(start)
	return Result{
		IsValid: false,
		Errors: []Issue{{
			Kind:     IssueInvalidSyntax,
			Message:  msg,
			Severity: types.SeverityCritical,
		}},
		Performance: Performance{
			ElapsedMs:      elapsed,
			RulesProcessed: rules,
			TargetMs:       e.settings.TargetMs,
			Achieved:       false,
		},
	}
}

// bypassIssues converts zero-bypass conflicts into issues: a non-partial
// overlap between a deny rule and a weaker-tier rule is a hard error, a
// partial overlap a high-severity warning.
func bypassIssues(conflicts []conflict.Conflict) (errors, warnings []Issue) {
	for _, c := range conflicts {
		if c.Kind != conflict.KindAllowOverridesDeny {
			continue
		}
		issue := Issue{
			Kind:     IssueSecurityViolation,
			Message:  c.Message,
			Severity: c.Impact,
		}
		if len(c.Rules) > 1 {
			issue.Pattern = c.Rules[1].Pattern
			issue.Category = c.Rules[1].Category
		}
		if c.Overlap == pattern.OverlapPartial {
			warnings = append(warnings, issue)
		} else {
			errors = append(errors, issue)
		}
	}
	return errors, warnings
}

// timeoutResult reports a run that exceeded its deadline. Conflicts found
// before the deadline are kept, and any bypass among them still invalidates
// the result: a timeout never launders a deny override. Strict mode turns
// the timeout itself into a hard error as well.
func (e *Engine) timeoutResult(opts Options, rules []pattern.Rule, conflicts []conflict.Conflict, start time.Time, target int) Result {
	log.Warn("validation deadline exceeded after %.1fms", elapsedMs(start))
	errors, warnings := bypassIssues(conflicts)
	warnings = append(warnings, Issue{
		Kind:     IssueInvalidSyntax,
		Message:  "validation timed out before completing",
		Severity: types.SeverityHigh,
	})
	if opts.StrictMode {
		errors = append(errors, Issue{
			Kind:     IssueInvalidSyntax,
			Message:  fmt.Sprintf("validation timed out after %dms", opts.TimeoutMs),
			Severity: types.SeverityCritical,
		})
	}
	return Result{
		IsValid:   len(errors) == 0,
		Errors:    errors,
		Warnings:  warnings,
		Conflicts: conflicts,
		Performance: Performance{
			ElapsedMs:      elapsedMs(start),
			RulesProcessed: len(rules),
			TargetMs:       target,
			Achieved:       false,
		},
	}
}

// normalizeRules builds the normalized rule list: deny, then ask, then
// allow, preserving original intra-tier order.
func normalizeRules(engine *pattern.Engine, perms config.PermissionSet) []pattern.Rule {
	rules := make([]pattern.Rule, 0, perms.Total())
	for _, cat := range []types.Category{types.CategoryDeny, types.CategoryAsk, types.CategoryAllow} {
		for i, raw := range perms.Tier(cat) {
			rules = append(rules, engine.NewRule(raw, cat, i))
		}
	}
	return rules
}

// riskTokens are substrings that make an allow rule suspicious: allowing
// arbitrary execution or shell access defeats the point of a deny list.
var riskTokens = []string{"exec", "eval", "shell"}

// validateRules checks each rule in isolation. Per-rule failures are
// recovered locally: the rule stays in the normalized set (as an
// escaped-literal matcher) so conflict detection remains complete.
func validateRules(rules []pattern.Rule) (errors, warnings []Issue) {
	for _, r := range rules {
		if r.Normalized == "" {
			warnings = append(warnings, Issue{
				Kind:     IssueInvalidPattern,
				Message:  fmt.Sprintf("empty pattern in %s list (entry %d)", r.Category, r.Index),
				Category: r.Category,
				Severity: types.SeverityMedium,
			})
			continue
		}
		if r.Matcher.Fallback {
			warnings = append(warnings, Issue{
				Kind:     IssueInvalidPattern,
				Message:  fmt.Sprintf("pattern %q is not valid %s syntax: matching it as a literal", r.Normalized, r.Kind),
				Pattern:  r.Normalized,
				Category: r.Category,
				Severity: types.SeverityMedium,
			})
		}
		if r.Category == types.CategoryAllow {
			lower := strings.ToLower(r.Normalized)
			for _, tok := range riskTokens {
				if strings.Contains(lower, tok) {
					warnings = append(warnings, Issue{
						Kind:     IssueSecurityViolation,
						Message:  fmt.Sprintf("allow rule %q contains high-risk token %q", r.Normalized, tok),
						Pattern:  r.Normalized,
						Category: r.Category,
						Severity: types.SeverityHigh,
					})
					break
				}
			}
		}
	}
	return errors, warnings
}

// analyzeSecurity scores the rule set 0-100 and converts weaknesses to
// issues: critical and high weaknesses are errors, the rest warnings.
func analyzeSecurity(rules []pattern.Rule) (score int, errors, warnings []Issue) {
	score = 100
	for _, r := range rules {
		for _, w := range pattern.DetectWeaknesses(r) {
			issue := Issue{
				Kind:     IssueSecurityViolation,
				Message:  fmt.Sprintf("%s: %s", w.Kind, w.Message),
				Pattern:  r.Normalized,
				Category: r.Category,
				Severity: w.Severity,
			}
			switch w.Severity {
			case types.SeverityCritical:
				score -= 20
				errors = append(errors, issue)
			case types.SeverityHigh:
				score -= 10
				errors = append(errors, issue)
			default:
				score -= 5
				warnings = append(warnings, issue)
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return score, errors, warnings
}
