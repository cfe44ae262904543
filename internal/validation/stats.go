package validation

import (
	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/pattern"
)

// GetRuleStatistics summarizes a configuration synchronously, with no cache
// interaction. Coverage is the share of the common-path probe corpus matched
// by at least one rule.
func GetRuleStatistics(cfg *config.PermissionConfig) Statistics {
	stats := Statistics{ByCategory: make(map[string]int)}
	if cfg == nil {
		return stats
	}

	engine := pattern.NewEngine()
	rules := normalizeRules(engine, cfg.Permissions)
	stats.TotalRules = len(rules)

	complexity := 0
	for _, r := range rules {
		stats.ByCategory[string(r.Category)]++
		complexity += pattern.ComplexityScore(r.Normalized)
	}
	if len(rules) > 0 {
		stats.AvgComplexity = complexity / len(rules)
	}

	corpus := pattern.GenerateTestInputs("", "", nil)
	covered, probed := 0, 0
	for _, input := range corpus {
		if input == "" {
			continue
		}
		probed++
		for _, r := range rules {
			if engine.Match(r.Matcher, input) {
				covered++
				break
			}
		}
	}
	if probed > 0 {
		stats.CoveragePercent = covered * 100 / probed
	}
	return stats
}
