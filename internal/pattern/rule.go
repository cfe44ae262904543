package pattern

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/agentwarden/agentwarden/internal/types"
)

// Rule is a single normalized permission rule. Rules are immutable once
// constructed; the orchestrator rebuilds them fresh on every validation call.
type Rule struct {
	Original   string         `json:"original"`
	Normalized string         `json:"normalized"`
	Kind       Kind           `json:"kind"`
	Category   types.Category `json:"category"`
	Priority   int            `json:"priority"`
	Index      int            `json:"index"`

	Matcher *Compiled `json:"-"`
}

// perTierStride spaces rule priorities so every deny rule sorts before every
// ask rule, which sorts before every allow rule, while preserving the
// original intra-tier order.
const perTierStride = 1 << 20

// NewRule builds a normalized, compiled rule. index is the rule's position
// within its tier in the source configuration.
func (e *Engine) NewRule(raw string, cat types.Category, index int) Rule {
	normalized := NormalizePattern(raw)
	return Rule{
		Original:   raw,
		Normalized: normalized,
		Kind:       Classify(normalized),
		Category:   cat,
		Priority:   cat.Precedence()*perTierStride + index,
		Index:      index,
		Matcher:    e.Compile(normalized),
	}
}

// NormalizePattern canonicalizes a raw pattern: NFKC folding defeats
// fullwidth/confusable wildcard smuggling, and surrounding whitespace is
// never meaningful in a pattern.
func NormalizePattern(p string) string {
	return strings.TrimSpace(norm.NFKC.String(p))
}

// ID returns a stable identifier for the rule within a rule set, used for
// deduplication keys and conflict reporting.
func (r Rule) ID() string {
	return string(r.Category) + ":" + r.Normalized
}
