package pattern

import (
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/agentwarden/agentwarden/internal/types"
)

// OverlapKind classifies the relationship between two patterns' match sets.
type OverlapKind string

const (
	OverlapNone     OverlapKind = "none"
	OverlapExact    OverlapKind = "exact"
	OverlapSubset   OverlapKind = "subset"   // A ⊆ B
	OverlapSuperset OverlapKind = "superset" // A ⊇ B
	OverlapPartial  OverlapKind = "partial"
)

// Overlap describes how two rules' match sets relate, derived from a sampled
// test corpus. Never persisted; recomputed per detection pass.
type Overlap struct {
	RuleA           string      `json:"rule_a"`
	RuleB           string      `json:"rule_b"`
	Kind            OverlapKind `json:"kind"`
	Examples        []string    `json:"examples,omitempty"` // inputs matched by both, at most 5
	Confidence      int         `json:"confidence"`         // 0-100
	CoveragePercent int         `json:"coverage_percent"`
}

// Weakness is an intrinsic problem with a single pattern.
type Weakness struct {
	Kind     string         `json:"kind"`
	Severity types.Severity `json:"severity"`
	Message  string         `json:"message"`
}

// Analyzer scores patterns and determines overlap relationships via the
// generated test corpus. It is the named seam behind which a future exact
// intersection algorithm could be substituted.
//
// Pairwise overlap dominates detection cost on large rule sets, so the
// analyzer memoizes aggressively: overlap results per ordered rule pair,
// derived probes per pattern, and each rule's matches against the
// pattern-independent corpus. All maps are mutex-guarded; the detector's
// sharded passes share one analyzer.
type Analyzer struct {
	engine *Engine
	extra  []string // caller-supplied corpus additions
	static []string // pattern-independent probes, fixed at construction

	mu       sync.Mutex
	overlaps map[string]Overlap
	derived  map[string][]string
	hits     map[string][]bool // per rule ID, aligned with static
}

// NewAnalyzer creates an analyzer over the given engine. extra entries are
// appended to every generated probe corpus.
func NewAnalyzer(e *Engine, extra ...string) *Analyzer {
	return &Analyzer{
		engine:   e,
		extra:    extra,
		static:   staticInputs(extra),
		overlaps: make(map[string]Overlap),
		derived:  make(map[string][]string),
		hits:     make(map[string][]bool),
	}
}

// Engine returns the underlying pattern engine.
func (a *Analyzer) Engine() *Engine { return a.engine }

// Overlap determines the relationship between two rules' match sets. The
// result is memoized per ordered rule pair; the mirrored pair is stored from
// the same computation with the sides swapped.
func (a *Analyzer) Overlap(ra, rb Rule) Overlap {
	ov := Overlap{RuleA: ra.Normalized, RuleB: rb.Normalized}

	// Two literals are decided by string equality: the corpus heuristic adds
	// nothing, so confidence is forced to 0 or 100.
	if ra.Kind == KindLiteral && rb.Kind == KindLiteral {
		if ra.Normalized == rb.Normalized {
			ov.Kind = OverlapExact
			ov.Confidence = 100
			ov.CoveragePercent = 100
			ov.Examples = []string{ra.Normalized}
		} else {
			ov.Kind = OverlapNone
		}
		return ov
	}

	key := ra.ID() + "\x00" + rb.ID()
	a.mu.Lock()
	if cached, ok := a.overlaps[key]; ok {
		a.mu.Unlock()
		return cached
	}
	a.mu.Unlock()

	ov = a.computeOverlap(ra, rb)

	a.mu.Lock()
	a.overlaps[key] = ov
	a.overlaps[rb.ID()+"\x00"+ra.ID()] = mirrorOverlap(ov)
	a.mu.Unlock()
	return ov
}

// computeOverlap probes the pair corpus: the patterns themselves and their
// wildcard-derived variants are matched directly, the static part through
// each rule's precomputed hit vector.
func (a *Analyzer) computeOverlap(ra, rb Rule) Overlap {
	ov := Overlap{RuleA: ra.Normalized, RuleB: rb.Normalized}

	seen := make(map[string]bool, maxProbeInputs)
	probed := 0
	var both, aOnly, bOnly int
	tally := func(ma, mb bool, input string) {
		probed++
		switch {
		case ma && mb:
			both++
			if len(ov.Examples) < 5 {
				ov.Examples = append(ov.Examples, input)
			}
		case ma:
			aOnly++
		case mb:
			bOnly++
		}
	}
	probe := func(input string) {
		if probed >= maxProbeInputs || seen[input] {
			return
		}
		seen[input] = true
		tally(ra.Matcher.Matches(input), rb.Matcher.Matches(input), input)
	}

	probe(ra.Normalized)
	probe(rb.Normalized)
	for _, v := range a.derivedProbes(ra.Normalized) {
		probe(v)
	}
	for _, v := range a.derivedProbes(rb.Normalized) {
		probe(v)
	}

	ha, hb := a.staticHits(ra), a.staticHits(rb)
	for i, input := range a.static {
		if probed >= maxProbeInputs {
			break
		}
		if seen[input] {
			continue
		}
		seen[input] = true
		tally(ha[i], hb[i], input)
	}

	switch {
	case both == 0:
		ov.Kind = OverlapNone
	case aOnly == 0 && bOnly == 0:
		ov.Kind = OverlapExact
	case aOnly == 0:
		ov.Kind = OverlapSubset
	case bOnly == 0:
		ov.Kind = OverlapSuperset
	default:
		ov.Kind = OverlapPartial
	}

	ov.Confidence = both * 100 / probed
	if ComplexityScore(ra.Normalized) > 50 || ComplexityScore(rb.Normalized) > 50 {
		ov.Confidence = ov.Confidence * 80 / 100
	}
	if union := both + aOnly + bOnly; union > 0 {
		ov.CoveragePercent = both * 100 / union
	}
	return ov
}

// mirrorOverlap swaps the sides of an overlap result. Containment flips;
// everything else is symmetric.
func mirrorOverlap(ov Overlap) Overlap {
	out := ov
	out.RuleA, out.RuleB = ov.RuleB, ov.RuleA
	switch ov.Kind {
	case OverlapSubset:
		out.Kind = OverlapSuperset
	case OverlapSuperset:
		out.Kind = OverlapSubset
	}
	return out
}

// derivedProbes returns the memoized pattern-specific probe list.
func (a *Analyzer) derivedProbes(p string) []string {
	a.mu.Lock()
	if d, ok := a.derived[p]; ok {
		a.mu.Unlock()
		return d
	}
	a.mu.Unlock()

	d := derivedInputs(p)

	a.mu.Lock()
	a.derived[p] = d
	a.mu.Unlock()
	return d
}

// staticHits returns the rule's memoized match vector over the static corpus.
func (a *Analyzer) staticHits(r Rule) []bool {
	id := r.ID()
	a.mu.Lock()
	if h, ok := a.hits[id]; ok {
		a.mu.Unlock()
		return h
	}
	a.mu.Unlock()

	h := make([]bool, len(a.static))
	for i, input := range a.static {
		h[i] = r.Matcher.Matches(input)
	}

	a.mu.Lock()
	a.hits[id] = h
	a.mu.Unlock()
	return h
}

// DetectWeaknesses returns the intrinsic weaknesses of a single rule.
func DetectWeaknesses(r Rule) []Weakness {
	var ws []Weakness
	p := r.Normalized

	switch p {
	case "*", "**", ".*":
		ws = append(ws, Weakness{
			Kind:     "too-broad",
			Severity: types.SeverityCritical,
			Message:  fmt.Sprintf("pattern %q matches everything", p),
		})
	}

	// Only ".." sequences count as traversal risk. A leading dot alone does
	// not: dotfile rules like ".env" are routine and carry no traversal
	// meaning on their own.
	if strings.Contains(p, "..") {
		ws = append(ws, Weakness{
			Kind:     "traversal-risk",
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("pattern %q contains a path traversal sequence", p),
		})
	}

	if strings.Contains(p, "*") && !strings.Contains(p, "/") {
		ws = append(ws, Weakness{
			Kind:     "encoding-vulnerable",
			Severity: types.SeverityMedium,
			Message:  fmt.Sprintf("pattern %q wildcards a bare name: encoded separators can slip past it", p),
		})
	}

	if len(p) < 3 || alnumCount(p) < 2 {
		ws = append(ws, Weakness{
			Kind:     "too-vague",
			Severity: types.SeverityMedium,
			Message:  fmt.Sprintf("pattern %q is too short to be meaningful", p),
		})
	}

	// An unanchored deny glob with no path separator can be escaped by
	// absolute or nested paths. Separator-qualified globs are considered
	// anchored enough, and only deny rules are checked: ask and allow rules
	// do not gate anything, so escaping one does not widen access.
	if r.Category == types.CategoryDeny && r.Kind == KindGlob &&
		!strings.Contains(p, "/") &&
		!strings.HasPrefix(p, "/") && !strings.HasSuffix(p, "$") {
		ws = append(ws, Weakness{
			Kind:     "escape-prone",
			Severity: types.SeverityHigh,
			Message:  fmt.Sprintf("deny pattern %q is unanchored: prefix it with / or anchor its tail", p),
		})
	}

	return ws
}

// Signature produces a coarse grouping key for a rule so that candidate
// precedence-ambiguous rules can be clustered without pairwise comparison.
func Signature(r Rule) string {
	p := r.Normalized

	sep := "nosep"
	if strings.Contains(p, "/") {
		sep = "sep"
	}
	wild := "plain"
	if strings.ContainsAny(p, "*?[") {
		wild = "wild"
	}
	ext := "-"
	if e := path.Ext(strings.TrimRight(p, "*?$")); len(e) > 1 && len(e) <= 5 && isAlnum(e[1:]) {
		ext = e
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d", r.Kind, sep, wild, ext, len(p)/8)
}

// ComplexityScore rates a pattern 0-100 by length and metacharacter density.
// High scores discount overlap confidence: the corpus samples a complex
// pattern's language more sparsely.
func ComplexityScore(p string) int {
	score := len(p) / 4
	score += strings.Count(p, "*") * 10
	score += strings.Count(p, "?") * 5
	score += strings.Count(p, "[") * 5
	for _, ch := range []string{"\\", "^", "$", "(", "|", "+", "{"} {
		score += strings.Count(p, ch) * 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// SpecificityScore rates how narrowly a pattern matches: wildcards subtract,
// path depth and length add. Used to choose which side of a conflict to drop.
func SpecificityScore(p string) int {
	score := len(p)
	score += strings.Count(p, "/") * 10
	score -= strings.Count(p, "*") * 15
	score -= strings.Count(p, "?") * 5
	return score
}

// SecurityScore rates how hard a deny pattern is to bypass: fewer wildcards,
// longer text, and more path segments score higher.
func SecurityScore(p string) int {
	score := len(p) * 2
	score += strings.Count(p, "/") * 15
	score -= strings.Count(p, "*") * 20
	score -= strings.Count(p, "?") * 10
	if strings.HasPrefix(p, "/") {
		score += 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

func alnumCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func isAlnum(s string) bool {
	return len(s) > 0 && alnumCount(s) == len(s)
}
