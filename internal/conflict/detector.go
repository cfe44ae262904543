package conflict

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentwarden/agentwarden/internal/logger"
	"github.com/agentwarden/agentwarden/internal/pattern"
	"github.com/agentwarden/agentwarden/internal/types"
)

var log = logger.New("conflict")

// parallelThreshold is the rule count above which the pairwise overlap pass
// shards across workers.
const parallelThreshold = 100

// ResultCache stores detection results keyed by rule-set content so that
// repeated validation of an unchanged configuration skips recomputation. It
// outlives the per-run detector and analyzer.
type ResultCache struct {
	mu sync.Mutex
	m  map[string][]Conflict
}

// NewResultCache creates an empty detection result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{m: make(map[string][]Conflict)}
}

func (rc *ResultCache) get(key string) ([]Conflict, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	cached, ok := rc.m[key]
	if !ok {
		return nil, false
	}
	out := make([]Conflict, len(cached))
	copy(out, cached)
	return out, true
}

func (rc *ResultCache) put(key string, conflicts []Conflict) {
	stored := make([]Conflict, len(conflicts))
	copy(stored, conflicts)
	rc.mu.Lock()
	rc.m[key] = stored
	rc.mu.Unlock()
}

// Detector runs the conflict detection passes over a normalized rule set.
type Detector struct {
	analyzer *pattern.Analyzer
	workers  int
	results  *ResultCache
}

// NewDetector creates a detector. workers bounds the overlap-pass fan-out;
// zero selects min(4, GOMAXPROCS). results may be nil, disabling reuse
// across detectors.
func NewDetector(analyzer *pattern.Analyzer, workers int, results *ResultCache) *Detector {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
		if workers > 4 {
			workers = 4
		}
	}
	if results == nil {
		results = NewResultCache()
	}
	return &Detector{
		analyzer: analyzer,
		workers:  workers,
		results:  results,
	}
}

// Detect runs all five detection passes, returning deduplicated conflicts
// sorted by severity.
func (d *Detector) Detect(ctx context.Context, rules []pattern.Rule) ([]Conflict, error) {
	key := contentKey(rules)
	if cached, ok := d.results.get(key); ok {
		log.Debug("detection cache hit for %d rules", len(rules))
		return cached, nil
	}

	var conflicts []Conflict

	// Pass 1 runs unconditionally: it is the security-critical path.
	conflicts = append(conflicts, d.detectBypassViolations(rules)...)

	if err := ctx.Err(); err != nil {
		return conflicts, err
	}
	conflicts = append(conflicts, d.detectPrecedenceAmbiguity(rules)...)

	if err := ctx.Err(); err != nil {
		return conflicts, err
	}
	overlapping, err := d.detectOverlappingRules(ctx, rules)
	if err != nil {
		return conflicts, err
	}
	conflicts = append(conflicts, overlapping...)

	if err := ctx.Err(); err != nil {
		return conflicts, err
	}
	conflicts = append(conflicts, d.detectContradictoryRules(rules)...)

	if err := ctx.Err(); err != nil {
		return conflicts, err
	}
	conflicts = append(conflicts, d.detectWeaknesses(rules)...)

	conflicts = dedupe(conflicts)
	sortBySeverity(conflicts)
	d.results.put(key, conflicts)

	return conflicts, nil
}

// contentKey builds the detection cache key: sorted "category:pattern"
// strings joined, so rule order within a tier does not fragment the cache.
func contentKey(rules []pattern.Rule) string {
	ids := make([]string, len(rules))
	for i, r := range rules {
		ids[i] = r.ID()
	}
	sort.Strings(ids)
	return strings.Join(ids, "\n")
}

// detectBypassViolations is pass 1: any weaker-tier rule whose match set
// intersects a deny rule's match set is a zero-bypass violation. The pass
// always runs to completion, without context checks, so a run cut short by a
// deadline can still report the bypasses it found.
func (d *Detector) detectBypassViolations(rules []pattern.Rule) []Conflict {
	var denies, weaker []pattern.Rule
	for _, r := range rules {
		if r.Category == types.CategoryDeny {
			denies = append(denies, r)
		} else {
			weaker = append(weaker, r)
		}
	}
	if len(denies) == 0 || len(weaker) == 0 {
		return nil
	}

	check := func(deny, w pattern.Rule) *Conflict {
		// Overlap is computed from the weaker rule's perspective so a
		// narrower allow inside a broad deny reports Subset.
		ov := d.analyzer.Overlap(w, deny)
		if ov.Kind == pattern.OverlapNone {
			return nil
		}
		impact := types.SeverityHigh
		if w.Category == types.CategoryAllow && ov.Kind != pattern.OverlapPartial {
			impact = types.SeverityCritical
		}
		return &Conflict{
			Kind: KindAllowOverridesDeny,
			Message: fmt.Sprintf("%s rule %q can match inputs denied by %q (%s overlap)",
				w.Category, w.Normalized, deny.Normalized, ov.Kind),
			Rules:      []ConflictingRule{participant(deny), participant(w)},
			Resolution: types.StrategyMakeAllowMoreRestrictive,
			Impact:     impact,
			Overlap:    ov.Kind,
			Confidence: ov.Confidence,
		}
	}

	if len(rules) <= parallelThreshold {
		var conflicts []Conflict
		for _, deny := range denies {
			for _, w := range weaker {
				if c := check(deny, w); c != nil {
					conflicts = append(conflicts, *c)
				}
			}
		}
		return conflicts
	}

	// Shard the deny list. A plain group, not a context-bound one: the pass
	// must finish even when the caller's deadline has already passed.
	shards := make([][]Conflict, d.workers)
	var g errgroup.Group
	chunk := (len(denies) + d.workers - 1) / d.workers
	for w := 0; w < d.workers; w++ {
		w := w
		lo, hi := w*chunk, (w+1)*chunk
		if hi > len(denies) {
			hi = len(denies)
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			var local []Conflict
			for _, deny := range denies[lo:hi] {
				for _, wr := range weaker {
					if c := check(deny, wr); c != nil {
						local = append(local, *c)
					}
				}
			}
			shards[w] = local
			return nil
		})
	}
	_ = g.Wait()

	var conflicts []Conflict
	for _, s := range shards {
		conflicts = append(conflicts, s...)
	}
	return conflicts
}

// detectPrecedenceAmbiguity is pass 2: rules with the same coarse signature
// spanning more than one tier are flagged as ambiguous.
func (d *Detector) detectPrecedenceAmbiguity(rules []pattern.Rule) []Conflict {
	groups := make(map[string][]pattern.Rule)
	for _, r := range rules {
		sig := pattern.Signature(r)
		groups[sig] = append(groups[sig], r)
	}

	var conflicts []Conflict
	for sig, group := range groups {
		if len(group) < 2 {
			continue
		}
		cats := make(map[types.Category]bool)
		hasDeny := false
		for _, r := range group {
			cats[r.Category] = true
			if r.Category == types.CategoryDeny {
				hasDeny = true
			}
		}
		if len(cats) < 2 {
			continue
		}

		impact := types.SeverityMedium
		if hasDeny {
			impact = types.SeverityHigh
		}
		parts := make([]ConflictingRule, len(group))
		for i, r := range group {
			parts[i] = participant(r)
		}
		conflicts = append(conflicts, Conflict{
			Kind: KindPrecedence,
			Message: fmt.Sprintf("%d similar rules (signature %s) span multiple permission tiers: matching depends on tier precedence alone",
				len(group), sig),
			Rules:      parts,
			Resolution: types.StrategyManualReviewRequired,
			Impact:     impact,
		})
	}
	return conflicts
}

// detectOverlappingRules is pass 3: pairwise overlap across the whole set,
// sharded across workers above parallelThreshold. Workers are stateless and
// only share immutable rule slices.
func (d *Detector) detectOverlappingRules(ctx context.Context, rules []pattern.Rule) ([]Conflict, error) {
	n := len(rules)
	if n < 2 {
		return nil, nil
	}

	checkPair := func(a, b pattern.Rule) *Conflict {
		ov := d.analyzer.Overlap(a, b)
		if !significantOverlap(a, b, ov) {
			return nil
		}
		impact := types.SeverityMedium
		if a.Category != b.Category {
			impact = types.SeverityHigh
		}
		return &Conflict{
			Kind: KindOverlappingRules,
			Message: fmt.Sprintf("patterns %q (%s) and %q (%s) overlap (%s)",
				a.Normalized, a.Category, b.Normalized, b.Category, ov.Kind),
			Rules:      []ConflictingRule{participant(a), participant(b)},
			Resolution: types.StrategyManualReviewRequired,
			Impact:     impact,
			Overlap:    ov.Kind,
			Confidence: ov.Confidence,
		}
	}

	if n <= parallelThreshold {
		var conflicts []Conflict
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if c := checkPair(rules[i], rules[j]); c != nil {
					conflicts = append(conflicts, *c)
				}
			}
		}
		return conflicts, nil
	}

	// Shard the outer index range. Each worker writes only its own slot.
	log.Debug("sharding %d-rule overlap pass across %d workers", n, d.workers)
	shards := make([][]Conflict, d.workers)
	g, ctx := errgroup.WithContext(ctx)
	chunk := (n + d.workers - 1) / d.workers
	for w := 0; w < d.workers; w++ {
		w := w
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			var local []Conflict
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := i + 1; j < n; j++ {
					if c := checkPair(rules[i], rules[j]); c != nil {
						local = append(local, *c)
					}
				}
			}
			shards[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, s := range shards {
		conflicts = append(conflicts, s...)
	}
	return conflicts, nil
}

// significantOverlap filters pass-3 findings: cross-tier overlap always
// matters, exact same-tier duplicates always matter, and containment matters
// only when a deny rule is involved.
func significantOverlap(a, b pattern.Rule, ov pattern.Overlap) bool {
	switch ov.Kind {
	case pattern.OverlapNone:
		return false
	case pattern.OverlapExact:
		return true
	case pattern.OverlapSubset, pattern.OverlapSuperset:
		if a.Category != b.Category {
			return true
		}
		return a.Category == types.CategoryDeny || b.Category == types.CategoryDeny
	default: // partial
		return a.Category != b.Category
	}
}

// detectContradictoryRules is pass 4: high-confidence containment or
// equality across different tiers is a semantic contradiction. Sharded like
// pass 3; the analyzer's pair memoization makes re-examined pairs cheap.
func (d *Detector) detectContradictoryRules(rules []pattern.Rule) []Conflict {
	check := func(i, j int) *Conflict {
		if i == j || rules[i].Category == rules[j].Category {
			return nil
		}
		ov := d.analyzer.Overlap(rules[i], rules[j])
		if ov.Kind == pattern.OverlapNone || ov.Kind == pattern.OverlapPartial {
			return nil
		}
		if ov.Confidence <= 70 {
			return nil
		}
		return &Conflict{
			Kind: KindContradictoryRules,
			Message: fmt.Sprintf("%s rule %q contradicts %s rule %q (%s overlap, confidence %d)",
				rules[i].Category, rules[i].Normalized,
				rules[j].Category, rules[j].Normalized, ov.Kind, ov.Confidence),
			Rules:      []ConflictingRule{participant(rules[i]), participant(rules[j])},
			Resolution: types.StrategyRemoveConflictingRule,
			Impact:     types.SeverityHigh,
			Overlap:    ov.Kind,
			Confidence: ov.Confidence,
		}
	}

	n := len(rules)
	if n <= parallelThreshold {
		var conflicts []Conflict
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if c := check(i, j); c != nil {
					conflicts = append(conflicts, *c)
				}
			}
		}
		return conflicts
	}

	shards := make([][]Conflict, d.workers)
	var g errgroup.Group
	chunk := (n + d.workers - 1) / d.workers
	for w := 0; w < d.workers; w++ {
		w := w
		lo, hi := w*chunk, (w+1)*chunk
		if hi > n {
			hi = n
		}
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			var local []Conflict
			for i := lo; i < hi; i++ {
				for j := 0; j < n; j++ {
					if c := check(i, j); c != nil {
						local = append(local, *c)
					}
				}
			}
			shards[w] = local
			return nil
		})
	}
	_ = g.Wait()

	var conflicts []Conflict
	for _, s := range shards {
		conflicts = append(conflicts, s...)
	}
	return conflicts
}

// detectWeaknesses is pass 5: per-rule intrinsic weaknesses surfaced as
// security-violation conflicts.
func (d *Detector) detectWeaknesses(rules []pattern.Rule) []Conflict {
	var conflicts []Conflict
	for _, r := range rules {
		for _, w := range pattern.DetectWeaknesses(r) {
			conflicts = append(conflicts, Conflict{
				Kind:       KindSecurityViolation,
				Message:    fmt.Sprintf("%s: %s", w.Kind, w.Message),
				Rules:      []ConflictingRule{participant(r)},
				Resolution: types.StrategyMakeDenyMoreSpecific,
				Impact:     w.Severity,
			})
		}
	}
	return conflicts
}
