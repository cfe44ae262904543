// Package pattern classifies, compiles, and matches permission rule patterns,
// and analyzes relationships between them.
package pattern

import (
	"regexp"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/agentwarden/agentwarden/internal/logger"
)

var log = logger.New("pattern")

// Kind represents how a pattern string is interpreted.
type Kind string

const (
	// KindLiteral matches by exact string equality.
	KindLiteral Kind = "literal"
	// KindGlob matches with * / ? / [...] wildcards. A bare * spans path
	// separators, equivalent to translating the glob to .* in a regex.
	KindGlob Kind = "glob"
	// KindRegex matches with Go regexp syntax.
	KindRegex Kind = "regex"
)

// Classify determines the Kind of a raw pattern string. Regex metacharacters
// take precedence over glob wildcards so patterns like `^tmp/.*$` are not
// misread as globs.
func Classify(p string) Kind {
	if strings.ContainsAny(p, `\^$(|`) {
		return KindRegex
	}
	if strings.ContainsAny(p, "*?[") {
		return KindGlob
	}
	return KindLiteral
}

// Compiled is a pattern compiled to a matchable form. Compilation never
// fails: invalid regex or glob syntax degrades to an escaped-literal matcher
// with Fallback set.
type Compiled struct {
	Raw      string
	Kind     Kind
	Fallback bool

	re  *regexp.Regexp
	g   glob.Glob
	lit string
}

// Matches reports whether input is matched by the compiled pattern.
func (c *Compiled) Matches(input string) bool {
	switch {
	case c.re != nil:
		return c.re.MatchString(input)
	case c.g != nil:
		return c.g.Match(input)
	default:
		return input == c.lit
	}
}

// maxPatternLen bounds user-supplied pattern length to keep compilation cheap.
const maxPatternLen = 4096

// Engine compiles patterns and matches inputs against them, memoizing both
// compilation and match results for the duration of a validation run.
type Engine struct {
	mu       sync.Mutex
	compiled map[string]*Compiled
	results  map[string]bool
}

// NewEngine creates an empty pattern engine. Engines are cheap; the
// orchestrator builds a fresh one per validation call so memoized results
// never outlive the rule set they were computed for.
func NewEngine() *Engine {
	return &Engine{
		compiled: make(map[string]*Compiled),
		results:  make(map[string]bool),
	}
}

// Compile returns the compiled form of a raw pattern, reusing a prior
// compilation when available.
func (e *Engine) Compile(raw string) *Compiled {
	e.mu.Lock()
	if c, ok := e.compiled[raw]; ok {
		e.mu.Unlock()
		return c
	}
	e.mu.Unlock()

	c := compile(raw)

	e.mu.Lock()
	e.compiled[raw] = c
	e.mu.Unlock()
	return c
}

// Match reports whether input matches the pattern, memoized per
// (pattern, kind, input) triple.
func (e *Engine) Match(c *Compiled, input string) bool {
	key := string(c.Kind) + "\x00" + c.Raw + "\x00" + input

	e.mu.Lock()
	if v, ok := e.results[key]; ok {
		e.mu.Unlock()
		return v
	}
	e.mu.Unlock()

	v := c.Matches(input)

	e.mu.Lock()
	e.results[key] = v
	e.mu.Unlock()
	return v
}

func compile(raw string) *Compiled {
	kind := Classify(raw)
	c := &Compiled{Raw: raw, Kind: kind}

	if len(raw) > maxPatternLen {
		log.Warn("pattern exceeds %d chars, matching as literal", maxPatternLen)
		return literalFallback(c)
	}

	switch kind {
	case KindRegex:
		re, err := regexp.Compile(raw)
		if err != nil {
			log.Debug("invalid regex %q: %v (matching as escaped literal)", raw, err)
			return literalFallback(c)
		}
		c.re = re
	case KindGlob:
		// No separator argument: * spans /, matching the documented
		// glob-to-regex translation (* -> .*).
		g, err := glob.Compile(raw)
		if err != nil {
			log.Debug("invalid glob %q: %v (matching as escaped literal)", raw, err)
			return literalFallback(c)
		}
		c.g = g
	default:
		c.lit = raw
	}
	return c
}

// literalFallback converts a pattern that failed to compile into a substring
// matcher over the escaped original text.
func literalFallback(c *Compiled) *Compiled {
	c.Fallback = true
	c.re = regexp.MustCompile(regexp.QuoteMeta(c.Raw))
	c.g = nil
	return c
}
