package pattern

import "strings"

// Overlap detection probes two patterns against a generated input corpus
// rather than intersecting their languages formally. The corpus is bounded
// (tens of strings), so the result is a heuristic approximation; confidence
// scoring communicates that uncertainty.

// maxProbeInputs bounds the corpus for a single overlap test.
const maxProbeInputs = 96

// baseCorpus holds common filenames and paths an agent is likely to touch.
var baseCorpus = []string{
	"index.js",
	"main.go",
	"app.py",
	"README.md",
	"config.yaml",
	"package.json",
	".env",
	".env.local",
	".git/config",
	"src/app.ts",
	"src/lib/util.js",
	"test/test.txt",
	"node_modules/pkg/index.js",
	"build/output.bin",
	"app.exe",
	"setup.exe",
	"/etc/passwd",
	"/usr/local/bin/tool",
	"/home/user/.ssh/id_rsa",
	"tmp/scratch",
	"exec",
	"eval",
	"shell.sh",
}

// securityCorpus holds adversarial inputs: traversal sequences, URL-encoded
// and double-encoded forms, and Unicode look-alike separators (U+2215
// division slash, U+FF0F fullwidth solidus).
var securityCorpus = []string{
	"../",
	"../../etc/passwd",
	"..%2f..%2fetc%2fpasswd",
	"%2e%2e%2f%2e%2e%2fetc%2fpasswd",
	"%252e%252e%252fetc%252fpasswd",
	"..∕..∕etc∕passwd",
	"..／..／etc／passwd",
	"foo/../bar",
	"./hidden",
}

// wildcardFills are the substitutions applied to each wildcard position:
// empty, a literal token, and a multi-segment path.
var wildcardFills = []string{"", "file", "a/b/file.txt"}

// staticInputs is the pattern-independent part of the probe corpus: base and
// security entries plus caller-supplied extras, deduplicated. A rule's match
// results against it can be computed once and reused across every pair.
func staticInputs(extra []string) []string {
	out := make([]string, 0, len(baseCorpus)+len(securityCorpus)+len(extra))
	seen := make(map[string]bool, cap(out))
	for _, group := range [][]string{baseCorpus, securityCorpus, extra} {
		for _, s := range group {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// derivedInputs produces the pattern-specific probes: each wildcard
// substitution plus its traversal, encoded, and double-encoded forms.
// Non-wildcard patterns yield nothing.
func derivedInputs(p string) []string {
	variants := substituteWildcards(p)
	if len(variants) == 0 {
		return nil
	}
	out := make([]string, 0, len(variants)*4)
	for _, v := range variants {
		out = append(out,
			v,
			"../"+v,
			strings.ReplaceAll(v, "/", "%2F"),
			strings.ReplaceAll(v, "/", "%252F"))
	}
	return out
}

// GenerateTestInputs builds the full probe corpus for a pattern pair. extra
// entries (caller-supplied custom patterns) are appended verbatim. The result
// is deduplicated and bounded.
func GenerateTestInputs(a, b string, extra []string) []string {
	seen := make(map[string]bool, maxProbeInputs)
	out := make([]string, 0, maxProbeInputs)
	add := func(s string) {
		if len(out) >= maxProbeInputs || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	// The patterns themselves: a literal on one side should collide with an
	// identical pattern on the other.
	add(a)
	add(b)

	for _, p := range []string{a, b} {
		for _, v := range derivedInputs(p) {
			add(v)
		}
	}
	for _, s := range staticInputs(extra) {
		add(s)
	}

	return out
}

// substituteWildcards produces concrete strings from a wildcarded pattern by
// replacing each wildcard with representative fills. Non-wildcard patterns
// yield nothing beyond themselves.
func substituteWildcards(p string) []string {
	if !strings.ContainsAny(p, "*?") {
		return nil
	}
	variants := make([]string, 0, len(wildcardFills))
	for _, fill := range wildcardFills {
		v := strings.ReplaceAll(p, "**", fill)
		v = strings.ReplaceAll(v, "*", fill)
		v = strings.ReplaceAll(v, "?", "x")
		variants = append(variants, v)
	}
	return variants
}
