// SPDX-License-Identifier: MIT

// Package moderation screens chat for configured terms and applies the
// strike, mute and ban ladder. Term matching folds case, diacritics and the
// common leet substitutions so trivial obfuscation does not slip through.
package moderation

import (
	"bufio"
	"os"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Term is one screened pattern. WholeWord terms only match at word
// boundaries; otherwise any substring hit counts.
type Term struct {
	Pattern   string `json:"pattern"`
	WholeWord bool   `json:"wholeWord"`
}

// TermSet is the adaptive union of seed, managed and file-provided terms.
// Managed terms come from admin mutations; file terms reload on change.
type TermSet struct {
	mu      sync.RWMutex
	seed    []Term
	managed map[string]Term
	file    []Term
}

// seedTerms is the built-in baseline. Deliberately mild; operators extend it
// through the admin surface or the terms file.
var seedTerms = []Term{
	{Pattern: "cheater", WholeWord: true},
	{Pattern: "idiot", WholeWord: true},
}

// NewTermSet builds a set with the default seed terms.
func NewTermSet() *TermSet {
	return &TermSet{
		seed:    seedTerms,
		managed: make(map[string]Term),
	}
}

// Add installs or updates a managed term.
func (ts *TermSet) Add(t Term) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.managed[Normalize(t.Pattern)] = Term{Pattern: Normalize(t.Pattern), WholeWord: t.WholeWord}
}

// Remove drops a managed term. Seed and file terms cannot be removed here.
func (ts *TermSet) Remove(pattern string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	key := Normalize(pattern)
	_, ok := ts.managed[key]
	delete(ts.managed, key)
	return ok
}

// List returns every active term.
func (ts *TermSet) List() []Term {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]Term, 0, len(ts.seed)+len(ts.managed)+len(ts.file))
	out = append(out, ts.seed...)
	for _, t := range ts.managed {
		out = append(out, t)
	}
	out = append(out, ts.file...)
	return out
}

// SetFileTerms replaces the file-provided slice, used by the reload watcher.
func (ts *TermSet) SetFileTerms(terms []Term) {
	ts.mu.Lock()
	ts.file = terms
	ts.mu.Unlock()
}

// Match evaluates the normalized body against every term and returns the
// first hit.
func (ts *TermSet) Match(body string) (Term, bool) {
	folded := Normalize(body)
	words := fieldsMap(folded)
	for _, t := range ts.List() {
		pattern := Normalize(t.Pattern)
		if pattern == "" {
			continue
		}
		if t.WholeWord {
			if words[pattern] {
				return t, true
			}
			continue
		}
		if strings.Contains(folded, pattern) {
			return t, true
		}
	}
	return Term{}, false
}

func fieldsMap(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[w] = true
	}
	return out
}

// leetFold maps the common digit and symbol substitutions back to letters.
var leetFold = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and folds leet substitutions.
func Normalize(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	if stripped, _, err := transform.String(stripMarks, lower); err == nil {
		lower = stripped
	}
	return leetFold.Replace(lower)
}

// LoadTermsFile parses one term per line; a trailing "|word" marks it
// whole-word. Blank lines and #-comments are skipped.
func LoadTermsFile(path string) ([]Term, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Term
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t := Term{Pattern: line}
		if p, ok := strings.CutSuffix(line, "|word"); ok {
			t = Term{Pattern: strings.TrimSpace(p), WholeWord: true}
		}
		out = append(out, t)
	}
	return out, sc.Err()
}
