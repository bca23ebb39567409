// Package phonetic matches misheard phrases to glossary terms using Double
// Metaphone codes and Jaro-Winkler similarity.
//
// A term is a candidate for a phrase when the Double Metaphone codes of both,
// spaces removed, share a code. Candidates are ranked by Jaro-Winkler
// similarity on the lower-cased strings and accepted above the phonetic
// threshold. Without a phonetic candidate, a term is still accepted when its
// similarity reaches the stricter fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minLengthRatio bounds how much shorter the phrase or the term may be,
	// so "grim" never becomes "Grimjaw" on the strength of a shared prefix.
	minLengthRatio = 0.7
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum similarity for a phonetically
// matching term. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum similarity for a term that does not
// sound alike. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// term is a glossary entry with its comparison forms computed once.
type term struct {
	original string
	lower    string
	compact  string
	words    int
	codes    [2]string
}

func newTerm(s string) (term, bool) {
	lower := strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(lower)
	if len(fields) == 0 {
		return term{}, false
	}
	compact := strings.Join(fields, "")
	p, sec := matchr.DoubleMetaphone(compact)
	return term{
		original: strings.Join(strings.Fields(s), " "),
		lower:    strings.Join(fields, " "),
		compact:  compact,
		words:    len(fields),
		codes:    [2]string{p, sec},
	}, true
}

// Glossary is a prepared term list for repeated matching.
type Glossary struct {
	terms    []term
	maxWords int
}

// Prepare computes the comparison forms of terms. Blank terms are dropped
// and inner whitespace is collapsed.
func Prepare(terms []string) *Glossary {
	g := &Glossary{}
	for _, s := range terms {
		t, ok := newTerm(s)
		if !ok {
			continue
		}
		g.terms = append(g.terms, t)
		g.maxWords = max(g.maxWords, t.words)
	}
	return g
}

// MaxWords reports the word count of the longest term.
func (g *Glossary) MaxWords() int { return g.maxWords }

// Len reports the number of terms.
func (g *Glossary) Len() int { return len(g.terms) }

// Match finds the glossary term that phrase most likely is. When matched is
// false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(phrase, Prepare(terms))
}

// MatchPrepared is [Matcher.Match] over a prepared [Glossary].
//
// Terms whose word count differs from the phrase by more than one are never
// candidates, so a single word cannot expand into a long multi-word term. A
// phrase with more words than the term must sound like it.
func (m *Matcher) MatchPrepared(phrase string, g *Glossary) (corrected string, confidence float64, matched bool) {
	in, ok := newTerm(phrase)
	if !ok || g == nil {
		return phrase, 0, false
	}

	var (
		best         term
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range g.terms {
		if abs(t.words-in.words) > 1 || !comparableLength(in, t) {
			continue
		}
		score := similarity(in, t)
		if codesOverlap(in.codes, t.codes) {
			if score < m.phoneticThreshold {
				continue
			}
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = t, score, true
			}
		} else if in.words <= t.words && !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t, score
		}
	}

	if best.original == "" {
		return phrase, 0, false
	}
	return best.original, bestScore, true
}

// similarity is the higher Jaro-Winkler score of the spaced and the compact
// forms, so "elder nacks" scores against "eldrinax" as "eldernacks".
func similarity(a, b term) float64 {
	score := matchr.JaroWinkler(a.lower, b.lower, false)
	if a.words > 1 || b.words > 1 {
		score = max(score, matchr.JaroWinkler(a.compact, b.compact, false))
	}
	return score
}

func comparableLength(a, b term) bool {
	la, lb := utf8.RuneCountInString(a.compact), utf8.RuneCountInString(b.compact)
	return float64(min(la, lb)) >= minLengthRatio*float64(max(la, lb))
}

func codesOverlap(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Letters counts the runes of phrase that are not spaces.
func Letters(phrase string) int {
	return utf8.RuneCountInString(strings.Join(strings.Fields(phrase), ""))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
