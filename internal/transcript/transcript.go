// Package transcript corrects misheard proper nouns in raw speech-to-text
// output against a session glossary.
//
// Fantasy names rarely survive transcription intact: "Eldrinax" comes back as
// "elder nacks", "Tower of Whispers" as "tower of wispers". A [Corrector] scans
// the transcript for word runs that sound like a glossary term and replaces
// them with the term's canonical spelling. Whitespace, line breaks and
// punctuation around the replaced words are preserved.
package transcript

import (
	"context"
	"regexp"
	"strings"

	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/internal/transcript/phonetic"
)

// DefaultMinLetters is the shortest phrase, in letters, considered for
// correction. Shorter words are too ambiguous to rewrite.
const DefaultMinLetters = 4

// Correction captures one substitution.
type Correction struct {
	// Original is the text as transcribed.
	Original string

	// Corrected is the glossary term that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score in [0, 1].
	Confidence float64

	// Offset is the byte offset of Original in the uncorrected transcript.
	Offset int
}

// word is one word token and its byte span.
type word struct {
	start, end int
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’\-][\p{L}\p{N}]+)*`)

// Corrector rewrites transcripts against a fixed glossary. It is safe for
// concurrent use.
type Corrector struct {
	matcher    *phonetic.Matcher
	glossary   []string
	minLetters int
	metrics    *observe.Metrics
}

// Option configures a [Corrector].
type Option func(*Corrector)

// WithMatcher replaces the default [phonetic.Matcher].
func WithMatcher(m *phonetic.Matcher) Option {
	return func(c *Corrector) { c.matcher = m }
}

// WithMinLetters overrides [DefaultMinLetters].
func WithMinLetters(n int) Option {
	return func(c *Corrector) { c.minLetters = n }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Corrector) { c.metrics = m }
}

// New returns a [Corrector] for glossary.
func New(glossary []string, opts ...Option) *Corrector {
	c := &Corrector{
		matcher:    phonetic.New(),
		glossary:   glossary,
		minLetters: DefaultMinLetters,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Correct returns text with glossary terms restored, and the substitutions it
// made in order of appearance. extra terms, such as the speaker names of the
// run, are matched alongside the glossary.
//
// At each word the best matching run wins, and a run only spans words
// separated by spaces, never a line break or punctuation. A run that already
// spells a term exactly is kept and skipped over.
func (c *Corrector) Correct(ctx context.Context, text string, extra ...string) (string, []Correction) {
	g := phonetic.Prepare(append(append([]string(nil), c.glossary...), extra...))
	if g.Len() == 0 || text == "" {
		return text, nil
	}

	var words []word
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		words = append(words, word{start: loc[0], end: loc[1]})
	}
	// A run may be one word longer than the longest term ("elder nacks").
	maxRun := g.MaxWords() + 1

	var (
		b           strings.Builder
		corrections []Correction
		last        int
	)
	for i := 0; i < len(words); {
		n, term, conf := c.bestMatch(text, words[i:], maxRun, g)
		if n == 0 {
			i++
			continue
		}
		start, end := words[i].start, words[i+n-1].end
		if original := text[start:end]; original != term {
			b.WriteString(text[last:start])
			b.WriteString(term)
			last = end
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  term,
				Confidence: conf,
				Offset:     start,
			})
		}
		i += n
	}
	if len(corrections) == 0 {
		return text, nil
	}
	b.WriteString(text[last:])

	c.metrics.TranscriptCorrections.Add(ctx, int64(len(corrections)))
	observe.Logger(ctx).Info("transcript corrected", "corrections", len(corrections), "terms", g.Len())
	return b.String(), corrections
}

// bestMatch tries runs of up to maxRun words starting at words[0] and returns
// the best scoring run length with its term. Ties go to the shorter run, so a
// trailing word is never swallowed by a term it does not belong to. n is 0
// without a match.
func (c *Corrector) bestMatch(text string, words []word, maxRun int, g *phonetic.Glossary) (n int, term string, conf float64) {
	limit := 1
	for limit < min(maxRun, len(words)) && spaced(text[words[limit-1].end:words[limit].start]) {
		limit++
	}
	for k := limit; k >= 1; k-- {
		phrase := text[words[0].start:words[k-1].end]
		if phonetic.Letters(phrase) < c.minLetters {
			continue
		}
		if t, score, ok := c.matcher.MatchPrepared(phrase, g); ok && score >= conf {
			n, term, conf = k, t, score
		}
	}
	return n, term, conf
}

// spaced reports whether sep is a run of spaces or tabs.
func spaced(sep string) bool {
	return sep != "" && strings.Trim(sep, " \t") == ""
}
