package phonetic_test

import (
	"testing"

	"github.com/MrWong99/sessionscribe/internal/transcript/phonetic"
)

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	glossary := []string{"Eldrinax", "Grimjaw", "Tower of Whispers"}

	tests := []struct {
		name    string
		phrase  string
		terms   []string
		want    string
		minConf float64
		wantHit bool
	}{
		{name: "split name", phrase: "elder nacks", terms: glossary, want: "Eldrinax", minConf: 0.7, wantHit: true},
		{name: "multi-word term", phrase: "tower of wispers", terms: glossary, want: "Tower of Whispers", minConf: 0.9, wantHit: true},
		{name: "casing restored", phrase: "ELDRINAX", terms: glossary, want: "Eldrinax", minConf: 0.99, wantHit: true},
		{name: "exact", phrase: "grimjaw", terms: glossary, want: "Grimjaw", minConf: 0.99, wantHit: true},
		{name: "unrelated word", phrase: "hello", terms: glossary, want: "hello"},
		{name: "prefix only", phrase: "grim", terms: glossary, want: "grim"},
		{name: "single word of long term", phrase: "whispers", terms: glossary, want: "whispers"},
		{name: "no terms", phrase: "eldrinax", terms: nil, want: "eldrinax"},
		{name: "blank terms", phrase: "eldrinax", terms: []string{"", "  "}, want: "eldrinax"},
		{name: "empty phrase", phrase: "", terms: glossary, want: ""},
	}
	m := phonetic.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, conf, hit := m.Match(tt.phrase, tt.terms)
			if hit != tt.wantHit {
				t.Fatalf("Match(%q) matched = %v, want %v (got %q, %f)", tt.phrase, hit, tt.wantHit, got, conf)
			}
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.phrase, got, tt.want)
			}
			if !tt.wantHit && conf != 0 {
				t.Errorf("Match(%q) confidence = %f, want 0 without a match", tt.phrase, conf)
			}
			if tt.wantHit && conf < tt.minConf {
				t.Errorf("Match(%q) confidence = %f, want >= %f", tt.phrase, conf, tt.minConf)
			}
		})
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	strict := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, hit := strict.Match("elder nacks", []string{"Eldrinax"}); hit {
		t.Error("strict matcher accepted a near match")
	}
	if got, _, hit := strict.Match("eldrinax", []string{"Eldrinax"}); !hit || got != "Eldrinax" {
		t.Errorf("strict matcher rejected an exact match: %q, %v", got, hit)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	g := phonetic.Prepare([]string{"Eldrinax", "", "Tower of  Whispers", "Grimjaw"})
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
	if g.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", g.MaxWords())
	}

	m := phonetic.New()
	if got, _, hit := m.MatchPrepared("tower of wispers", g); !hit || got != "Tower of Whispers" {
		t.Errorf("MatchPrepared = %q, %v", got, hit)
	}
	if _, _, hit := m.MatchPrepared("eldrinax", nil); hit {
		t.Error("MatchPrepared with nil glossary matched")
	}
}

func TestLetters(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"":            0,
		"bob":         3,
		"elder nacks": 10,
		"  Ålfheim  ": 7,
	}
	for in, want := range tests {
		if got := phonetic.Letters(in); got != want {
			t.Errorf("Letters(%q) = %d, want %d", in, got, want)
		}
	}
}
