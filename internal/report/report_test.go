package report_test

import (
	"bytes"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/sessionscribe/internal/align"
	"github.com/MrWong99/sessionscribe/internal/diarize"
	"github.com/MrWong99/sessionscribe/internal/report"
)

var generated = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

func render(t *testing.T, r *report.Report) string {
	t.Helper()
	var buf bytes.Buffer
	if err := report.Render(&buf, r); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func TestFromSegments_Roster(t *testing.T) {
	t.Parallel()
	segs := []diarize.Segment{
		{Start: 0, End: 4, Speaker: "GM"},
		{Start: 4, End: 9.5, Speaker: "Alice"},
		{Start: 9.5, End: 70.5, Speaker: "GM"},
	}
	r := report.FromSegments(report.Metadata{Generated: generated}, segs, "GM: Hello\nAlice: Hi", "Hello Hi")

	if r.Meta.Mode != report.ModeAudio {
		t.Errorf("Mode = %q, want audio", r.Meta.Mode)
	}
	if r.Fallback {
		t.Error("Fallback = true for a model transcript")
	}
	want := []report.Speaker{
		{Name: "GM", Turns: 2, Talk: 65 * time.Second},
		{Name: "Alice", Turns: 1, Talk: 5500 * time.Millisecond},
	}
	if len(r.Speakers) != len(want) {
		t.Fatalf("Speakers = %+v, want %+v", r.Speakers, want)
	}
	for i := range want {
		if r.Speakers[i] != want[i] {
			t.Errorf("Speakers[%d] = %+v, want %+v", i, r.Speakers[i], want[i])
		}
	}
}

func TestRender_Audio(t *testing.T) {
	t.Parallel()
	segs := []diarize.Segment{
		{Start: 0, End: 65, Speaker: "Alice"},
		{Start: 65, End: 70, Speaker: "Bob|Rogue"},
	}
	meta := report.Metadata{
		Title:       "Curse of Strahd, Session 12",
		Source:      "/recordings/s12.m4a",
		Transcriber: "openai",
		Aligner:     "openai",
		Generated:   generated,
		Elapsed:     3*time.Minute + 7*time.Second,
		Corrections: 3,
	}
	out := render(t, report.FromSegments(meta, segs, "Alice: We ride at dawn.\nBob|Rogue: Fine.", "raw"))

	for _, want := range []string{
		"# Curse of Strahd, Session 12\n",
		"- Source: `/recordings/s12.m4a`\n",
		"- Input: audio\n",
		"- Transcription: `openai`\n",
		"- Alignment: `openai`\n",
		"- Generated: ",
		"- Processing time: 3:07\n",
		"- Glossary corrections: 3\n",
		"| Speaker | Turns | Speaking time |\n",
		"| Alice | 1 | 1:05 |\n",
		`| Bob\|Rogue | 1 | 0:05 |` + "\n",
		"## Transcript\n\nAlice: We ride at dawn.\nBob|Rogue: Fine.\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Raw transcription") {
		t.Error("raw transcription rendered without fallback")
	}
}

func TestRender_Fallback(t *testing.T) {
	t.Parallel()
	segs := []diarize.Segment{{Start: 0, End: 3, Speaker: "Speaker 1"}}
	diarized := align.Fallback(segs)
	r := report.FromSegments(report.Metadata{Generated: generated}, segs, diarized, "The raw words.")
	if !r.Fallback {
		t.Fatal("Fallback = false for a fallback transcript")
	}

	out := render(t, r)
	for _, want := range []string{
		"# Session Report\n",
		"> Speaker attribution fell back to diarization timestamps.",
		"[00:00] Speaker 1:",
		"### Raw transcription\n\nThe raw words.\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "- Source:") {
		t.Error("empty source rendered")
	}
}

func TestFromTranscript(t *testing.T) {
	t.Parallel()
	transcript := strings.Join([]string{
		"GM: You enter the crypt.",
		"Alice: I light a torch.",
		"The torch sputters.",
		"GM: Roll perception.",
		"[01:05] Sir Bob the Bold: Natural twenty!",
		"Note that this line is narration, not speech.",
	}, "\n")

	r := report.FromTranscript(report.Metadata{Source: "notes.txt", Generated: generated}, transcript)
	if r.Meta.Mode != report.ModeTranscript {
		t.Errorf("Mode = %q, want transcript", r.Meta.Mode)
	}

	want := []report.Speaker{
		{Name: "GM", Turns: 2},
		{Name: "Alice", Turns: 1},
		{Name: "Sir Bob the Bold", Turns: 1},
	}
	if len(r.Speakers) != len(want) {
		t.Fatalf("Speakers = %+v, want %+v", r.Speakers, want)
	}
	for i := range want {
		if r.Speakers[i] != want[i] {
			t.Errorf("Speakers[%d] = %+v, want %+v", i, r.Speakers[i], want[i])
		}
	}

	out := render(t, r)
	if !strings.Contains(out, "| GM | 2 | - |") {
		t.Errorf("roster row missing:\n%s", out)
	}
	if !strings.Contains(out, "- Input: transcript\n") {
		t.Errorf("mode line missing:\n%s", out)
	}
}

func TestFromTranscript_LongLines(t *testing.T) {
	t.Parallel()
	transcript := "GM: The bard begins.\r\n" +
		"Bob: " + strings.Repeat("la ", 1<<20) + "\r\n" +
		"Carol: Make it stop.\r\n"

	r := report.FromTranscript(report.Metadata{Generated: generated}, transcript)
	var names []string
	for _, s := range r.Speakers {
		names = append(names, s.Name)
	}
	if want := []string{"GM", "Bob", "Carol"}; !slices.Equal(names, want) {
		t.Errorf("speakers = %q, want %q", names, want)
	}
}

func TestRender_NoSpeakers(t *testing.T) {
	t.Parallel()
	out := render(t, report.FromTranscript(report.Metadata{Generated: generated}, "just prose\n"))
	if !strings.Contains(out, "## Speakers\n\n_No speakers identified._\n\n## Transcript") {
		t.Errorf("unexpected speakers section:\n%s", out)
	}
	for _, absent := range []string{"Processing time", "Glossary corrections", "Transcription:"} {
		if strings.Contains(out, absent) {
			t.Errorf("report renders %q for an unset field:\n%s", absent, out)
		}
	}
}
