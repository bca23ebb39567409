// Package report renders the markdown session report written next to a
// processed recording or transcript.
package report

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/MrWong99/sessionscribe/internal/align"
	"github.com/MrWong99/sessionscribe/internal/diarize"
)

// Mode describes how the transcript was obtained.
type Mode string

const (
	ModeAudio      Mode = "audio"
	ModeTranscript Mode = "transcript"
)

// Metadata describes the run that produced the report.
type Metadata struct {
	// Title defaults to "Session Report".
	Title string

	// Source is the input file path.
	Source string

	Mode Mode

	// Transcriber and Aligner name the providers used, if any.
	Transcriber string
	Aligner     string

	Generated time.Time

	// Elapsed is the processing wall time. Zero omits the line.
	Elapsed time.Duration

	// Corrections counts glossary substitutions in the transcript.
	Corrections int
}

// Speaker is one row of the speaker roster.
type Speaker struct {
	Name  string
	Turns int

	// Talk is the summed duration of the speaker's segments. Zero when
	// unknown, as for text transcripts.
	Talk time.Duration
}

// Report is the data behind the rendered markdown.
type Report struct {
	Meta     Metadata
	Speakers []Speaker

	// Diarized is the speaker-attributed transcript.
	Diarized string

	// Raw is the unattributed transcript. It is rendered only when the
	// attribution fell back to timestamps, since the fallback carries no text.
	Raw string

	// Fallback reports whether Diarized came from the timestamp fallback.
	Fallback bool
}

// FromSegments builds a report for an audio run. The roster follows the
// first appearance of each speaker in segments.
func FromSegments(meta Metadata, segments []diarize.Segment, diarized, raw string) *Report {
	meta.Mode = ModeAudio
	idx := make(map[string]int)
	var speakers []Speaker
	for _, s := range segments {
		i, ok := idx[s.Speaker]
		if !ok {
			i = len(speakers)
			idx[s.Speaker] = i
			speakers = append(speakers, Speaker{Name: s.Speaker})
		}
		speakers[i].Turns++
		if d := s.End - s.Start; d > 0 {
			speakers[i].Talk += time.Duration(d * float64(time.Second))
		}
	}
	return &Report{
		Meta:     meta,
		Speakers: speakers,
		Diarized: diarized,
		Raw:      raw,
		Fallback: strings.HasSuffix(diarized, align.FallbackNote),
	}
}

// speakerLine matches "Name: dialogue" lines of an attributed transcript.
var speakerLine = regexp.MustCompile(`^\s*(?:\[[0-9:]+\]\s*)?(\p{L}[\p{L}\p{N}'.\-]*(?: [\p{L}\p{N}'.\-]+){0,3}):(?:\s|$)`)

// FromTranscript builds a report for an existing transcript. Speakers are
// inferred from lines of the form "Name: dialogue", however long the lines.
func FromTranscript(meta Metadata, transcript string) *Report {
	meta.Mode = ModeTranscript
	idx := make(map[string]int)
	var speakers []Speaker

	for line := range strings.Lines(transcript) {
		m := speakerLine.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
		if m == nil {
			continue
		}
		name := strings.TrimSpace(m[1])
		i, ok := idx[name]
		if !ok {
			i = len(speakers)
			idx[name] = i
			speakers = append(speakers, Speaker{Name: name})
		}
		speakers[i].Turns++
	}
	return &Report{Meta: meta, Speakers: speakers, Diarized: transcript}
}

const markdownTemplate = `# {{ .Meta.Title | default "Session Report" }}

{{ with .Meta.Source }}- Source: ` + "`{{ . }}`" + `
{{ end }}- Input: {{ .Meta.Mode }}
{{ with .Meta.Transcriber }}- Transcription: ` + "`{{ . }}`" + `
{{ end }}{{ with .Meta.Aligner }}- Alignment: ` + "`{{ . }}`" + `
{{ end }}- Generated: {{ .Meta.Generated | date "2006-01-02 15:04:05 MST" }}
{{ with .Meta.Elapsed }}- Processing time: {{ duration . }}
{{ end }}{{ with .Meta.Corrections }}- Glossary corrections: {{ . }}
{{ end }}
## Speakers

{{ if .Speakers -}}
| Speaker | Turns | Speaking time |
|---|---:|---:|
{{ range .Speakers }}| {{ .Name | cell }} | {{ .Turns }} | {{ if .Talk }}{{ duration .Talk }}{{ else }}-{{ end }} |
{{ end }}
{{- else -}}
_No speakers identified._
{{ end }}
## Transcript

{{ if .Fallback -}}
> Speaker attribution fell back to diarization timestamps. The raw transcription follows the timeline.

{{ end -}}
{{ .Diarized | trim }}
{{ if and .Fallback .Raw }}
### Raw transcription

{{ .Raw | trim }}
{{ end -}}
`

var tmpl = template.Must(template.New("report").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{
		"duration": formatDuration,
		"cell":     escapeCell,
	}).
	Parse(markdownTemplate))

// Render writes r as markdown to w.
func Render(w io.Writer, r *Report) error {
	if err := tmpl.Execute(w, r); err != nil {
		return fmt.Errorf("report: render: %w", err)
	}
	return nil
}

// formatDuration renders d as H:MM:SS, or M:SS below an hour.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
