// Package pipeline runs a recorded session through transcription, speaker
// diarization and alignment.
//
// The stages run strictly in that order. Alignment needs both earlier
// results, and the first failure aborts the run without partial output.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sessionscribe/internal/diarize"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/internal/transcript"
)

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Diarizer attributes an audio file to named speakers.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, speakerNames []string) ([]diarize.Segment, error)
}

// Aligner merges a transcript with speaker segments. It never fails.
type Aligner interface {
	Align(ctx context.Context, transcript string, segments []diarize.Segment) string
}

// Corrector restores glossary terms in a raw transcript. extra carries the
// speaker names of the run.
type Corrector interface {
	Correct(ctx context.Context, text string, extra ...string) (string, []transcript.Correction)
}

// Result holds every intermediate product of a run.
type Result struct {
	// Transcript is the speech-to-text output as handed to alignment, with
	// glossary corrections applied.
	Transcript string

	// Corrections lists the glossary substitutions made to Transcript.
	Corrections []transcript.Correction

	// Segments are the relabelled speaker turns in chronological order.
	Segments []diarize.Segment

	// Diarized is the speaker-attributed transcript.
	Diarized string

	// Speakers lists display names in order of first appearance.
	Speakers []string

	// Elapsed is the wall time of the whole run.
	Elapsed time.Duration
}

// Pipeline wires the three stages together. It keeps no state between runs
// and may be shared by concurrent callers processing different recordings.
type Pipeline struct {
	transcriber Transcriber
	diarizer    Diarizer
	aligner     Aligner
	corrector   Corrector
	metrics     *observe.Metrics
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithCorrector runs c on the transcript before alignment. Without one the
// transcript is aligned as transcribed.
func WithCorrector(c Corrector) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// New returns a [Pipeline] over the given stages.
func New(t Transcriber, d Diarizer, a Aligner, opts ...Option) *Pipeline {
	p := &Pipeline{transcriber: t, diarizer: d, aligner: a}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Run returns the diarized transcript of the audio at audioPath. speakerNames
// may be nil. Errors from the transcription and diarization stages are
// returned unchanged.
func (p *Pipeline) Run(ctx context.Context, audioPath string, speakerNames []string) (string, error) {
	res, err := p.RunDetailed(ctx, audioPath, speakerNames)
	if err != nil {
		return "", err
	}
	return res.Diarized, nil
}

// RunDetailed is [Pipeline.Run] but also returns the intermediate results.
func (p *Pipeline) RunDetailed(ctx context.Context, audioPath string, speakerNames []string) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("audio.path", audioPath),
			attribute.Int("speaker_names", len(speakerNames)),
		),
	)
	defer span.End()

	p.metrics.ActiveRuns.Add(ctx, 1)
	defer p.metrics.ActiveRuns.Add(ctx, -1)

	log := observe.Logger(ctx).With("audio", audioPath)
	start := time.Now()
	log.Info("pipeline started", "speaker_names", len(speakerNames))

	var text string
	err := stage(ctx, "pipeline.transcribe", func(ctx context.Context) error {
		var err error
		text, err = p.transcriber.Transcribe(ctx, audioPath)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}

	var corrections []transcript.Correction
	if p.corrector != nil {
		step(ctx, "pipeline.correct", func(ctx context.Context) {
			text, corrections = p.corrector.Correct(ctx, text, speakerNames...)
		})
	}

	var segments []diarize.Segment
	err = stage(ctx, "pipeline.diarize", func(ctx context.Context) error {
		var err error
		segments, err = p.diarizer.Diarize(ctx, audioPath, speakerNames)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}

	var diarized string
	step(ctx, "pipeline.align", func(ctx context.Context) {
		diarized = p.aligner.Align(ctx, text, segments)
	})

	res := &Result{
		Transcript:  text,
		Corrections: corrections,
		Segments:    segments,
		Diarized:    diarized,
		Speakers:    diarize.Speakers(segments),
		Elapsed:     time.Since(start),
	}
	span.SetAttributes(
		attribute.Int("segments", len(segments)),
		attribute.Int("speakers", len(res.Speakers)),
	)
	log.Info("pipeline finished",
		"segments", len(segments),
		"speakers", len(res.Speakers),
		"corrections", len(corrections),
		"elapsed", res.Elapsed)
	return res, nil
}

// stage runs fn inside a child span.
func stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observe.StartSpan(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		return fail(span, err)
	}
	return nil
}

// step runs fn, which cannot fail, inside a child span.
func step(ctx context.Context, name string, fn func(context.Context)) {
	ctx, span := observe.StartSpan(ctx, name)
	defer span.End()
	fn(ctx)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
