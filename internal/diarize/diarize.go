// Package diarize attributes stretches of a recording to speakers and gives
// the anonymous model labels human-readable names.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/pkg/provider/diarization"
)

// ErrDiarization is the kind shared by every [*Error].
var ErrDiarization = errors.New("diarization failed")

// Stage identifies where diarization failed.
type Stage string

const (
	StageLoad Stage = "load"
	StageRun  Stage = "run"
)

// Error reports a failed diarization.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Stage == StageLoad {
		return "Failed to diarize audio: Failed to load diarization pipeline: " + e.Err.Error()
	}
	return "Failed to diarize audio: " + e.Err.Error()
}

// Is reports whether target is [ErrDiarization].
func (e *Error) Is(target error) bool { return target == ErrDiarization }

func (e *Error) Unwrap() error { return e.Err }

// Segment is a speaker turn carrying its display name.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Diarizer runs a diarization provider and relabels its output.
type Diarizer struct {
	provider     diarization.Provider
	providerName string
	metrics      *observe.Metrics
}

// Option configures a [Diarizer].
type Option func(*Diarizer)

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(d *Diarizer) { d.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Diarizer) { d.metrics = m }
}

// New returns a [Diarizer] backed by p.
func New(p diarization.Provider, opts ...Option) *Diarizer {
	d := &Diarizer{provider: p, providerName: "diarization"}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Diarize loads the model, runs it on audioPath and returns the turns in the
// order the model reported them, relabelled via [BuildNameMap].
//
// The model is loaded on every call; nothing is cached between recordings.
func (d *Diarizer) Diarize(ctx context.Context, audioPath string, speakerNames []string) ([]Segment, error) {
	log := observe.Logger(ctx).With("audio", audioPath, "provider", d.providerName)
	start := time.Now()
	defer func() {
		d.metrics.DiarizationDuration.Record(ctx, time.Since(start).Seconds())
	}()

	pipeline, err := d.provider.Load(ctx)
	if err != nil {
		d.fail(ctx)
		log.Error("diarization model load failed", "err", err)
		return nil, &Error{Stage: StageLoad, Err: err}
	}

	turns, err := pipeline.Run(ctx, audioPath)
	if err != nil {
		d.fail(ctx)
		log.Error("diarization run failed", "err", err)
		return nil, &Error{Stage: StageRun, Err: err}
	}
	d.metrics.RecordProviderRequest(ctx, d.providerName, "diarization", "ok")

	labels := make([]string, len(turns))
	for i, t := range turns {
		labels[i] = t.Label
	}
	names := BuildNameMap(labels, speakerNames)

	segments := make([]Segment, len(turns))
	for i, t := range turns {
		segments[i] = Segment{Start: t.Start, End: t.End, Speaker: names[t.Label]}
	}
	log.Info("diarization complete", "segments", len(segments), "speakers", len(names))
	return segments, nil
}

func (d *Diarizer) fail(ctx context.Context) {
	d.metrics.RecordProviderRequest(ctx, d.providerName, "diarization", "error")
	d.metrics.RecordProviderError(ctx, d.providerName, "diarization")
}

// BuildNameMap maps each distinct raw label to a display name. Labels are
// sorted lexicographically; the i-th label takes names[i] when present and
// "Speaker {i+1}" otherwise.
func BuildNameMap(labels, names []string) map[string]string {
	unique := slices.Clone(labels)
	slices.Sort(unique)
	unique = slices.Compact(unique)

	m := make(map[string]string, len(unique))
	for i, label := range unique {
		if i < len(names) {
			m[label] = names[i]
		} else {
			m[label] = fmt.Sprintf("Speaker %d", i+1)
		}
	}
	return m
}

// Speakers returns the distinct speaker names in order of first appearance.
func Speakers(segments []Segment) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, s := range segments {
		if _, ok := seen[s.Speaker]; ok {
			continue
		}
		seen[s.Speaker] = struct{}{}
		out = append(out, s.Speaker)
	}
	return out
}
