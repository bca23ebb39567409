// Package diarization defines the Provider interface for speaker diarization
// backends.
//
// Diarization partitions an audio timeline into turns attributed to distinct
// speakers. Backends are pretrained models that must be loaded before use;
// loading is a separate, fallible step because it typically requires a
// credential and a sizeable download.
//
// Implementations must be safe for concurrent use.
package diarization

import "context"

// Turn is a single speaker turn as reported by the model.
type Turn struct {
	// Start is the turn start time in seconds from the beginning of the audio.
	Start float64

	// End is the turn end time in seconds.
	End float64

	// Track is the model's track identifier for overlapping speech.
	Track string

	// Label is the raw speaker label assigned by the model (e.g., "SPEAKER_00").
	// Labels are only meaningful within a single run.
	Label string
}

// Pipeline is a loaded diarization model.
type Pipeline interface {
	// Run diarizes the audio file at audioPath and returns the turns in
	// chronological order.
	Run(ctx context.Context, audioPath string) ([]Turn, error)
}

// Provider loads diarization pipelines.
type Provider interface {
	// Load prepares the pretrained model and returns a ready Pipeline.
	// Returns an error when the credential is missing or the model cannot be
	// loaded.
	Load(ctx context.Context) (Pipeline, error)
}
