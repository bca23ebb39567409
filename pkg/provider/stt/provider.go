// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider wraps a remote or local transcription service (e.g., the OpenAI
// audio API or a whisper.cpp server) and turns a complete audio recording into
// text in a single request. Session recordings are processed after the game
// night is over, so there is no streaming surface here.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"io"
)

// ErrRateLimited is returned (wrapped) by providers when the backend signals
// that the caller should back off before retrying, typically HTTP 429.
// Callers test for it with errors.Is.
var ErrRateLimited = errors.New("stt: rate limit exceeded")

// Granularity is a timestamp granularity hint forwarded to providers that
// support it.
type Granularity string

const (
	GranularitySegment Granularity = "segment"
	GranularityWord    Granularity = "word"
)

// Request describes a single transcription call.
type Request struct {
	// Audio is the binary audio payload. The caller owns it and closes it after
	// Transcribe returns.
	Audio io.Reader

	// Filename is the base name of the audio file. Some backends use the
	// extension to detect the container format (mp3, wav, m4a, ...).
	Filename string

	// Language is an optional ISO-639-1 language hint (e.g., "en", "de").
	Language string

	// Prompt is optional context that biases recognition, such as the names
	// of player characters and places in the campaign.
	Prompt string

	// Granularities are optional timestamp granularity hints. Providers that
	// cannot honour them ignore them.
	Granularities []Granularity
}

// Result is the structured response of a transcription call.
type Result struct {
	// Text is the full transcript. Providers return it as delivered by the
	// backend; callers decide whether an empty value is acceptable.
	Text string

	// Language is the detected or requested language, if reported.
	Language string

	// Duration is the audio length in seconds, if reported.
	Duration float64
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe sends the audio in req to the backend and waits for the
	// transcript. Rate-limit failures wrap [ErrRateLimited].
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
