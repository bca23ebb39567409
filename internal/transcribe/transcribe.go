// Package transcribe turns a recorded session into plain text by calling a
// speech-to-text provider under a bounded retry policy.
//
// Rate-limited calls back off exponentially; any other failure, including a
// response with no text, waits a fixed delay. Once the attempt budget is spent
// the caller receives an [*Error] describing the last failure.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/pkg/provider/stt"
)

const (
	// DefaultMaxAttempts bounds the number of provider calls per audio file.
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the fixed delay after a generic failure and the base
	// of the exponential backoff after a rate limit.
	DefaultBaseDelay = 2 * time.Second

	// MaxDelay caps the exponential backoff.
	MaxDelay = 10 * time.Minute

	reasonRateLimited = "Rate limit exceeded"
	reasonEmptyText   = "transcription returned empty text"
)

// ErrTranscription is the kind shared by every [*Error].
var ErrTranscription = errors.New("transcription failed")

// Error reports a failed transcription.
type Error struct {
	// Attempts is the number of provider calls made. Zero when the audio
	// could not be read at all.
	Attempts int

	// Reason is the last observed failure.
	Reason string

	// Err is the last underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Attempts == 0 {
		return "Failed to transcribe audio: " + e.Reason
	}
	return fmt.Sprintf("Failed to transcribe audio after %d attempts: %s", e.Attempts, e.Reason)
}

// Is reports whether target is [ErrTranscription].
func (e *Error) Is(target error) bool { return target == ErrTranscription }

func (e *Error) Unwrap() error { return e.Err }

// SleepFunc blocks for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Transcriber converts audio files to text.
//
// A Transcriber holds no per-call state and is safe for concurrent use when
// its provider is.
type Transcriber struct {
	provider      stt.Provider
	providerName  string
	maxAttempts   int
	baseDelay     time.Duration
	sleep         SleepFunc
	language      string
	prompt        string
	granularities []stt.Granularity
	metrics       *observe.Metrics
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithMaxAttempts overrides the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(t *Transcriber) {
		if n >= 1 {
			t.maxAttempts = n
		}
	}
}

// WithBaseDelay overrides [DefaultBaseDelay].
func WithBaseDelay(d time.Duration) Option {
	return func(t *Transcriber) {
		if d >= 0 {
			t.baseDelay = d
		}
	}
}

// WithSleep replaces the blocking wait between attempts. Tests use it to
// record delays without waiting.
func WithSleep(fn SleepFunc) Option {
	return func(t *Transcriber) { t.sleep = fn }
}

// WithLanguage sets an ISO-639-1 language hint forwarded to the provider.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithPrompt sets a vocabulary prompt (character names, places) forwarded to
// the provider.
func WithPrompt(prompt string) Option {
	return func(t *Transcriber) { t.prompt = prompt }
}

// WithGranularities requests timestamp granularities from providers that
// support them.
func WithGranularities(g ...stt.Granularity) Option {
	return func(t *Transcriber) { t.granularities = g }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(t *Transcriber) { t.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// New returns a [Transcriber] backed by p.
func New(p stt.Provider, opts ...Option) *Transcriber {
	t := &Transcriber{
		provider:     p,
		providerName: "stt",
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		sleep:        sleepContext,
	}
	for _, o := range opts {
		o(t)
	}
	if t.metrics == nil {
		t.metrics = observe.DefaultMetrics()
	}
	return t
}

// Transcribe returns the text spoken in the audio file at audioPath.
//
// The file is reopened for every attempt. Cancelling ctx aborts both a running
// provider call and a pending backoff.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return "", &Error{Reason: err.Error(), Err: err}
	}

	log := observe.Logger(ctx).With("audio", audioPath, "provider", t.providerName)
	start := time.Now()
	defer func() {
		t.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}()

	var (
		attempts int
		reason   string
		lastErr  error
	)
	for attempts < t.maxAttempts {
		text, err := t.attempt(ctx, audioPath)
		attempts++
		if err == nil {
			t.metrics.RecordProviderRequest(ctx, t.providerName, "stt", "ok")
			log.Info("transcription complete", "attempts", attempts, "chars", len(text))
			return text, nil
		}
		if ctx.Err() != nil {
			return "", &Error{Attempts: attempts, Reason: ctx.Err().Error(), Err: ctx.Err()}
		}

		lastErr = err
		var delay time.Duration
		if errors.Is(err, stt.ErrRateLimited) {
			reason = reasonRateLimited
			delay = t.backoff(attempts)
			t.metrics.RecordProviderRequest(ctx, t.providerName, "stt", "rate_limited")
		} else {
			reason = err.Error()
			delay = t.baseDelay
			t.metrics.RecordProviderRequest(ctx, t.providerName, "stt", "error")
			t.metrics.RecordProviderError(ctx, t.providerName, "stt")
		}

		if attempts >= t.maxAttempts {
			break
		}
		retryReason := "error"
		if reason == reasonRateLimited {
			retryReason = "rate_limit"
		}
		t.metrics.RecordSTTRetry(ctx, retryReason)
		log.Warn("transcription attempt failed, retrying",
			"attempt", attempts,
			"max_attempts", t.maxAttempts,
			"delay", delay,
			"err", err)
		if err := t.sleep(ctx, delay); err != nil {
			return "", &Error{Attempts: attempts, Reason: err.Error(), Err: err}
		}
	}

	log.Error("transcription failed", "attempts", attempts, "reason", reason)
	return "", &Error{Attempts: attempts, Reason: reason, Err: lastErr}
}

// backoff returns the base delay doubled n times, capped at [MaxDelay].
func (t *Transcriber) backoff(n int) time.Duration {
	d := t.baseDelay << n
	if d>>n != t.baseDelay || d > MaxDelay {
		return MaxDelay
	}
	return d
}

// attempt performs one provider call with a freshly opened file.
func (t *Transcriber) attempt(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	res, err := t.provider.Transcribe(ctx, stt.Request{
		Audio:         f,
		Filename:      filepath.Base(audioPath),
		Language:      t.language,
		Prompt:        t.prompt,
		Granularities: t.granularities,
	})
	if err != nil {
		return "", err
	}
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return "", errors.New(reasonEmptyText)
	}
	return res.Text, nil
}

// sleepContext waits for d unless ctx is done first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
