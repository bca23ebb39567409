// Package align merges a raw transcript with diarized speaker segments into a
// transcript whose lines are attributed to named speakers.
//
// A language model does the merge. When the model is unavailable, the prompt
// cannot fit its context window, the call fails or the model answers with
// nothing, [Fallback] produces a timestamp-only transcript so
// alignment itself never fails.
package align

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/sessionscribe/internal/diarize"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/pkg/provider/llm"
)

// DefaultTemperature keeps the model close to the source text.
const DefaultTemperature = 0.2

// FallbackNote terminates every transcript produced by [Fallback].
const FallbackNote = "\n\n[Note: This is a simplified diarization using timestamps only. For a more accurate result, please retry the process.]"

// charsPerToken approximates the characters per token of common tokenizers
// for English text.
const charsPerToken = 4

const systemPrompt = "You are an expert at aligning transcripts with speaker diarization data. " +
	"Your task is to take a raw transcript and speaker segments, then produce " +
	"a clean, diarized transcript that correctly attributes dialogue to speakers."

// Aligner produces diarized transcripts.
type Aligner struct {
	provider     llm.Provider
	providerName string
	temperature  float64
	metrics      *observe.Metrics
}

// Option configures an [Aligner].
type Option func(*Aligner)

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(a *Aligner) { a.temperature = t }
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(a *Aligner) { a.providerName = name }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Aligner) { a.metrics = m }
}

// New returns an [Aligner] backed by p. A nil p is allowed and makes every
// alignment use [Fallback].
func New(p llm.Provider, opts ...Option) *Aligner {
	a := &Aligner{
		provider:     p,
		providerName: "llm",
		temperature:  DefaultTemperature,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// Align returns the model's diarized transcript, or [Fallback] of segments
// when the model cannot provide one.
func (a *Aligner) Align(ctx context.Context, transcript string, segments []diarize.Segment) string {
	log := observe.Logger(ctx).With("provider", a.providerName)
	start := time.Now()
	defer func() {
		a.metrics.AlignmentDuration.Record(ctx, time.Since(start).Seconds())
	}()

	if a.provider == nil {
		a.metrics.RecordAlignmentFallback(ctx, "no_provider")
		log.Warn("no alignment model configured, using timestamp fallback")
		return Fallback(segments)
	}

	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: userPrompt(transcript, segments)}},
		Temperature:  a.temperature,
	}
	caps := a.provider.Capabilities()
	if caps.ContextWindow > 0 {
		prompt := estimateTokens(req.SystemPrompt) + estimateTokens(req.Messages[0].Content)
		room := caps.ContextWindow - prompt
		if room <= 0 {
			a.metrics.RecordAlignmentFallback(ctx, "context_window")
			log.Warn("transcript exceeds the alignment model's context window, using timestamp fallback",
				"estimated_tokens", prompt,
				"context_window", caps.ContextWindow)
			return Fallback(segments)
		}
		req.MaxTokens = room
		if caps.MaxOutputTokens > 0 {
			req.MaxTokens = min(caps.MaxOutputTokens, room)
		}
	}

	resp, err := a.provider.Complete(ctx, req)
	if err != nil {
		a.metrics.RecordProviderRequest(ctx, a.providerName, "llm", "error")
		a.metrics.RecordProviderError(ctx, a.providerName, "llm")
		a.metrics.RecordAlignmentFallback(ctx, "error")
		log.Warn("alignment model failed, using timestamp fallback", "err", err)
		return Fallback(segments)
	}
	a.metrics.RecordProviderRequest(ctx, a.providerName, "llm", "ok")

	if resp == nil || resp.Content == "" {
		a.metrics.RecordAlignmentFallback(ctx, "empty")
		log.Warn("alignment model returned no content, using timestamp fallback")
		return Fallback(segments)
	}
	log.Info("alignment complete",
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)
	return resp.Content
}

// estimateTokens returns a rough token count for s. Non-empty text counts as
// at least one token.
func estimateTokens(s string) int {
	tokens := len(s) / charsPerToken
	if tokens == 0 && s != "" {
		tokens = 1
	}
	return tokens
}

func userPrompt(transcript string, segments []diarize.Segment) string {
	if segments == nil {
		segments = []diarize.Segment{}
	}
	segs, err := json.Marshal(segments)
	if err != nil {
		// NaN or Inf timestamps.
		segs = fmt.Appendf(nil, "%v", segments)
	}

	var b strings.Builder
	b.WriteString("Here is the raw transcript:\n\n")
	b.WriteString(transcript)
	b.WriteString("\n\nHere are the speaker segments with timestamps:\n\n")
	b.Write(segs)
	b.WriteString("\n\nPlease create a diarized transcript in the format:\n")
	b.WriteString("Speaker Name: Their dialogue\n")
	b.WriteString("Another Speaker: Their response\n\n")
	b.WriteString("Make sure to maintain the chronological order and attribute each line to the correct speaker.")
	return b.String()
}

// Fallback renders segments as timestamped lines. A line naming the speaker
// starts whenever the speaker changes; consecutive turns by the same speaker
// get a bare timestamp. The result always ends with [FallbackNote].
func Fallback(segments []diarize.Segment) string {
	var b strings.Builder
	current := ""
	for i, s := range segments {
		ts := Timestamp(s.Start)
		if i == 0 || s.Speaker != current {
			fmt.Fprintf(&b, "\n[%s] %s:", ts, s.Speaker)
			current = s.Speaker
		} else {
			fmt.Fprintf(&b, "\n[%s] ", ts)
		}
	}
	b.WriteString(FallbackNote)
	return b.String()
}

// Timestamp formats seconds as MM:SS with truncated, zero-padded fields.
// Minutes are not wrapped at 60.
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
