package align_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/sessionscribe/internal/align"
	"github.com/MrWong99/sessionscribe/internal/diarize"
	"github.com/MrWong99/sessionscribe/internal/observe"
	"github.com/MrWong99/sessionscribe/pkg/provider/llm"
	llmmock "github.com/MrWong99/sessionscribe/pkg/provider/llm/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatal(err)
	}
	return m
}

var tavern = []diarize.Segment{
	{Start: 0, End: 3.5, Speaker: "Alice"},
	{Start: 3.5, End: 7, Speaker: "Alice"},
	{Start: 65.9, End: 70, Speaker: "Bob"},
}

func TestAlign_UsesModelOutput(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Alice: We enter the tavern.\nBob: I order an ale."}}
	a := align.New(p, align.WithMetrics(testMetrics(t)))

	got := a.Align(context.Background(), "We enter the tavern. I order an ale.", tavern)
	if got != "Alice: We enter the tavern.\nBob: I order an ale." {
		t.Errorf("Align() = %q", got)
	}
	if p.CallCount() != 1 {
		t.Fatalf("model calls = %d, want 1", p.CallCount())
	}

	req := p.CompleteCalls[0].Req
	if req.Temperature != align.DefaultTemperature {
		t.Errorf("temperature = %v, want %v", req.Temperature, align.DefaultTemperature)
	}
	if !strings.Contains(req.SystemPrompt, "aligning transcripts with speaker diarization data") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("messages = %+v, want one user message", req.Messages)
	}
	user := req.Messages[0].Content
	for _, want := range []string{
		"Here is the raw transcript:\n\nWe enter the tavern. I order an ale.",
		`{"start":65.9,"end":70,"speaker":"Bob"}`,
		"Speaker Name: Their dialogue",
		"maintain the chronological order",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestAlign_FallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider llm.Provider
	}{
		{"model error", &llmmock.Provider{CompleteErr: errors.New("dial tcp: connection refused")}},
		{"empty content", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}}},
		{"nil response", &llmmock.Provider{}},
		{"no model", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a := align.New(tc.provider, align.WithMetrics(testMetrics(t)))
			got := a.Align(context.Background(), "transcript", tavern)
			if got != align.Fallback(tavern) {
				t.Errorf("Align() = %q, want fallback", got)
			}
			if !strings.HasSuffix(got, align.FallbackNote) {
				t.Errorf("output does not end with the fallback note: %q", got)
			}
		})
	}
}

func TestAlign_ContextWindow(t *testing.T) {
	t.Parallel()

	t.Run("prompt too large", func(t *testing.T) {
		t.Parallel()
		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
		m, err := observe.NewMetrics(mp)
		if err != nil {
			t.Fatal(err)
		}

		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "Alice: hi"},
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096},
		}
		a := align.New(p, align.WithMetrics(m))
		got := a.Align(context.Background(), strings.Repeat("the party argues ", 4_000), tavern)
		if got != align.Fallback(tavern) {
			t.Errorf("Align() = %q, want fallback", got)
		}
		if p.CallCount() != 0 {
			t.Errorf("model calls = %d, want 0", p.CallCount())
		}

		var rm metricdata.ResourceMetrics
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatal(err)
		}
		var reasons []string
		for _, sm := range rm.ScopeMetrics {
			for _, met := range sm.Metrics {
				if met.Name != "sessionscribe.alignment.fallbacks" {
					continue
				}
				for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("reason"))
					reasons = append(reasons, v.AsString())
				}
			}
		}
		if len(reasons) != 1 || reasons[0] != "context_window" {
			t.Errorf("fallback reasons = %q, want [context_window]", reasons)
		}
	})

	t.Run("output capped by model limit", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "Alice: hi"},
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 512},
		}
		a := align.New(p, align.WithMetrics(testMetrics(t)))
		if got := a.Align(context.Background(), "hi", tavern); got != "Alice: hi" {
			t.Errorf("Align() = %q", got)
		}
		if got := p.CompleteCalls[0].Req.MaxTokens; got != 512 {
			t.Errorf("MaxTokens = %d, want 512", got)
		}
	})

	t.Run("output capped by remaining room", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{
			CompleteResponse:  &llm.CompletionResponse{Content: "Alice: hi"},
			ModelCapabilities: llm.ModelCapabilities{ContextWindow: 2_000, MaxOutputTokens: 4_096},
		}
		a := align.New(p, align.WithMetrics(testMetrics(t)))
		a.Align(context.Background(), "hi", tavern)
		if p.CallCount() != 1 {
			t.Fatalf("model calls = %d, want 1", p.CallCount())
		}
		if got := p.CompleteCalls[0].Req.MaxTokens; got <= 0 || got >= 2_000 {
			t.Errorf("MaxTokens = %d, want within (0, 2000)", got)
		}
	})

	t.Run("unknown limits", func(t *testing.T) {
		t.Parallel()
		p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Alice: hi"}}
		a := align.New(p, align.WithMetrics(testMetrics(t)))
		a.Align(context.Background(), strings.Repeat("long ", 100_000), tavern)
		if p.CallCount() != 1 {
			t.Fatalf("model calls = %d, want 1", p.CallCount())
		}
		if got := p.CompleteCalls[0].Req.MaxTokens; got != 0 {
			t.Errorf("MaxTokens = %d, want 0", got)
		}
	})
}

func TestAlign_Temperature(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "x"}}
	a := align.New(p, align.WithTemperature(0.7), align.WithMetrics(testMetrics(t)))
	a.Align(context.Background(), "t", nil)
	if got := p.CompleteCalls[0].Req.Temperature; got != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got)
	}
	if !strings.Contains(p.CompleteCalls[0].Req.Messages[0].Content, "timestamps:\n\n[]\n\n") {
		t.Error("nil segments should serialise as an empty list")
	}
}

func TestFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		segments []diarize.Segment
		want     string
	}{
		{
			name:     "speaker changes and continuations",
			segments: tavern,
			want:     "\n[00:00] Alice:\n[00:03] \n[01:05] Bob:" + align.FallbackNote,
		},
		{
			name: "speaker returns",
			segments: []diarize.Segment{
				{Start: 1, Speaker: "GM"},
				{Start: 61, Speaker: "Pip"},
				{Start: 3725.4, Speaker: "GM"},
			},
			want: "\n[00:01] GM:\n[01:01] Pip:\n[62:05] GM:" + align.FallbackNote,
		},
		{
			name:     "no segments",
			segments: nil,
			want:     align.FallbackNote,
		},
		{
			name:     "empty speaker name still opens a line",
			segments: []diarize.Segment{{Start: 5, Speaker: ""}},
			want:     "\n[00:05] :" + align.FallbackNote,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := align.Fallback(tc.segments); got != tc.want {
				t.Errorf("Fallback() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTimestamp(t *testing.T) {
	t.Parallel()
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{59.99, "00:59"},
		{65, "01:05"},
		{600, "10:00"},
		{7322.5, "122:02"},
		{-3, "00:00"},
	}
	for _, tc := range tests {
		if got := align.Timestamp(tc.seconds); got != tc.want {
			t.Errorf("Timestamp(%v) = %q, want %q", tc.seconds, got, tc.want)
		}
	}
}
