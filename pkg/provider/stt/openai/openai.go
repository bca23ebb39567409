// Package openai provides a batch STT provider backed by the OpenAI audio
// transcription API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/sessionscribe/pkg/provider/stt"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = "gpt-4o-transcribe"

// Provider implements stt.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
}

var _ stt.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout. Long session recordings can
// take several minutes to transcribe; the default is no client-side timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider.
//
// The SDK's built-in retries are disabled: retry and backoff policy belongs to
// the caller, which needs to see every rate-limit response.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	if req.Audio == nil {
		return nil, errors.New("openai: request has no audio")
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, p.buildParams(req))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("openai: transcription: %w: %w", stt.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}

	return &stt.Result{
		Text:     resp.Text,
		Language: req.Language,
	}, nil
}

// buildParams converts an stt.Request into OpenAI SDK params.
//
// Only the whisper family accepts verbose_json and timestamp granularities;
// the gpt-4o transcription models reject them, so the hints are dropped there.
func (p *Provider) buildParams(req stt.Request) oai.AudioTranscriptionNewParams {
	params := oai.AudioTranscriptionNewParams{
		Model:          oai.AudioModel(p.model),
		File:           req.Audio,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if req.Filename != "" {
		params.File = oai.File(req.Audio, req.Filename, "")
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}
	if req.Prompt != "" {
		params.Prompt = param.NewOpt(req.Prompt)
	}
	if len(req.Granularities) > 0 && supportsGranularities(p.model) {
		params.ResponseFormat = oai.AudioResponseFormatVerboseJSON
		for _, g := range req.Granularities {
			params.TimestampGranularities = append(params.TimestampGranularities, string(g))
		}
	}
	return params
}

func supportsGranularities(model string) bool {
	return strings.HasPrefix(strings.ToLower(model), "whisper")
}

// isRateLimited reports whether err is an OpenAI API error with HTTP 429.
func isRateLimited(err error) bool {
	var apiErr *oai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}
