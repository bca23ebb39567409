// Package pyannote provides a diarization provider backed by a pyannote.audio
// HTTP sidecar.
//
// pyannote.audio is a Python library, so it runs in a small companion service
// that exposes two endpoints:
//
//	POST /load     {"model": "pyannote/speaker-diarization-3.1"}
//	POST /diarize  multipart form: audio=<file>, model=<name>
//
// Both require the Hugging Face access token as a Bearer credential; the
// sidecar uses it to fetch the gated model weights.
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/sessionscribe/pkg/provider/diarization"
)

const (
	// DefaultModel is the pretrained pipeline requested from the sidecar.
	DefaultModel = "pyannote/speaker-diarization-3.1"

	defaultBaseURL = "http://localhost:8388"
	defaultTimeout = 60 * time.Minute
)

// ErrMissingToken is returned by Load when no Hugging Face token is configured.
var ErrMissingToken = errors.New("HF_TOKEN environment variable not found. Please set it to your Hugging Face token to use pyannote.audio.")

var _ diarization.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the sidecar address. Defaults to http://localhost:8388.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithHTTPClient replaces the HTTP client used for both endpoints.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.client = c
	}
}

// Provider implements diarization.Provider against the pyannote sidecar.
type Provider struct {
	token   string
	baseURL string
	model   string
	client  *http.Client
}

// New creates a Provider. token is the Hugging Face access token; an empty
// token is accepted here and reported by [Provider.Load].
func New(token string, opts ...Option) *Provider {
	p := &Provider{
		token:   token,
		baseURL: defaultBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Load asks the sidecar to load the pretrained pipeline.
func (p *Provider) Load(ctx context.Context) (diarization.Pipeline, error) {
	if p.token == "" {
		return nil, ErrMissingToken
	}

	payload, err := json.Marshal(map[string]string{"model": p.model})
	if err != nil {
		return nil, fmt.Errorf("pyannote: encode load request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/load", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("pyannote: create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: load %q: %w", p.model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: load %q: %w", p.model, statusError(resp))
	}

	return &pipeline{p: p}, nil
}

func (p *Provider) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.token)
}

// pipeline is a model loaded in the sidecar.
type pipeline struct {
	p *Provider
}

// Run uploads the audio file and returns the turns sorted by start time.
func (pl *pipeline) Run(ctx context.Context, audioPath string) ([]diarization.Turn, error) {
	p := pl.p

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("pyannote: open audio: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("pyannote: write audio data: %w", err)
	}
	if err := writer.WriteField("model", p.model); err != nil {
		return nil, fmt.Errorf("pyannote: write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", &buf)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create diarize request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: diarize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: diarize: %w", statusError(resp))
	}

	var result diarizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("pyannote: decode diarize response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("pyannote: diarize: %s", result.Error)
	}
	return result.turns(), nil
}

// --- sidecar wire types ---

type diarizeResponse struct {
	Segments []diarizeSegment `json:"segments"`
	Error    string           `json:"error,omitempty"`
}

type diarizeSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Track   string  `json:"track"`
	Speaker string  `json:"speaker"`
}

func (r *diarizeResponse) turns() []diarization.Turn {
	turns := make([]diarization.Turn, len(r.Segments))
	for i, s := range r.Segments {
		turns[i] = diarization.Turn{
			Start: s.Start,
			End:   s.End,
			Track: s.Track,
			Label: s.Speaker,
		}
	}
	slices.SortStableFunc(turns, func(a, b diarization.Turn) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return turns
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("sidecar returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
