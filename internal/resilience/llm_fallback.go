package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/sessionscribe/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] over an ordered list of language
// models with per-model circuit breakers.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// ErrEmptyCompletion reports a model reply without content. [LLMFallback]
// treats it as a failure of that model.
var ErrEmptyCompletion = errors.New("resilience: empty completion")

// NewLLMFallback creates an [LLMFallback] with primary as the preferred model.
func NewLLMFallback(primaryName string, primary llm.Provider, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers a model tried after the ones already registered.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.Add(name, p)
}

// Names returns the registered model names in attempt order.
func (f *LLMFallback) Names() []string {
	return f.group.Names()
}

// Complete returns the first completion with content. A model that answers
// with nothing fails with [ErrEmptyCompletion] and the next one is tried.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Execute(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || resp.Content == "" {
			return nil, ErrEmptyCompletion
		}
		return resp, nil
	})
}

// Capabilities reports the primary model's limits, which bound every request
// the chain receives.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
