// Package mock provides a test double for the stt.Provider interface.
//
// Provider replays a scripted sequence of outcomes, one per Transcribe call,
// which makes it easy to exercise retry policies:
//
//	p := &mock.Provider{
//	    Outcomes: []mock.Outcome{
//	        {Err: stt.ErrRateLimited},
//	        {Result: &stt.Result{Text: "Roll for initiative."}},
//	    },
//	}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/sessionscribe/pkg/provider/stt"
)

// Outcome is the scripted result of a single Transcribe call.
type Outcome struct {
	Result *stt.Result
	Err    error
}

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is the Request passed to Transcribe. Req.Audio has been drained.
	Req stt.Request
	// Payload holds the bytes read from Req.Audio.
	Payload []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Outcomes are returned in order. Once exhausted, the last outcome is
	// repeated. With no outcomes Transcribe returns an empty Result.
	Outcomes []Outcome

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe drains req.Audio, records the call and returns the next outcome.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	var payload []byte
	if req.Audio != nil {
		payload, _ = io.ReadAll(req.Audio)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req, Payload: payload})

	if len(p.Outcomes) == 0 {
		return &stt.Result{}, nil
	}
	if idx >= len(p.Outcomes) {
		idx = len(p.Outcomes) - 1
	}
	o := p.Outcomes[idx]
	return o.Result, o.Err
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
