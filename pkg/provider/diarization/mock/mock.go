// Package mock provides test doubles for the diarization package interfaces.
//
//	p := &mock.Provider{
//	    Turns: []diarization.Turn{{Start: 0, End: 2.5, Label: "SPEAKER_00"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sessionscribe/pkg/provider/diarization"
)

// Provider is a mock implementation of diarization.Provider. The Pipeline it
// loads returns Turns (or RunErr) on every Run.
type Provider struct {
	mu sync.Mutex

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// Turns is returned by the loaded pipeline's Run.
	Turns []diarization.Turn

	// RunErr, if non-nil, is returned by the loaded pipeline's Run.
	RunErr error

	// LoadCalls is the number of Load invocations.
	LoadCalls int

	// RunPaths records the audio paths passed to Run, in order.
	RunPaths []string
}

var _ diarization.Provider = (*Provider)(nil)

// Load records the call and returns a pipeline bound to p.
func (p *Provider) Load(ctx context.Context) (diarization.Pipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCalls++
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	return pipeline{p: p}, nil
}

type pipeline struct{ p *Provider }

func (pl pipeline) Run(ctx context.Context, audioPath string) ([]diarization.Turn, error) {
	pl.p.mu.Lock()
	defer pl.p.mu.Unlock()
	pl.p.RunPaths = append(pl.p.RunPaths, audioPath)
	if pl.p.RunErr != nil {
		return nil, pl.p.RunErr
	}
	turns := make([]diarization.Turn, len(pl.p.Turns))
	copy(turns, pl.p.Turns)
	return turns, nil
}
