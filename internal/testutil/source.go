package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// FakeSource implements aggregate.Source with a canned batch.
type FakeSource struct {
	Batch *types.Batch
	Err   error
	// Delay holds Fetch until it elapses or the context ends.
	Delay       time.Duration
	SourceName  string
	IsMandatory bool

	calls   atomic.Int32
	mu      sync.Mutex
	windows []types.Window
}

// Name returns the configured source name.
func (f *FakeSource) Name() string { return f.SourceName }

// Mandatory returns the configured flag.
func (f *FakeSource) Mandatory() bool { return f.IsMandatory }

// Fetch returns the canned batch or error.
func (f *FakeSource) Fetch(ctx context.Context, w types.Window) (*types.Batch, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.windows = append(f.windows, w)
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.Batch == nil {
		return &types.Batch{}, nil
	}
	b := *f.Batch
	return &b, nil
}

// Calls returns how many times Fetch ran.
func (f *FakeSource) Calls() int { return int(f.calls.Load()) }

// Windows returns the windows Fetch was called with.
func (f *FakeSource) Windows() []types.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Window, len(f.windows))
	copy(out, f.windows)
	return out
}
