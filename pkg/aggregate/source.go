package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// Source is one external activity connector.
type Source interface {
	// Name identifies the source in logs, metrics and batches.
	Name() string
	// Mandatory reports whether a failure of this source must fail the run.
	Mandatory() bool
	// Fetch reads every record of the window, paging until the origin reports the end.
	Fetch(ctx context.Context, w types.Window) (*types.Batch, error)
}

// SourceError records a connector failure.
type SourceError struct {
	Err       error
	Source    string
	Mandatory bool
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Collect queries every source concurrently. Each source writes only its own slot, so no
// batch is shared between goroutines. Optional sources that fail contribute an empty batch
// and a SourceError; a failing mandatory source fails the whole collection.
func Collect(ctx context.Context, sources []Source, w types.Window, m *metrics.Metrics) ([]*types.Batch, []SourceError, error) {
	batches := make([]*types.Batch, len(sources))
	failures := make([]*SourceError, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			start := time.Now()
			b, err := src.Fetch(gctx, w)
			if err != nil {
				m.SourceFetched(src.Name(), "error", time.Since(start))
				se := &SourceError{Source: src.Name(), Err: err, Mandatory: src.Mandatory()}
				if se.Mandatory {
					slog.ErrorContext(ctx, "Mandatory source failed", "component", "aggregate", "source", src.Name(), "error", err)
					return se
				}
				slog.WarnContext(ctx, "Source failed, continuing without it", "component", "aggregate", "source", src.Name(), "error", err)
				failures[i] = se
				batches[i] = &types.Batch{Source: src.Name()}
				return nil
			}
			if b == nil {
				b = &types.Batch{}
			}
			b.Source = src.Name()
			batches[i] = b
			m.SourceFetched(src.Name(), "ok", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var errs []SourceError
	for _, f := range failures {
		if f != nil {
			errs = append(errs, *f)
		}
	}
	return batches, errs, nil
}

// Build collects every source and aggregates the result into one snapshot.
func Build(ctx context.Context, sources []Source, w types.Window, m *metrics.Metrics) (*Snapshot, error) {
	batches, failures, err := Collect(ctx, sources, w, m)
	if err != nil {
		return nil, err
	}
	snap := Aggregate(batches, w, failures...)
	m.SnapshotBuilt(snap.Counts().ByKind())
	slog.InfoContext(ctx, "Built activity snapshot", "component", "aggregate",
		"total", snap.Total(), "sources", len(sources), "failed_sources", len(failures))
	return snap, nil
}
