package main

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/collab"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/render"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// snapshotLoader collects a fresh window ending now from every source on each call.
func snapshotLoader(sources []aggregate.Source, lookback time.Duration, names authors.Map, m *metrics.Metrics) collab.Loader {
	return func(ctx context.Context) (*aggregate.Snapshot, string, error) {
		snap, err := aggregate.Build(ctx, sources, types.NewWindow(time.Now(), lookback), m)
		if err != nil {
			return nil, "", err
		}
		return snap, render.Render(snap, names), nil
	}
}
