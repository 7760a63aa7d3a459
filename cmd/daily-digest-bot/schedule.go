package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/collab"
	"github.com/codeGROOVE-dev/daily-digest/pkg/config"
	"github.com/codeGROOVE-dev/daily-digest/pkg/digest"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
	"github.com/codeGROOVE-dev/daily-digest/pkg/setup"
)

// scheduler runs the scheduled digest inside the bot and shares each report with the collaborator.
type scheduler struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	context  *collab.ProjectContext
	cache    *collab.Cache
	authors  authors.Map
	sources  []aggregate.Source
}

// loop runs immediately, then every interval until ctx ends.
func (s *scheduler) loop(ctx context.Context, interval time.Duration) {
	for {
		out := s.runOnce(ctx)
		slog.Info("Scheduled digest finished", "run_id", out.RunID, "status", out.Status.String())

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *scheduler) runOnce(ctx context.Context) *digest.Outcome {
	runner := &digest.Runner{
		Sources:            s.sources,
		Pipeline:           s.pipeline,
		Deliverer:          setup.Webhook(s.cfg),
		Metrics:            s.metrics,
		Logger:             slog.Default(),
		Authors:            s.authors,
		ProjectDescription: s.context.Get(),
		TicketPattern:      s.cfg.TicketPattern,
		Lookback:           s.cfg.Lookback(),
		Kind:               pipeline.ActivityRun,
	}
	out := runner.Run(ctx)
	if out.Report != "" {
		s.cache.SetReport(out.Report)
	}
	return out
}
