// Package digest runs one scheduled digest: collect, aggregate, render, summarize, deliver.
package digest

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/deliver"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
	"github.com/codeGROOVE-dev/daily-digest/pkg/render"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// Status categorizes how a run ended.
type Status int

const (
	// Delivered means the report reached the channel.
	Delivered Status = iota
	// DryRun means the report was produced and delivery was skipped on request.
	DryRun
	// NoActivity means the window held no events; nothing was generated or delivered.
	NoActivity
	// FormattingFailed means the mandatory formatting stage failed.
	FormattingFailed
	// SourceFailed means a mandatory source failed.
	SourceFailed
	// DeliveryFailed means the report was generated but not delivered.
	DeliveryFailed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case DryRun:
		return "dry_run"
	case NoActivity:
		return "no_activity"
	case FormattingFailed:
		return "formatting_failed"
	case SourceFailed:
		return "source_failed"
	case DeliveryFailed:
		return "delivery_failed"
	default:
		return "unknown"
	}
}

// ExitCode maps the status to a process exit code.
func (s Status) ExitCode() int {
	switch s {
	case Delivered, DryRun, NoActivity:
		return 0
	case DeliveryFailed:
		return 2
	default:
		return 1
	}
}

// Outcome is everything a run produced, including partial artifacts of failed runs.
type Outcome struct {
	Err      error
	Snapshot *aggregate.Snapshot
	Result   *pipeline.Result
	Window   types.Window
	RunID    string
	Rendered string
	// Report stays populated when delivery fails.
	Report string
	Status Status
}

// ExitCode returns the process exit code for the outcome.
func (o *Outcome) ExitCode() int { return o.Status.ExitCode() }

// Runner holds the capabilities of one run.
type Runner struct {
	Pipeline  *pipeline.Pipeline
	Deliverer deliver.Deliverer // unused in dry-run mode
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Now is the clock; nil = time.Now.
	Now                func() time.Time
	Authors            authors.Map
	ProjectDescription string
	TicketPattern      string
	Sources            []aggregate.Source
	Lookback           time.Duration
	Kind               pipeline.RunKind
	DryRun             bool
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
}

// Run executes one digest. It never panics on stage failures; the outcome says what happened.
func (r *Runner) Run(ctx context.Context) *Outcome {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	out := &Outcome{RunID: NewRunID()}
	logger = logger.With("run_id", out.RunID, "kind", r.Kind.String())
	start := now()
	out.Window = types.NewWindow(start, r.Lookback)
	logger.InfoContext(ctx, "Starting digest run", "since", out.Window.Since, "until", out.Window.Until,
		"sources", len(r.Sources), "dry_run", r.DryRun)

	defer func() {
		r.Metrics.RunFinished(out.Status.String())
		logger.InfoContext(ctx, "Digest run finished", "status", out.Status.String(), "exit_code", out.ExitCode(),
			"duration", time.Since(start))
	}()

	snap, err := aggregate.Build(ctx, r.Sources, out.Window, r.Metrics)
	if err != nil {
		logger.ErrorContext(ctx, "Collection failed", "error", err)
		out.Status, out.Err = SourceFailed, err
		return out
	}
	out.Snapshot = snap
	for _, se := range snap.SourceErrors() {
		logger.WarnContext(ctx, "Source contributed nothing", "source", se.Source, "error", se.Err)
	}
	if snap.Empty() {
		logger.InfoContext(ctx, "No activity in window, nothing to send")
		out.Status = NoActivity
		return out
	}

	out.Rendered = render.Render(snap, r.Authors)
	logger.DebugContext(ctx, "Rendered activity", "events", snap.Total(), "bytes", len(out.Rendered))

	p := r.Pipeline
	if p == nil {
		p = &pipeline.Pipeline{}
	}
	res, err := p.Summarize(ctx, pipeline.Input{
		Now:                now(),
		Authors:            r.Authors,
		Rendered:           out.Rendered,
		ProjectDescription: r.ProjectDescription,
		TicketPattern:      r.TicketPattern,
		Kind:               r.Kind,
	})
	out.Result = res
	if err != nil {
		logger.ErrorContext(ctx, "Formatting failed, nothing will be delivered", "error", err)
		out.Status, out.Err = FormattingFailed, err
		return out
	}
	out.Report = res.Report

	if r.DryRun {
		out.Status = DryRun
		return out
	}
	if r.Deliverer == nil {
		out.Status, out.Err = DeliveryFailed, errors.New("no delivery channel configured")
		r.Metrics.Delivered("error")
		return out
	}
	if err := r.Deliverer.Deliver(ctx, out.Report); err != nil {
		logger.ErrorContext(ctx, "Report generated, not delivered", "error", err)
		out.Status, out.Err = DeliveryFailed, err
		r.Metrics.Delivered("error")
		return out
	}
	r.Metrics.Delivered("ok")
	out.Status = Delivered
	return out
}
