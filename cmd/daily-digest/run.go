package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/config"
	"github.com/codeGROOVE-dev/daily-digest/pkg/digest"
	"github.com/codeGROOVE-dev/daily-digest/pkg/github"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/setup"
)

type runOptions struct {
	hours   int
	dryRun  bool
	tickets bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect activity, summarize it and post the report",
		Example: `  daily-digest run
  daily-digest run --dry-run --hours=48
  daily-digest run --tickets --config team.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath, root.envFile)
			if err != nil {
				return err
			}
			if opts.hours > 0 {
				cfg.LookbackHours = opts.hours
			}
			if err := cfg.Validate(opts.tickets, opts.dryRun); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			out, err := execute(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), out, opts.dryRun)
			if code := out.ExitCode(); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.hours, "hours", 0, "Lookback window in hours (default from config, 24)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the report instead of posting it")
	cmd.Flags().BoolVar(&opts.tickets, "tickets", false, "Summarize ticket tracker activity only")
	return cmd
}

func execute(ctx context.Context, cfg *config.Config, opts *runOptions) (*digest.Outcome, error) {
	description, err := cfg.ProjectContext()
	if err != nil {
		return nil, err
	}

	var sources []aggregate.Source
	if opts.tickets {
		sources = setup.Sources(cfg, nil, true)
	} else {
		client, err := setup.GitHubClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		var api github.API = client
		sources = setup.Sources(cfg, api, false)
	}

	m := metrics.New()
	runner := &digest.Runner{
		Sources:            sources,
		Pipeline:           setup.Pipeline(cfg, m),
		Metrics:            m,
		Logger:             slog.Default(),
		Authors:            authors.New(cfg.Authors),
		ProjectDescription: description,
		TicketPattern:      cfg.TicketPattern,
		Lookback:           cfg.Lookback(),
		Kind:               setup.Kind(opts.tickets),
		DryRun:             opts.dryRun,
	}
	if !opts.dryRun {
		runner.Deliverer = setup.Webhook(cfg)
	}
	return runner.Run(ctx), nil
}

// report prints one message per outcome category; dry runs also show the artifacts.
func report(w io.Writer, out *digest.Outcome, dryRun bool) {
	if dryRun && out.Result != nil {
		if out.Result.Structured != "" {
			fmt.Fprintln(w, heading.Render("Structured activity"))
			fmt.Fprintln(w, out.Result.Structured)
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, heading.Render("Formatter prompt"))
		fmt.Fprintln(w, out.Result.FormatterPrompt)
		fmt.Fprintln(w)
	}
	if out.Report != "" && (dryRun || out.Status == digest.DeliveryFailed) {
		fmt.Fprintln(w, heading.Render("Report"))
		fmt.Fprintln(w, preview(out.Report))
	}
	fmt.Fprintln(w, statusLine(out))
}
