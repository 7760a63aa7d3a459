// Package main implements the scheduled daily digest CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codeGROOVE-dev/daily-digest/pkg/config"
)

// exitError carries a process exit code out of a command.
type exitError struct{ code int }

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()

	var ee *exitError
	switch {
	case errors.As(err, &ee):
		os.Exit(ee.code)
	case err != nil:
		fmt.Fprintln(os.Stderr, bad.Render("✗ "+err.Error()))
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "daily-digest",
		Short:         "Summarize a team's recent engineering activity into a daily report",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			setupLogging(opts.verbose)
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "daily-digest.yaml", "Path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Optional .env file with credentials")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output with detailed diagnostics")

	cmd.AddCommand(newRunCmd(opts))
	return cmd
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
