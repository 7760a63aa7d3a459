package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/digest"
	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

func TestStatusLine(t *testing.T) {
	snap := aggregate.Aggregate([]*types.Batch{{}}, types.Window{})
	tests := []struct {
		out  *digest.Outcome
		want string
	}{
		{&digest.Outcome{Status: digest.Delivered, RunID: "01J", Snapshot: snap}, "Report delivered"},
		{&digest.Outcome{Status: digest.DryRun}, "Dry run complete"},
		{&digest.Outcome{Status: digest.NoActivity}, "No activity"},
		{&digest.Outcome{Status: digest.FormattingFailed, Err: errors.New("boom")}, "formatting failed"},
		{&digest.Outcome{Status: digest.SourceFailed, Err: errors.New("boom")}, "required source failed"},
		{&digest.Outcome{Status: digest.DeliveryFailed, Err: errors.New("500")}, "generated, not delivered"},
	}
	for _, tt := range tests {
		t.Run(tt.out.Status.String(), func(t *testing.T) {
			assert.Contains(t, statusLine(tt.out), tt.want)
		})
	}
}

func TestReport_DryRunShowsArtifacts(t *testing.T) {
	var buf bytes.Buffer
	report(&buf, &digest.Outcome{
		Status: digest.DryRun,
		Report: "Daily digest for 2025-03-11",
		Result: &pipeline.Result{Structured: "grouped text", FormatterPrompt: "the prompt"},
	}, true)

	got := buf.String()
	assert.Contains(t, got, "grouped text")
	assert.Contains(t, got, "the prompt")
	assert.Contains(t, got, "Daily digest for 2025-03-11")
	assert.Contains(t, got, "Dry run complete")
}

func TestReport_DeliveredHidesReport(t *testing.T) {
	var buf bytes.Buffer
	snap := aggregate.Aggregate(nil, types.Window{})
	report(&buf, &digest.Outcome{Status: digest.Delivered, Report: "secret report", Snapshot: snap}, false)
	assert.NotContains(t, buf.String(), "secret report")
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "digest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("github:\n  org: acme\n"), 0o600))

	var buf bytes.Buffer
	cmd := newRootCmd(&buf)
	cmd.SetArgs([]string{"run", "--config", path, "--env-file", "", "--dry-run"})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "formatter_command"), err.Error())
}

func TestRunCmd_MissingConfigFile(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "--env-file", ""})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}
