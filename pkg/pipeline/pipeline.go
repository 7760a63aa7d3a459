// Package pipeline runs the optional structuring stage and the mandatory formatting stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/llm"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
)

// DefaultTimeout bounds one generator call.
const DefaultTimeout = 5 * time.Minute

// State is where a summarization ended.
type State int

const (
	// Failed means the formatting stage produced nothing usable.
	Failed State = iota
	// RawAndFormatted means the formatter saw the rendered text unchanged.
	RawAndFormatted
	// StructuredAndFormatted means the formatter saw the structuring stage's output.
	StructuredAndFormatted
)

func (s State) String() string {
	switch s {
	case RawAndFormatted:
		return "raw_and_formatted"
	case StructuredAndFormatted:
		return "structured_and_formatted"
	default:
		return "failed"
	}
}

// Stage names used in errors, logs and metrics.
const (
	StageStructure = "structure"
	StageFormat    = "format"
	StageAnswer    = "answer"
)

// StageError reports a fatal stage failure.
type StageError struct {
	Err   error
	Stage string
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Input is everything one summarization needs.
type Input struct {
	Now                time.Time
	Authors            authors.Map
	Rendered           string
	ProjectDescription string
	TicketPattern      string
	Kind               RunKind
}

// Result carries the report and the intermediate artifacts of one summarization.
type Result struct {
	// StructuringErr is the non-fatal stage-one failure, if any.
	StructuringErr  error
	Report          string
	Structured      string
	FormatterPrompt string
	MissingSections []string
	State           State
}

// Pipeline holds the two generation capabilities.
type Pipeline struct {
	// Structurer is optional; nil skips stage one.
	Structurer llm.Generator
	Formatter  llm.Generator
	Metrics    *metrics.Metrics
	Timeout    time.Duration
}

// Summarize runs stage one (when configured) and then stage two, strictly in that order.
// Stage-one failures fall back to the rendered text; stage-two failures are fatal.
func (p *Pipeline) Summarize(ctx context.Context, in Input) (*Result, error) {
	if p.Formatter == nil {
		return &Result{State: Failed}, &StageError{Stage: StageFormat, Err: errors.New("no formatter configured")}
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	res := &Result{}

	label, body := BlockRaw, in.Rendered
	if p.Structurer == nil {
		slog.InfoContext(ctx, "No structurer configured, formatting raw activity", "component", "pipeline")
	} else {
		structured, err := p.call(ctx, StageStructure, p.Structurer, structuringPrompt(in.Rendered))
		if err == nil {
			structured = stripBlockLabels(structured)
			if structured == "" {
				err = &llm.Error{Backend: StageStructure, Kind: llm.Empty}
			}
		}
		if err != nil {
			slog.WarnContext(ctx, "Structuring failed, falling back to raw activity", "component", "pipeline", "error", err)
			res.StructuringErr = err
		} else {
			res.Structured = structured
			label, body = BlockStructured, res.Structured
		}
	}

	res.FormatterPrompt = formattingPrompt(&in, label, body)
	report, err := p.call(ctx, StageFormat, p.Formatter, res.FormatterPrompt)
	if err != nil {
		res.State = Failed
		return res, &StageError{Stage: StageFormat, Err: err}
	}

	res.Report = unwrapFence(report)
	opening, missing := checkStructure(res.Report, in.Kind)
	if !opening {
		slog.WarnContext(ctx, "Report does not start with the expected opening line", "component", "pipeline")
	}
	if len(missing) > 0 {
		slog.WarnContext(ctx, "Report is missing sections", "component", "pipeline", "missing", missing)
	}
	res.MissingSections = missing

	res.State = RawAndFormatted
	if label == BlockStructured {
		res.State = StructuredAndFormatted
	}
	slog.InfoContext(ctx, "Summarization finished", "component", "pipeline", "state", res.State.String(), "report_bytes", len(res.Report))
	return res, nil
}

// call runs one generator under the pipeline timeout. A timeout is a failure like any other.
func (p *Pipeline) call(ctx context.Context, stage string, g llm.Generator, prompt string) (string, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := g.Generate(callCtx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = &llm.Error{Backend: stage, Kind: llm.Empty}
	}
	if err == nil && callCtx.Err() != nil {
		err = &llm.Error{Backend: stage, Kind: llm.Timeout, Err: callCtx.Err()}
	}
	status := "ok"
	if err != nil {
		status = "error"
		if k := llm.KindOf(err); k != 0 {
			status = k.String()
		}
	}
	p.Metrics.StageFinished(stage, status, time.Since(start))
	slog.DebugContext(ctx, "Stage call finished", "component", "pipeline", "stage", stage, "status", status,
		"prompt_bytes", len(prompt), "duration", time.Since(start))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// stripBlockLabels removes input block labels a model may echo back.
func stripBlockLabels(s string) string {
	for _, label := range []string{BlockStructured, BlockRaw, blockEnd} {
		s = strings.ReplaceAll(s, label, "")
	}
	return strings.TrimSpace(s)
}
