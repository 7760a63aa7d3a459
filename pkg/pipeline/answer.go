package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
)

// Question is one ad-hoc question with the cached grounding it may use.
type Question struct {
	Now                time.Time
	Authors            authors.Map
	Text               string
	Rendered           string // cached rendered activity; empty when nothing is cached
	LastReport         string // most recent scheduled report, if any
	ProjectDescription string
}

// Answer responds to a question from cached activity alone. It never runs the structuring stage.
func (p *Pipeline) Answer(ctx context.Context, q Question) (string, error) {
	if p.Formatter == nil {
		return "", &StageError{Stage: StageAnswer, Err: errors.New("no formatter configured")}
	}
	if q.Now.IsZero() {
		q.Now = time.Now()
	}
	out, err := p.call(ctx, StageAnswer, p.Formatter, answerPrompt(&q))
	if err != nil {
		return "", &StageError{Stage: StageAnswer, Err: err}
	}
	slog.InfoContext(ctx, "Answered question", "component", "pipeline", "cached", q.Rendered != "", "answer_bytes", len(out))
	return unwrapFence(out), nil
}
