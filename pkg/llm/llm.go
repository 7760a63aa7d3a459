// Package llm adapts external text-generation backends to one time-bounded interface.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Generator turns a prompt into a complete response, or fails. It never returns partial output.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Kind classifies a generation failure.
type Kind int

const (
	// ExitFailure means the command exited non-zero or could not start.
	ExitFailure Kind = iota + 1
	// Timeout means the call outlived its deadline.
	Timeout
	// Empty means the backend answered with nothing but whitespace.
	Empty
	// HTTPStatus means the endpoint answered with a non-2xx status.
	HTTPStatus
	// Transport means the request never got a response.
	Transport
)

func (k Kind) String() string {
	switch k {
	case ExitFailure:
		return "exit_failure"
	case Timeout:
		return "timeout"
	case Empty:
		return "empty"
	case HTTPStatus:
		return "http_status"
	case Transport:
		return "transport"
	default:
		return "unknown"
	}
}

// Error is the typed failure every adapter returns.
type Error struct {
	Err        error
	Backend    string
	Detail     string
	Kind       Kind
	StatusCode int
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// contextKind maps a finished context to Timeout, or 0 if it is still live.
func contextKind(ctx context.Context) Kind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Timeout
	}
	return 0
}
