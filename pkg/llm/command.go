package llm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const maxStderrDetail = 512

// Command pipes the prompt to a shell command's stdin and returns its stdout.
type Command struct {
	// Line is run with "sh -c", so it may carry flags and pipes.
	Line  string
	Shell string // empty = "sh"
	Env   []string
	Dir   string
}

// Generate runs the command once. Cancelling ctx kills the process.
func (c *Command) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.Line) == "" {
		return "", &Error{Backend: "command", Kind: ExitFailure, Detail: "no command configured"}
	}
	shell := c.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", c.Line)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	slog.DebugContext(ctx, "Generation command finished", "component", "llm", "duration", time.Since(start), "stdout_bytes", stdout.Len())

	if kind := contextKind(ctx); kind != 0 {
		return "", &Error{Backend: "command", Kind: kind, Err: ctx.Err()}
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > maxStderrDetail {
			detail = detail[:maxStderrDetail]
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", &Error{Backend: "command", Kind: ExitFailure, Detail: detail, Err: err}
		}
		return "", &Error{Backend: "command", Kind: ExitFailure, Detail: "failed to start", Err: err}
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", &Error{Backend: "command", Kind: Empty}
	}
	return out, nil
}
