package llm

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	// DefaultEndpoint is a messages-style completion endpoint.
	DefaultEndpoint  = "https://api.anthropic.com/v1/messages"
	defaultMaxTokens = 4096
	apiVersion       = "2023-06-01"
	maxErrorBody     = 512
)

// HTTPDoer provides an interface for making HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTP posts the prompt to a messages-style endpoint.
type HTTP struct {
	Client        HTTPDoer // nil = http.DefaultClient
	Endpoint      string   // empty = DefaultEndpoint
	Model         string
	APIKey        string
	MaxTokens     int
	RetryAttempts uint // zero = 3
	RetryDelay    time.Duration
}

type messagesRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// retryableStatus marks a response worth retrying.
type retryableStatus struct{ err *Error }

func (r *retryableStatus) Error() string { return r.err.Error() }

// Generate sends one request, retrying rate limits, server errors and transport failures.
func (h *HTTP) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     h.Model,
		MaxTokens: cmp.Or(max(h.MaxTokens, 0), defaultMaxTokens),
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	attempts := h.RetryAttempts
	if attempts == 0 {
		attempts = 3
	}
	delay := h.RetryDelay
	if delay == 0 {
		delay = time.Second
	}

	var text string
	err = retry.Do(
		func() error {
			var err error
			text, err = h.once(ctx, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(delay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "llm", "attempt", n+1, "max_attempts", attempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var rs *retryableStatus
			return errors.As(err, &rs) || KindOf(err) == Transport
		}),
	)
	if err != nil {
		var rs *retryableStatus
		if errors.As(err, &rs) {
			err = rs.err
		}
		if kind := contextKind(ctx); kind != 0 {
			return "", &Error{Backend: "http", Kind: kind, Err: ctx.Err()}
		}
		return "", err
	}
	return text, nil
}

func (h *HTTP) once(ctx context.Context, body []byte) (string, error) {
	endpoint := h.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", h.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &Error{Backend: "http", Kind: Transport, Err: err}
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			slog.Debug("Failed to drain response body", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort error detail
		e := &Error{Backend: "http", Kind: HTTPStatus, StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(snippet))}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return "", &retryableStatus{err: e}
		}
		return "", e
	}

	var parsed messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &Error{Backend: "http", Kind: Transport, Detail: "undecodable response", Err: err}
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", &Error{Backend: "http", Kind: Empty}
	}
	return out, nil
}
