// Package deliver posts finished text to the output channel.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// HTTPDoer provides an interface for making HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError reports a non-2xx answer from the channel.
type StatusError struct {
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery rejected with status %d: %s", e.StatusCode, e.Body)
}

// Deliverer sends one report.
type Deliverer interface {
	Deliver(ctx context.Context, text string) error
}

// Webhook posts {"text": ...} to an incoming-webhook URL. Deliveries are never retried.
type Webhook struct {
	Client HTTPDoer // nil = net/http client with a 30s timeout
	URL    string
}

// Deliver posts text once. Any status outside 2xx is a *StatusError.
func (w *Webhook) Deliver(ctx context.Context, text string) error {
	if w.URL == "" {
		return errors.New("no webhook URL configured")
	}
	return post(ctx, w.client(), w.URL, "", map[string]string{"text": text})
}

func (w *Webhook) client() HTTPDoer {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: defaultTimeout}
}

// post sends one JSON body and classifies the response.
func post(ctx context.Context, client HTTPDoer, url, bearer string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delivery request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close response body", "component", "deliver", "error", err)
		}
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		slog.WarnContext(ctx, "Failed to read delivery response", "component", "deliver", "error", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	slog.InfoContext(ctx, "Delivered message", "component", "deliver", "status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))
	return checkChatEnvelope(respBody)
}

// checkChatEnvelope rejects 200 responses that carry {"ok": false}, as chat APIs report
// application errors that way.
func checkChatEnvelope(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil || env.OK == nil || *env.OK {
		return nil //nolint:nilerr // not an envelope; the status already said success
	}
	return fmt.Errorf("chat API error: %s", env.Error)
}
