// Package github collects repository activity from the GitHub REST and GraphQL APIs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultBaseURL     = "https://api.github.com"
	defaultHTTPTimeout = 30 * time.Second
)

// Client handles all GitHub API interactions.
type Client struct {
	tokenExpiry       time.Time
	installExpiry     time.Time
	httpClient        HTTPDoer
	baseURL           string
	graphQLURL        string
	appID             string
	token             string
	installToken      string
	privateKeyPath    string
	org               string
	privateKeyContent []byte
	retryAttempts     uint
	retryDelay        time.Duration
	tokenMutex        sync.RWMutex
	isAppAuth         bool
}

// Config holds configuration for creating a new GitHub client.
type Config struct {
	HTTPClient  HTTPDoer // nil = net/http client with HTTPTimeout
	BaseURL     string   // empty = https://api.github.com
	GraphQLURL  string   // empty = BaseURL + "/graphql"
	Org         string   // organization whose installation token is used under App auth
	AppID       string
	AppKey      string // PEM content; takes precedence over AppKeyPath
	AppKeyPath  string
	Token       string // personal access token; empty = `gh auth token`
	HTTPTimeout time.Duration
	// RetryAttempts bounds retries on 429/5xx; zero uses the default.
	RetryAttempts uint
	RetryDelay    time.Duration
}

// New creates a new GitHub API client using GitHub App or personal token authentication.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}

	var (
		c   *Client
		err error
	)
	if cfg.AppID != "" {
		c, err = newAppAuthClient(cfg)
	} else {
		c, err = newPersonalTokenClient(ctx, cfg.Token)
	}
	if err != nil {
		return nil, err
	}

	c.httpClient = cfg.HTTPClient
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	c.baseURL = strings.TrimRight(cfg.BaseURL, "/")
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	c.graphQLURL = cfg.GraphQLURL
	if c.graphQLURL == "" {
		c.graphQLURL = c.baseURL + "/graphql"
	}
	c.org = cfg.Org
	c.retryAttempts = cfg.RetryAttempts
	if c.retryAttempts == 0 {
		c.retryAttempts = maxRetryAttempts
	}
	c.retryDelay = cfg.RetryDelay
	if c.retryDelay == 0 {
		c.retryDelay = initialRetryDelay
	}
	return c, nil
}

// drainAndCloseBody drains and closes an HTTP response body to prevent resource leaks.
func drainAndCloseBody(body io.ReadCloser) {
	if _, err := io.Copy(io.Discard, body); err != nil {
		slog.Warn("Failed to drain response body", "error", err)
	}
	if err := body.Close(); err != nil {
		slog.Warn("Failed to close response body", "error", err)
	}
}

// doRequest makes an HTTP request to the GitHub API with retry logic.
func (c *Client) doRequest(ctx context.Context, method, apiURL string, body any) (*http.Response, error) {
	authToken, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	sanitizedURL := sanitizeURLForLogging(apiURL)
	slog.DebugContext(ctx, "HTTP request", "component", "github", "method", method, "url", sanitizedURL)

	var resp *http.Response
	err = c.retryWithBackoff(ctx, fmt.Sprintf("%s %s", method, sanitizedURL), func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyBytes, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyReader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, apiURL, bodyReader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if c.isAppAuth {
			req.Header.Set("Authorization", "Bearer "+authToken)
		} else {
			req.Header.Set("Authorization", "token "+authToken)
		}
		req.Header.Set("Accept", "application/vnd.github.v3+json")
		if method == http.MethodPatch || method == http.MethodPost || method == http.MethodPut {
			req.Header.Set("Content-Type", "application/json")
		}

		localResp, err := c.httpClient.Do(req) //nolint:bodyclose // body is closed via defer or passed to caller
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if localResp.StatusCode == http.StatusTooManyRequests {
			drainAndCloseBody(localResp.Body)
			slog.WarnContext(ctx, "Rate limited - will retry with backoff", "component", "github", "url", sanitizedURL)
			return fmt.Errorf("http %d: rate limited", localResp.StatusCode)
		}

		if localResp.StatusCode >= http.StatusInternalServerError && localResp.StatusCode < 600 {
			drainAndCloseBody(localResp.Body)
			slog.WarnContext(ctx, "Server error - will retry with backoff", "component", "github", "url", sanitizedURL, "status", localResp.StatusCode)
			return fmt.Errorf("http %d: server error", localResp.StatusCode)
		}

		resp = localResp
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "HTTP response", "component", "github", "method", method, "url", sanitizedURL, "status", resp.StatusCode)
	return resp, nil
}

// getJSON performs a GET and decodes a 200 response into v.
func (c *Client) getJSON(ctx context.Context, apiURL string, v any) error {
	resp, err := c.doRequest(ctx, http.MethodGet, apiURL, nil) //nolint:bodyclose // closed by drainAndCloseBody
	if err != nil {
		return err
	}
	defer drainAndCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return &StatusError{URL: sanitizeURLForLogging(apiURL), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", sanitizeURLForLogging(apiURL), err)
	}
	return nil
}

// StatusError reports a non-200 GitHub API response.
type StatusError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github %s: status %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Retry constants.
const (
	maxRetryAttempts  = 5
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// retryWithBackoff executes a function with exponential backoff using the codeGROOVE retry library.
func (c *Client) retryWithBackoff(ctx context.Context, operation string, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "retry", "operation", operation, "attempt", n+1, "max_attempts", c.retryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
	)
}

// isRetryable reports whether err looks transient: rate limits, server errors and network issues.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limited") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary failure") ||
		strings.Contains(errStr, "EOF")
}

// sanitizeURLForLogging strips the query string, which may carry cursors or tokens.
func sanitizeURLForLogging(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
