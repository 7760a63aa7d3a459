// Package notion reads recently edited pages from a Notion database.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/daily-digest/pkg/cache"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

const (
	// DefaultBaseURL is the Notion public API.
	DefaultBaseURL = "https://api.notion.com"
	apiVersion     = "2022-06-28"

	pageSize          = 100
	maxPages          = 50
	excerptLimit      = 200
	defaultRetries    = 3
	defaultRetryDelay = time.Second
)

// HTTPDoer provides an interface for making HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the document connector.
type Config struct {
	Client        HTTPDoer
	BaseURL       string
	APIKey        string
	DatabaseID    string      // empty disables the connector
	Label         string      // container name shown in the digest; empty = "docs"
	Users         cache.Store // editor names by user ID; nil = in-memory cache with TTLUsers
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Connector collects documents edited during the window.
type Connector struct {
	cfg Config
}

func userKey(id string) string { return "user:" + id }

// NewConnector returns a document connector.
func NewConnector(cfg Config) *Connector {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Label == "" {
		cfg.Label = "docs"
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Users == nil {
		cfg.Users = cache.New(cache.TTLUsers)
	}
	return &Connector{cfg: cfg}
}

// Name identifies the source in logs and metrics.
func (*Connector) Name() string { return "notion" }

// Mandatory reports whether a failure of this source fails the run.
func (*Connector) Mandatory() bool { return false }

type queryRequest struct {
	Filter      filter `json:"filter"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size"`
}

type filter struct {
	Timestamp      string `json:"timestamp"`
	LastEditedTime struct {
		OnOrAfter string `json:"on_or_after"`
	} `json:"last_edited_time"`
}

type richText struct {
	PlainText string `json:"plain_text"`
}

type property struct {
	Type     string     `json:"type"`
	Title    []richText `json:"title"`
	RichText []richText `json:"rich_text"`
}

type page struct {
	LastEditedTime time.Time           `json:"last_edited_time"`
	Properties     map[string]property `json:"properties"`
	LastEditedBy   struct {
		ID string `json:"id"`
	} `json:"last_edited_by"`
	ID  string `json:"id"`
	URL string `json:"url"`
}

type queryResponse struct {
	NextCursor *string `json:"next_cursor"`
	Results    []page  `json:"results"`
	HasMore    bool    `json:"has_more"`
}

type user struct {
	Name string `json:"name"`
}

// Fetch queries the database for pages edited since the window start. A listing that does not
// end within the page limit is an error rather than a partial result. Editors are reported by
// name, falling back to their user ID when the lookup fails.
func (c *Connector) Fetch(ctx context.Context, w types.Window) (*types.Batch, error) {
	b := &types.Batch{Source: c.Name()}
	if c.cfg.DatabaseID == "" {
		slog.InfoContext(ctx, "No database configured, skipping document source", "component", "notion")
		return b, nil
	}
	if c.cfg.APIKey == "" {
		return nil, errors.New("no document API key configured")
	}

	endpoint := c.cfg.BaseURL + "/v1/databases/" + url.PathEscape(c.cfg.DatabaseID) + "/query"
	req := queryRequest{PageSize: pageSize}
	req.Filter.Timestamp = "last_edited_time"
	req.Filter.LastEditedTime.OnOrAfter = w.Since.UTC().Format(time.RFC3339)

	for n := 0; ; n++ {
		var resp queryResponse
		if err := c.call(ctx, http.MethodPost, endpoint, &req, &resp); err != nil {
			return nil, fmt.Errorf("page %d: %w", n+1, err)
		}
		for i := range resp.Results {
			p := &resp.Results[i]
			b.Documents = append(b.Documents, c.document(p, c.editor(ctx, p.LastEditedBy.ID)))
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			slog.InfoContext(ctx, "Collected document activity", "component", "notion", "documents", len(b.Documents), "pages", n+1)
			return b, nil
		}
		if n+1 >= maxPages {
			return nil, fmt.Errorf("database query did not end within %d pages", maxPages)
		}
		req.StartCursor = *resp.NextCursor
	}
}

// editor resolves a user ID to a display name, falling back to the ID when the lookup fails.
func (c *Connector) editor(ctx context.Context, id string) string {
	if id == "" {
		return ""
	}
	if cached, ok := c.cfg.Users.Get(userKey(id)); ok {
		if name, ok := cached.(string); ok {
			return name
		}
	}
	var u user
	if err := c.call(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/users/"+url.PathEscape(id), nil, &u); err != nil {
		slog.DebugContext(ctx, "Failed to look up editor, using user ID", "component", "notion", "user", id, "error", err)
		return id
	}
	name := strings.TrimSpace(u.Name)
	if name == "" {
		name = id
	}
	c.cfg.Users.Set(userKey(id), name)
	return name
}

func (c *Connector) document(p *page, actor string) types.DocumentSummary {
	var title, body string
	for _, name := range slices.Sorted(maps.Keys(p.Properties)) {
		prop := p.Properties[name]
		switch prop.Type {
		case "title":
			title = plain(prop.Title)
		case "rich_text":
			if body == "" {
				body = plain(prop.RichText)
			}
		}
	}
	if title == "" {
		title = "Untitled"
	}
	return types.DocumentSummary{
		Timestamp: p.LastEditedTime,
		Container: c.cfg.Label,
		Actor:     types.ActorOrUnknown(actor),
		Title:     title,
		URL:       p.URL,
		Excerpt:   types.Excerpt(body, excerptLimit),
	}
}

func plain(parts []richText) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

type statusError struct {
	body       string
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.statusCode, e.body)
}

func (e *statusError) retryable() bool {
	return e.statusCode == http.StatusTooManyRequests || e.statusCode >= http.StatusInternalServerError
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// call sends one API request with retries. A nil in sends no body.
func (c *Connector) call(ctx context.Context, method, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}
	return retry.Do(
		func() error { return c.send(ctx, method, endpoint, body, out) },
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.cfg.RetryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "notion", "attempt", n+1, "max_attempts", c.cfg.RetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.retryable()
			}
			var te *transportError
			return errors.As(err, &te)
		}),
	)
}

func (c *Connector) send(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Notion-Version", apiVersion)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close response body", "component", "notion", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		return &statusError{statusCode: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
