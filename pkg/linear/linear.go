// Package linear reads ticket activity from the Linear GraphQL API.
package linear

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

	"github.com/codeGROOVE-dev/retry"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

const (
	// DefaultEndpoint is the Linear GraphQL API.
	DefaultEndpoint = "https://api.linear.app/graphql"

	pageSize          = 50
	maxPages          = 100
	excerptLimit      = 200
	defaultRetries    = 3
	defaultRetryDelay = time.Second
	maxRetryDelay     = 30 * time.Second
)

// HTTPDoer provides an interface for making HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the ticket connector.
type Config struct {
	Client   HTTPDoer // nil = net/http client with a 30s timeout
	Endpoint string   // empty = DefaultEndpoint
	APIKey   string
	TeamID   string // empty disables the connector
	// Required marks the connector mandatory, as the tickets run needs it.
	Required      bool
	RetryAttempts uint
	RetryDelay    time.Duration
}

// Connector collects tickets touched during the window.
type Connector struct {
	cfg Config
}

// NewConnector returns a ticket connector.
func NewConnector(cfg Config) *Connector {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = defaultRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Connector{cfg: cfg}
}

// Name identifies the source in logs and metrics.
func (*Connector) Name() string { return "linear" }

// Mandatory reports whether a failure of this source fails the run.
func (c *Connector) Mandatory() bool { return c.cfg.Required }

const issuesQuery = `query TeamIssues($teamId: ID!, $since: DateTimeOrDuration!, $after: String, $first: Int!) {
  issues(first: $first, after: $after, orderBy: updatedAt, filter: {team: {id: {eq: $teamId}}, updatedAt: {gte: $since}}) {
    nodes {
      identifier
      title
      url
      priorityLabel
      createdAt
      updatedAt
      completedAt
      canceledAt
      state { name }
      assignee { name }
      creator { name }
      team { key }
      id
      comments(first: $first) {
        nodes { body createdAt user { name } }
        pageInfo { hasNextPage endCursor }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const commentsQuery = `query IssueComments($id: String!, $after: String, $first: Int!) {
  issue(id: $id) {
    comments(first: $first, after: $after) {
      nodes { body createdAt user { name } }
      pageInfo { hasNextPage endCursor }
    }
  }
}`

type named struct {
	Name string `json:"name"`
}

type pageInfo struct {
	EndCursor   string `json:"endCursor"`
	HasNextPage bool   `json:"hasNextPage"`
}

// more reports whether another page follows.
func (p pageInfo) more() bool { return p.HasNextPage && p.EndCursor != "" }

type commentNode struct {
	CreatedAt time.Time `json:"createdAt"`
	User      *named    `json:"user"`
	Body      string    `json:"body"`
}

type commentConnection struct {
	Nodes    []commentNode `json:"nodes"`
	PageInfo pageInfo      `json:"pageInfo"`
}

type issueNode struct {
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CanceledAt  *time.Time `json:"canceledAt"`
	State       *named     `json:"state"`
	Assignee    *named     `json:"assignee"`
	Creator     *named     `json:"creator"`
	Team        *struct {
		Key string `json:"key"`
	} `json:"team"`
	ID            string            `json:"id"`
	Identifier    string            `json:"identifier"`
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	PriorityLabel string            `json:"priorityLabel"`
	Comments      commentConnection `json:"comments"`
}

type graphQLErrors []struct {
	Message string `json:"message"`
}

func (e graphQLErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	msgs := make([]string, len(e))
	for i, m := range e {
		msgs[i] = m.Message
	}
	return fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
}

type issuesResponse struct {
	Data *struct {
		Issues struct {
			Nodes    []issueNode `json:"nodes"`
			PageInfo pageInfo    `json:"pageInfo"`
		} `json:"issues"`
	} `json:"data"`
	Errors graphQLErrors `json:"errors"`
}

type commentsResponse struct {
	Data *struct {
		Issue *struct {
			Comments commentConnection `json:"comments"`
		} `json:"issue"`
	} `json:"data"`
	Errors graphQLErrors `json:"errors"`
}

// Fetch pages through every issue of the team updated since the window start, and through every
// comment of each issue. A listing that does not end within the page limit is an error: a partial
// ticket set is never returned as success.
func (c *Connector) Fetch(ctx context.Context, w types.Window) (*types.Batch, error) {
	b := &types.Batch{Source: c.Name()}
	if c.cfg.TeamID == "" {
		slog.InfoContext(ctx, "No team configured, skipping ticket source", "component", "linear")
		return b, nil
	}
	if c.cfg.APIKey == "" {
		return nil, errors.New("no ticket tracker API key configured")
	}

	start := time.Now()
	var cursor string
	for page := 0; ; page++ {
		vars := map[string]any{
			"teamId": c.cfg.TeamID,
			"since":  w.Since.UTC().Format(time.RFC3339),
			"first":  pageSize,
		}
		if cursor != "" {
			vars["after"] = cursor
		}

		var resp issuesResponse
		if err := c.query(ctx, issuesQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("page %d: %w", page+1, err)
		}
		if err := resp.Errors.err(); err != nil {
			return nil, err
		}
		if resp.Data == nil {
			return nil, errors.New("graphql response carried no data")
		}

		for i := range resp.Data.Issues.Nodes {
			n := &resp.Data.Issues.Nodes[i]
			if n.Comments.PageInfo.more() {
				rest, err := c.remainingComments(ctx, n.ID, n.Comments.PageInfo.EndCursor)
				if err != nil {
					return nil, fmt.Errorf("comments of %s: %w", n.Identifier, err)
				}
				n.Comments.Nodes = append(n.Comments.Nodes, rest...)
			}
			appendIssue(b, n)
		}
		info := resp.Data.Issues.PageInfo
		if !info.more() {
			break
		}
		if page+1 >= maxPages {
			return nil, fmt.Errorf("issue listing did not end within %d pages", maxPages)
		}
		cursor = info.EndCursor
	}

	slog.InfoContext(ctx, "Collected ticket activity", "component", "linear",
		"tickets", len(b.Tickets), "comments", len(b.TicketComments), "duration", time.Since(start))
	return b, nil
}

// remainingComments pages the comment connection of one issue from cursor onwards.
func (c *Connector) remainingComments(ctx context.Context, issueID, cursor string) ([]commentNode, error) {
	if issueID == "" {
		return nil, errors.New("issue has more comments but no id")
	}
	var out []commentNode
	for page := 0; ; page++ {
		var resp commentsResponse
		vars := map[string]any{"id": issueID, "after": cursor, "first": pageSize}
		if err := c.query(ctx, commentsQuery, vars, &resp); err != nil {
			return nil, fmt.Errorf("comment page %d: %w", page+2, err)
		}
		if err := resp.Errors.err(); err != nil {
			return nil, err
		}
		if resp.Data == nil || resp.Data.Issue == nil {
			return nil, errors.New("graphql response carried no issue")
		}
		conn := resp.Data.Issue.Comments
		out = append(out, conn.Nodes...)
		if !conn.PageInfo.more() {
			return out, nil
		}
		if page+1 >= maxPages {
			return nil, fmt.Errorf("comment listing did not end within %d pages", maxPages)
		}
		cursor = conn.PageInfo.EndCursor
	}
}

func appendIssue(b *types.Batch, n *issueNode) {
	team := ""
	if n.Team != nil {
		team = n.Team.Key
	}
	t := types.Ticket{
		Identifier: n.Identifier,
		Title:      n.Title,
		URL:        n.URL,
		Priority:   n.PriorityLabel,
		Container:  team,
		CreatedAt:  n.CreatedAt,
		UpdatedAt:  n.UpdatedAt,
		Actor:      types.UnknownActor,
		Assignee:   types.Unassigned,
	}
	if n.CompletedAt != nil {
		t.CompletedAt = *n.CompletedAt
	}
	if n.CanceledAt != nil {
		t.CanceledAt = *n.CanceledAt
	}
	if n.State != nil {
		t.State = n.State.Name
	}
	if n.Creator != nil {
		t.Actor = types.ActorOrUnknown(n.Creator.Name)
	}
	if n.Assignee != nil && n.Assignee.Name != "" {
		t.Assignee = n.Assignee.Name
	}
	b.Tickets = append(b.Tickets, t)

	for _, cm := range n.Comments.Nodes {
		actor := types.UnknownActor
		if cm.User != nil {
			actor = types.ActorOrUnknown(cm.User.Name)
		}
		b.TicketComments = append(b.TicketComments, types.TicketComment{
			Timestamp: cm.CreatedAt,
			Container: team,
			Actor:     actor,
			Ticket:    n.Identifier,
			Excerpt:   types.Excerpt(cm.Body, excerptLimit),
		})
	}
}

// retryableError marks a failure worth another attempt.
type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

func (c *Connector) query(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}

	return retry.Do(
		func() error { return c.post(ctx, body, out) },
		retry.Context(ctx),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.Delay(c.cfg.RetryDelay),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.cfg.RetryDelay/4),
		retry.OnRetry(func(n uint, err error) {
			slog.InfoContext(ctx, "Retry attempt", "component", "linear", "attempt", n+1, "max_attempts", c.cfg.RetryAttempts, "error", err)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var re *retryableError
			return errors.As(err, &re)
		}),
	)
}

func (c *Connector) post(ctx context.Context, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Personal API keys are sent bare; OAuth tokens carry their own scheme.
	req.Header.Set("Authorization", c.cfg.APIKey)

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer func() {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			slog.Debug("Failed to drain response body", "component", "linear", "error", err)
		}
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close response body", "component", "linear", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // best-effort error detail
		err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return &retryableError{err: err}
		}
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
