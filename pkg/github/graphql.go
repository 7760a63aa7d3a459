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
	"strings"
	"time"
)

const (
	maxQuerySize        = 100000
	maxGraphQLVarLength = 10000
	maxGraphQLVarNum    = 1000000
	maxGitHubNameLength = 100
)

// MakeGraphQLRequest makes a GraphQL request to GitHub API.
func (c *Client) MakeGraphQLRequest(ctx context.Context, query string, variables map[string]any) (map[string]any, error) {
	if err := validateGraphQLVariables(variables); err != nil {
		return nil, fmt.Errorf("invalid GraphQL variables: %w", err)
	}

	queryType := extractGraphQLQueryType(query)
	if len(query) > maxQuerySize {
		return nil, fmt.Errorf("GraphQL query too large: %d chars (max %d)", len(query), maxQuerySize)
	}

	slog.DebugContext(ctx, "Executing GraphQL query", "component", "github", "type", queryType, "size", len(query))

	bodyBytes, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	authToken, err := c.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	start := time.Now()
	var result map[string]any
	err = c.retryWithBackoff(ctx, "GraphQL "+queryType, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphQLURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create GraphQL request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+authToken)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("graphql request failed: %w", err)
		}
		defer drainAndCloseBody(resp.Body)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("http %d: rate limited", resp.StatusCode)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("http %d: server error", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			slog.ErrorContext(ctx, "GraphQL query failed", "component", "github", "type", queryType, "status", resp.StatusCode, "body", string(body))
			return fmt.Errorf("graphql request failed with status %d: %s", resp.StatusCode, string(body))
		}

		result = nil
		if err := json.Unmarshal(body, &result); err != nil {
			return fmt.Errorf("failed to decode GraphQL response: %w", err)
		}
		if errs, ok := result["errors"]; ok {
			slog.ErrorContext(ctx, "GraphQL query returned errors", "component", "github", "type", queryType, "errors", errs)
			return fmt.Errorf("graphql errors: %v", errs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "GraphQL query completed", "component", "github", "type", queryType, "duration", time.Since(start))
	return result, nil
}

// validateGraphQLVariables validates GraphQL variables to prevent injection.
func validateGraphQLVariables(variables map[string]any) error {
	for key, value := range variables {
		if strings.ContainsAny(key, "{}[]\"'\n\r\t") {
			return fmt.Errorf("invalid character in variable key: %s", key)
		}

		if str, ok := value.(string); ok {
			if strings.Contains(str, "__schema") || strings.Contains(str, "__type") {
				return errors.New("introspection queries not allowed in variables")
			}
			if len(str) > maxGraphQLVarLength {
				return fmt.Errorf("variable value too long: %d chars", len(str))
			}
			if key == "owner" || key == "repo" || key == "org" || key == "login" {
				if strings.ContainsAny(str, "../\\\n\r\x00") || len(str) > maxGitHubNameLength || str == "" {
					return fmt.Errorf("invalid GitHub name in variable %s: %s", key, str)
				}
			}
		}

		if num, ok := value.(int); ok {
			if num < 0 || num > maxGraphQLVarNum {
				return fmt.Errorf("numeric variable out of range: %d", num)
			}
		}
	}
	return nil
}

// extractGraphQLQueryType extracts a descriptive query type from a GraphQL query for logging.
func extractGraphQLQueryType(query string) string {
	switch {
	case strings.Contains(query, "organization(") && strings.Contains(query, "repositories"):
		return "organization-repositories"
	case strings.Contains(query, "user(") && strings.Contains(query, "repositories"):
		return "user-repositories"
	case strings.Contains(query, "repository("):
		return "repository-query"
	default:
		return "unknown-graphql"
	}
}

const orgRepositoriesQuery = `
query($org: String!, $cursor: String) {
	organization(login: $org) {
		repositories(first: 100, after: $cursor, isArchived: false, orderBy: {field: PUSHED_AT, direction: DESC}) {
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes {
				name
				isFork
			}
		}
	}
}`

// Repositories lists the non-archived, non-fork repositories of an organization.
func (c *Client) Repositories(ctx context.Context, org string) ([]string, error) {
	var repos []string
	var cursor any
	for page := 1; ; page++ {
		result, err := c.MakeGraphQLRequest(ctx, orgRepositoriesQuery, map[string]any{"org": org, "cursor": cursor})
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories for %s: %w", org, err)
		}

		var parsed struct {
			Data struct {
				Organization struct {
					Repositories struct {
						PageInfo struct {
							EndCursor   string `json:"endCursor"`
							HasNextPage bool   `json:"hasNextPage"`
						} `json:"pageInfo"`
						Nodes []struct {
							Name   string `json:"name"`
							IsFork bool   `json:"isFork"`
						} `json:"nodes"`
					} `json:"repositories"`
				} `json:"organization"`
			} `json:"data"`
		}
		if err := remarshal(result, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse repository listing: %w", err)
		}

		conn := parsed.Data.Organization.Repositories
		for _, node := range conn.Nodes {
			if node.IsFork {
				continue
			}
			repos = append(repos, node.Name)
		}
		slog.DebugContext(ctx, "Fetched repository page", "component", "github", "org", org, "page", page, "count", len(conn.Nodes))

		if !conn.PageInfo.HasNextPage || conn.PageInfo.EndCursor == "" {
			break
		}
		cursor = conn.PageInfo.EndCursor
	}

	slog.InfoContext(ctx, "Listed organization repositories", "component", "github", "org", org, "count", len(repos))
	return repos, nil
}

// remarshal converts a generic GraphQL result into a typed struct.
func remarshal(in map[string]any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
