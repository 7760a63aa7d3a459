package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateGraphQLVariables(t *testing.T) {
	tests := []struct {
		name      string
		variables map[string]any
		wantErr   bool
	}{
		{"nil variables", nil, false},
		{"valid org", map[string]any{"org": "acme", "cursor": nil}, false},
		{"valid int", map[string]any{"number": 123}, false},
		{"invalid character in key", map[string]any{"key{with}braces": "value"}, true},
		{"introspection attempt", map[string]any{"query": "__schema"}, true},
		{"too long string value", map[string]any{"data": strings.Repeat("a", 10001)}, true},
		{"org with path traversal", map[string]any{"org": "../etc/passwd"}, true},
		{"empty org", map[string]any{"org": ""}, true},
		{"negative number", map[string]any{"count": -1}, true},
		{"number too large", map[string]any{"count": 1000001}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGraphQLVariables(tt.variables)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateGraphQLVariables() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractGraphQLQueryType(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{orgRepositoriesQuery, "organization-repositories"},
		{`query { repository(owner: "a", name: "b") { name } }`, "repository-query"},
		{"{ viewer { login } }", "unknown-graphql"},
		{"", "unknown-graphql"},
	}
	for _, tt := range tests {
		if got := extractGraphQLQueryType(tt.query); got != tt.want {
			t.Errorf("extractGraphQLQueryType(%.30q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}

func TestRepositories_FollowsCursor(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Variables["cursor"] == nil {
			_, _ = w.Write([]byte(`{"data":{"organization":{"repositories":{
				"pageInfo":{"hasNextPage":true,"endCursor":"c1"},
				"nodes":[{"name":"api","isFork":false},{"name":"forked","isFork":true}]}}}}`))
			return
		}
		if req.Variables["cursor"] != "c1" {
			t.Errorf("unexpected cursor %v", req.Variables["cursor"])
		}
		_, _ = w.Write([]byte(`{"data":{"organization":{"repositories":{
			"pageInfo":{"hasNextPage":false,"endCursor":""},
			"nodes":[{"name":"web","isFork":false}]}}}}`))
	}))
	defer server.Close()

	c := &Client{
		token:         "t",
		httpClient:    server.Client(),
		baseURL:       server.URL,
		graphQLURL:    server.URL + "/graphql",
		retryAttempts: 1,
		retryDelay:    time.Millisecond,
	}

	repos, err := c.Repositories(context.Background(), "acme")
	if err != nil {
		t.Fatalf("Repositories() error = %v", err)
	}
	if strings.Join(repos, ",") != "api,web" {
		t.Errorf("expected forks skipped across pages, got %v", repos)
	}

	if _, err := c.Repositories(context.Background(), "acme"); err != nil {
		t.Fatalf("second Repositories() error = %v", err)
	}
	if n := calls.Load(); n != 4 {
		t.Errorf("expected each listing to be read fresh (4 GraphQL calls), got %d", n)
	}
}

func TestMakeGraphQLRequest_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"Could not resolve to an Organization"}]}`))
	}))
	defer server.Close()

	c := &Client{token: "t", httpClient: server.Client(), graphQLURL: server.URL, retryAttempts: 1, retryDelay: time.Millisecond}
	if _, err := c.MakeGraphQLRequest(context.Background(), orgRepositoriesQuery, map[string]any{"org": "nope"}); err == nil {
		t.Fatal("expected error for GraphQL errors payload")
	}
}
