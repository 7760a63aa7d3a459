package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/collab"
	"github.com/codeGROOVE-dev/daily-digest/pkg/github"
)

// repoServer serves one repository whose branch list can grow between fetches.
func repoServer(t *testing.T, withFeature *atomic.Bool) *httptest.Server {
	t.Helper()
	commitAt := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/repos/acme/api/branches":
			if withFeature.Load() {
				_, _ = w.Write([]byte(`[{"name":"main"},{"name":"feature/login"}]`))
				return
			}
			_, _ = w.Write([]byte(`[{"name":"main"}]`))
		case "/repos/acme/api/commits":
			sha := "m1"
			if r.URL.Query().Get("sha") == "feature/login" {
				sha = "f1"
			}
			fmt.Fprintf(w, `[{"sha":%q,"author":{"login":"alice"},"commit":{"message":"work on %s","committer":{"date":%q}}}]`,
				sha, r.URL.Query().Get("sha"), commitAt)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSnapshotLoader_NewBranchSeenAfterInvalidate(t *testing.T) {
	var withFeature atomic.Bool
	srv := repoServer(t, &withFeature)

	client, err := github.New(context.Background(), github.Config{
		HTTPClient:    srv.Client(),
		BaseURL:       srv.URL,
		Token:         "ghp_" + strings.Repeat("a", 36),
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	if err != nil {
		t.Fatalf("github.New() error = %v", err)
	}
	sources := []aggregate.Source{github.NewConnector(client, github.ConnectorConfig{Repos: []string{"acme/api"}})}
	cache := collab.NewCache(snapshotLoader(sources, 24*time.Hour, authors.New(nil), nil), collab.CacheConfig{TTL: time.Hour})

	first, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if n := len(first.Snapshot.Commits()); n != 1 {
		t.Fatalf("expected 1 commit before the branch exists, got %d", n)
	}

	withFeature.Store(true)
	cache.Invalidate()

	second, err := cache.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	commits := second.Snapshot.Commits()
	if len(commits) != 2 {
		t.Fatalf("expected commits from both branches after invalidation, got %d", len(commits))
	}
	if !strings.Contains(second.Rendered, "feature/login") {
		t.Errorf("expected rendered text to mention the new branch commit, got:\n%s", second.Rendered)
	}
}
