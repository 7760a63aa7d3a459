package github

import (
	"context"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// HTTPDoer provides an interface for making HTTP requests.
// This allows us to mock HTTP calls in tests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// API defines the GitHub listings the activity connector reads.
type API interface {
	Repositories(ctx context.Context, org string) ([]string, error)
	Branches(ctx context.Context, owner, repo string) ([]string, error)
	Commits(ctx context.Context, owner, repo, branch string, w types.Window) ([]types.Commit, error)
	PullRequests(ctx context.Context, owner, repo string, w types.Window) ([]types.PullRequest, error)
	Reviews(ctx context.Context, owner, repo string, number int) ([]types.Review, error)
	RepoComments(ctx context.Context, owner, repo string, since time.Time) ([]types.Comment, error)
	ItemComments(ctx context.Context, owner, repo string, number int) ([]types.Comment, error)
	ReviewComments(ctx context.Context, owner, repo string, since time.Time) ([]types.Comment, error)
	Issues(ctx context.Context, owner, repo string, w types.Window) ([]types.Issue, error)
	Releases(ctx context.Context, owner, repo string, w types.Window) ([]types.Release, error)
	Events(ctx context.Context, owner, repo string, w types.Window) ([]types.BranchEvent, []types.MembershipEvent, error)
}

var _ API = (*Client)(nil)
