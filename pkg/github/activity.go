package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

const (
	perPageLimit  = 100 // GitHub API per_page limit
	excerptLength = 280
	maxEventPages = 10 // the events feed never serves more than 300 events
)

// paginate walks a listing endpoint page by page until the API returns a short page,
// or until visit asks to stop. Every page is decoded into a fresh []T.
func paginate[T any](ctx context.Context, c *Client, endpoint string, query url.Values, visit func([]T) (stop bool)) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("per_page", strconv.Itoa(perPageLimit))

	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))
		var items []T
		if err := c.getJSON(ctx, endpoint+"?"+query.Encode(), &items); err != nil {
			return err
		}
		if visit(items) || len(items) < perPageLimit {
			return nil
		}
	}
}

type ghUser struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

func (u *ghUser) login() string {
	if u == nil {
		return ""
	}
	return u.Login
}

// Branches lists branch names of a repository. The listing is read fresh on every call, so a
// branch pushed since the previous fetch is always seen.
func (c *Client) Branches(ctx context.Context, owner, repo string) ([]string, error) {
	var branches []string
	endpoint := fmt.Sprintf("%s/repos/%s/%s/branches", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, nil, func(page []struct {
		Name string `json:"name"`
	},
	) bool {
		for _, b := range page {
			branches = append(branches, b.Name)
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}

	return branches, nil
}

// Commits lists commits on one branch committed inside the window.
func (c *Client) Commits(ctx context.Context, owner, repo, branch string, w types.Window) ([]types.Commit, error) {
	q := url.Values{}
	q.Set("sha", branch)
	q.Set("since", w.Since.UTC().Format(time.RFC3339))
	q.Set("until", w.Until.UTC().Format(time.RFC3339))

	var commits []types.Commit
	endpoint := fmt.Sprintf("%s/repos/%s/%s/commits", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, q, func(page []struct {
		Author *ghUser `json:"author"`
		Commit struct {
			Author struct {
				Date time.Time `json:"date"`
				Name string    `json:"name"`
			} `json:"author"`
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
			Message string `json:"message"`
		} `json:"commit"`
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	},
	) bool {
		for _, item := range page {
			ts := item.Commit.Committer.Date
			if ts.IsZero() {
				ts = item.Commit.Author.Date
			}
			actor := item.Author.login()
			if actor == "" {
				actor = item.Commit.Author.Name
			}
			commits = append(commits, types.Commit{
				Timestamp: ts,
				Container: repo,
				Actor:     types.ActorOrUnknown(actor),
				SHA:       item.SHA,
				Message:   types.FirstLine(item.Commit.Message),
				Branch:    branch,
				URL:       item.HTMLURL,
			})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits on %s: %w", branch, err)
	}
	return commits, nil
}

// PullRequests lists pull requests updated since the window start, most recently updated first.
// Paging stops at the first pull request last updated before the window: any lifecycle event
// inside the window also bumps updated_at, so nothing older can qualify.
func (c *Client) PullRequests(ctx context.Context, owner, repo string, w types.Window) ([]types.PullRequest, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("sort", "updated")
	q.Set("direction", "desc")

	var prs []types.PullRequest
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, q, func(page []struct {
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
		MergedAt  time.Time `json:"merged_at"`
		ClosedAt  time.Time `json:"closed_at"`
		User      *ghUser   `json:"user"`
		Title     string    `json:"title"`
		State     string    `json:"state"`
		HTMLURL   string    `json:"html_url"`
		Number    int       `json:"number"`
		Draft     bool      `json:"draft"`
	},
	) bool {
		for _, item := range page {
			if item.UpdatedAt.Before(w.Since) {
				return true
			}
			state := item.State
			if !item.MergedAt.IsZero() {
				state = "merged"
			}
			prs = append(prs, types.PullRequest{
				CreatedAt: item.CreatedAt,
				MergedAt:  item.MergedAt,
				ClosedAt:  item.ClosedAt,
				UpdatedAt: item.UpdatedAt,
				Container: repo,
				Actor:     types.ActorOrUnknown(item.User.login()),
				Title:     item.Title,
				State:     state,
				URL:       item.HTMLURL,
				Number:    item.Number,
				Draft:     item.Draft,
			})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	return prs, nil
}

// Reviews lists the submitted reviews of one pull request.
func (c *Client) Reviews(ctx context.Context, owner, repo string, number int) ([]types.Review, error) {
	var reviews []types.Review
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls/%d/reviews", c.baseURL, owner, repo, number)
	err := paginate(ctx, c, endpoint, nil, func(page []struct {
		SubmittedAt time.Time `json:"submitted_at"`
		User        *ghUser   `json:"user"`
		State       string    `json:"state"`
		Body        string    `json:"body"`
		HTMLURL     string    `json:"html_url"`
	},
	) bool {
		for _, item := range page {
			if item.State == "PENDING" {
				continue
			}
			reviews = append(reviews, types.Review{
				Timestamp: item.SubmittedAt,
				Container: repo,
				Actor:     types.ActorOrUnknown(item.User.login()),
				State:     item.State,
				Excerpt:   types.Excerpt(item.Body, excerptLength),
				URL:       item.HTMLURL,
				PRNumber:  number,
			})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for #%d: %w", number, err)
	}
	return reviews, nil
}

type ghComment struct {
	CreatedAt      time.Time `json:"created_at"`
	User           *ghUser   `json:"user"`
	Body           string    `json:"body"`
	HTMLURL        string    `json:"html_url"`
	IssueURL       string    `json:"issue_url"`
	PullRequestURL string    `json:"pull_request_url"`
}

func (gc *ghComment) toComment(repo, kind string, target int) types.Comment {
	return types.Comment{
		Timestamp: gc.CreatedAt,
		Container: repo,
		Actor:     types.ActorOrUnknown(gc.User.login()),
		Excerpt:   types.Excerpt(gc.Body, excerptLength),
		Kind:      kind,
		URL:       gc.HTMLURL,
		Target:    target,
	}
}

// RepoComments lists issue and pull request conversation comments of a repository updated since.
func (c *Client) RepoComments(ctx context.Context, owner, repo string, since time.Time) ([]types.Comment, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("sort", "created")
	q.Set("direction", "asc")

	var comments []types.Comment
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/comments", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, q, func(page []ghComment) bool {
		for i := range page {
			comments = append(comments, page[i].toComment(repo, "issue", trailingNumber(page[i].IssueURL)))
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list repository comments: %w", err)
	}
	return comments, nil
}

// ItemComments lists the conversation comments of one issue or pull request.
func (c *Client) ItemComments(ctx context.Context, owner, repo string, number int) ([]types.Comment, error) {
	var comments []types.Comment
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", c.baseURL, owner, repo, number)
	err := paginate(ctx, c, endpoint, nil, func(page []ghComment) bool {
		for i := range page {
			comments = append(comments, page[i].toComment(repo, "issue", number))
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for #%d: %w", number, err)
	}
	return comments, nil
}

// ReviewComments lists inline review comments of a repository updated since.
func (c *Client) ReviewComments(ctx context.Context, owner, repo string, since time.Time) ([]types.Comment, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339))
	q.Set("sort", "created")
	q.Set("direction", "asc")

	var comments []types.Comment
	endpoint := fmt.Sprintf("%s/repos/%s/%s/pulls/comments", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, q, func(page []ghComment) bool {
		for i := range page {
			comments = append(comments, page[i].toComment(repo, "review", trailingNumber(page[i].PullRequestURL)))
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list review comments: %w", err)
	}
	return comments, nil
}

// Issues lists issues (not pull requests) updated since the window start.
// The event timestamp is the close time when the issue closed inside the window, else its creation time.
func (c *Client) Issues(ctx context.Context, owner, repo string, w types.Window) ([]types.Issue, error) {
	q := url.Values{}
	q.Set("state", "all")
	q.Set("since", w.Since.UTC().Format(time.RFC3339))

	var issues []types.Issue
	endpoint := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, q, func(page []struct {
		CreatedAt   time.Time `json:"created_at"`
		ClosedAt    time.Time `json:"closed_at"`
		User        *ghUser   `json:"user"`
		PullRequest *struct{} `json:"pull_request"`
		Title       string    `json:"title"`
		State       string    `json:"state"`
		HTMLURL     string    `json:"html_url"`
		Number      int       `json:"number"`
	},
	) bool {
		for _, item := range page {
			if item.PullRequest != nil {
				continue
			}
			ts := item.CreatedAt
			if w.Contains(item.ClosedAt) {
				ts = item.ClosedAt
			}
			issues = append(issues, types.Issue{
				Timestamp: ts,
				Container: repo,
				Actor:     types.ActorOrUnknown(item.User.login()),
				Title:     item.Title,
				State:     item.State,
				URL:       item.HTMLURL,
				Number:    item.Number,
			})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// Releases lists published releases, newest first, stopping once a page reaches releases older than the window.
func (c *Client) Releases(ctx context.Context, owner, repo string, w types.Window) ([]types.Release, error) {
	var releases []types.Release
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases", c.baseURL, owner, repo)
	err := paginate(ctx, c, endpoint, nil, func(page []struct {
		PublishedAt time.Time `json:"published_at"`
		CreatedAt   time.Time `json:"created_at"`
		Author      *ghUser   `json:"author"`
		TagName     string    `json:"tag_name"`
		Name        string    `json:"name"`
		HTMLURL     string    `json:"html_url"`
		Draft       bool      `json:"draft"`
		Prerelease  bool      `json:"prerelease"`
	},
	) bool {
		older := 0
		for _, item := range page {
			if item.Draft {
				continue
			}
			if item.CreatedAt.Before(w.Since) {
				older++
			}
			releases = append(releases, types.Release{
				Timestamp:  item.PublishedAt,
				Container:  repo,
				Actor:      types.ActorOrUnknown(item.Author.login()),
				Tag:        item.TagName,
				Name:       item.Name,
				URL:        item.HTMLURL,
				Prerelease: item.Prerelease,
			})
		}
		return len(page) > 0 && older == len(page)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list releases: %w", err)
	}
	return releases, nil
}

// Events reads the repository event feed for branch creation/deletion and membership changes.
func (c *Client) Events(ctx context.Context, owner, repo string, w types.Window) ([]types.BranchEvent, []types.MembershipEvent, error) {
	var branches []types.BranchEvent
	var members []types.MembershipEvent
	endpoint := fmt.Sprintf("%s/repos/%s/%s/events", c.baseURL, owner, repo)

	pages := 0
	err := paginate(ctx, c, endpoint, nil, func(page []struct {
		CreatedAt time.Time `json:"created_at"`
		Actor     *ghUser   `json:"actor"`
		Type      string    `json:"type"`
		Payload   struct {
			Member  *ghUser `json:"member"`
			Ref     string  `json:"ref"`
			RefType string  `json:"ref_type"`
			Action  string  `json:"action"`
		} `json:"payload"`
	},
	) bool {
		pages++
		for _, ev := range page {
			if ev.CreatedAt.Before(w.Since) {
				return true
			}
			actor := types.ActorOrUnknown(ev.Actor.login())
			switch ev.Type {
			case "CreateEvent", "DeleteEvent":
				if ev.Payload.RefType != "branch" {
					continue
				}
				action := "created"
				if ev.Type == "DeleteEvent" {
					action = "deleted"
				}
				branches = append(branches, types.BranchEvent{
					Timestamp: ev.CreatedAt, Container: repo, Actor: actor, Branch: ev.Payload.Ref, Action: action,
				})
			case "MemberEvent":
				members = append(members, types.MembershipEvent{
					Timestamp: ev.CreatedAt, Container: repo, Actor: actor,
					Member: types.ActorOrUnknown(ev.Payload.Member.login()), Action: ev.Payload.Action,
				})
			}
		}
		return pages >= maxEventPages
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read events: %w", err)
	}
	slog.DebugContext(ctx, "Read repository events", "component", "github", "repo", repo, "branch_events", len(branches), "member_events", len(members))
	return branches, members, nil
}

// trailingNumber extracts the issue or pull request number from an API URL such as .../issues/42.
func trailingNumber(apiURL string) int {
	idx := strings.LastIndex(apiURL, "/")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(apiURL[idx+1:])
	if err != nil {
		return 0
	}
	return n
}
