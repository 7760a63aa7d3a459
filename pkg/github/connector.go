package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

const defaultRepoConcurrency = 4

// ConnectorConfig selects which repositories are read and how.
type ConnectorConfig struct {
	Org   string
	Repos []string // "name" or "owner/name"; empty = every active repository of Org
	// ExcludeBots drops records authored by automation accounts.
	ExcludeBots bool
	Concurrency int
	// Timeline, when set, serves reviews and comments of touched pull requests in one call
	// each. A failing timeline falls back to the REST listings.
	Timeline TimelineFetcher
}

// Connector collects one window of repository activity.
type Connector struct {
	api API
	cfg ConnectorConfig
}

// NewConnector returns a connector reading through api.
func NewConnector(api API, cfg ConnectorConfig) *Connector {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultRepoConcurrency
	}
	return &Connector{api: api, cfg: cfg}
}

// Name identifies the source in logs and metrics.
func (*Connector) Name() string { return "github" }

// Mandatory reports whether a failure of this source fails the run.
func (*Connector) Mandatory() bool { return false }

type repoRef struct {
	owner string
	name  string
}

func (r repoRef) String() string { return r.owner + "/" + r.name }

// Fetch reads every repository concurrently. A failing repository is logged and skipped;
// the fetch fails only when no repository could be read.
func (c *Connector) Fetch(ctx context.Context, w types.Window) (*types.Batch, error) {
	repos, err := c.repositories(ctx)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		slog.WarnContext(ctx, "No repositories to read", "component", "github", "org", c.cfg.Org)
		return &types.Batch{Source: c.Name()}, nil
	}

	start := time.Now()
	batches := make([]*types.Batch, len(repos))
	failures := make([]error, len(repos))

	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for i, repo := range repos {
		g.Go(func() error {
			b, err := c.fetchRepo(ctx, repo, w)
			if IsNotFound(err) {
				slog.InfoContext(ctx, "Repository not found, skipping", "component", "github", "repo", repo.String())
				batches[i] = &types.Batch{Source: c.Name()}
				return nil
			}
			if err != nil {
				slog.WarnContext(ctx, "Skipping repository after fetch failure", "component", "github", "repo", repo.String(), "error", err)
				failures[i] = fmt.Errorf("%s: %w", repo, err)
				return nil
			}
			batches[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &types.Batch{Source: c.Name()}
	failed := 0
	for i := range repos {
		if failures[i] != nil {
			failed++
			continue
		}
		out.Merge(batches[i])
	}
	if failed == len(repos) {
		return nil, fmt.Errorf("all %d repositories failed: %w", failed, errors.Join(failures...))
	}
	if c.cfg.ExcludeBots {
		dropBots(out)
	}

	slog.InfoContext(ctx, "Collected repository activity", "component", "github",
		"repos", len(repos), "failed", failed, "commits", len(out.Commits), "pull_requests", len(out.PullRequests),
		"comments", len(out.Comments), "duration", time.Since(start))
	return out, nil
}

func (c *Connector) repositories(ctx context.Context) ([]repoRef, error) {
	names := c.cfg.Repos
	if len(names) == 0 {
		if c.cfg.Org == "" {
			return nil, errors.New("no organization or repositories configured")
		}
		listed, err := c.api.Repositories(ctx, c.cfg.Org)
		if err != nil {
			return nil, err
		}
		names = listed
	}

	refs := make([]repoRef, 0, len(names))
	for _, name := range names {
		owner, repo, found := strings.Cut(name, "/")
		if !found {
			owner, repo = c.cfg.Org, name
		}
		if owner == "" || repo == "" {
			return nil, fmt.Errorf("invalid repository %q", name)
		}
		refs = append(refs, repoRef{owner: owner, name: repo})
	}
	return refs, nil
}

// fetchRepo reads one repository. Branch, pull request and issue listings are required;
// per-item and feed listings degrade to a warning.
func (c *Connector) fetchRepo(ctx context.Context, r repoRef, w types.Window) (*types.Batch, error) {
	b := &types.Batch{Source: c.Name()}

	branches, err := c.api.Branches(ctx, r.owner, r.name)
	if err != nil {
		return nil, err
	}
	for _, branch := range branches {
		commits, err := c.api.Commits(ctx, r.owner, r.name, branch, w)
		if err != nil {
			slog.WarnContext(ctx, "Failed to list branch commits", "component", "github", "repo", r.String(), "branch", branch, "error", err)
			continue
		}
		b.Commits = append(b.Commits, commits...)
	}

	prs, err := c.api.PullRequests(ctx, r.owner, r.name, w)
	if err != nil {
		return nil, err
	}
	b.PullRequests = prs

	issues, err := c.api.Issues(ctx, r.owner, r.name, w)
	if err != nil {
		return nil, err
	}
	b.Issues = issues

	// Repository-wide listings overlap with the per-item listings below; the aggregator collapses them.
	if comments, err := c.api.RepoComments(ctx, r.owner, r.name, w.Since); err != nil {
		slog.WarnContext(ctx, "Failed to list repository comments", "component", "github", "repo", r.String(), "error", err)
	} else {
		b.Comments = append(b.Comments, comments...)
	}
	if comments, err := c.api.ReviewComments(ctx, r.owner, r.name, w.Since); err != nil {
		slog.WarnContext(ctx, "Failed to list review comments", "component", "github", "repo", r.String(), "error", err)
	} else {
		b.Comments = append(b.Comments, comments...)
	}

	for i := range prs {
		if !prs[i].TouchedIn(w) {
			continue
		}
		if c.cfg.Timeline != nil {
			reviews, comments, err := c.prTimeline(ctx, r, prs[i].Number, w)
			if err == nil {
				b.Reviews = append(b.Reviews, reviews...)
				b.Comments = append(b.Comments, comments...)
				continue
			}
			slog.WarnContext(ctx, "Pull request timeline unavailable, using listings", "component", "github", "repo", r.String(), "pr", prs[i].Number, "error", err)
		}
		reviews, err := c.api.Reviews(ctx, r.owner, r.name, prs[i].Number)
		if err != nil {
			slog.WarnContext(ctx, "Failed to list reviews", "component", "github", "repo", r.String(), "pr", prs[i].Number, "error", err)
		} else {
			b.Reviews = append(b.Reviews, reviews...)
		}
		c.appendItemComments(ctx, b, r, prs[i].Number)
	}
	for i := range issues {
		if w.Contains(issues[i].Timestamp) {
			c.appendItemComments(ctx, b, r, issues[i].Number)
		}
	}

	if releases, err := c.api.Releases(ctx, r.owner, r.name, w); err != nil {
		slog.WarnContext(ctx, "Failed to list releases", "component", "github", "repo", r.String(), "error", err)
	} else {
		b.Releases = releases
	}

	if branchEvents, memberEvents, err := c.api.Events(ctx, r.owner, r.name, w); err != nil {
		slog.WarnContext(ctx, "Failed to read event feed", "component", "github", "repo", r.String(), "error", err)
	} else {
		b.BranchEvents = branchEvents
		b.MembershipEvents = memberEvents
	}

	slog.DebugContext(ctx, "Fetched repository", "component", "github", "repo", r.String(),
		"branches", len(branches), "commits", len(b.Commits), "pull_requests", len(b.PullRequests), "issues", len(b.Issues))
	return b, nil
}

func (c *Connector) appendItemComments(ctx context.Context, b *types.Batch, r repoRef, number int) {
	comments, err := c.api.ItemComments(ctx, r.owner, r.name, number)
	if err != nil {
		slog.WarnContext(ctx, "Failed to list item comments", "component", "github", "repo", r.String(), "number", number, "error", err)
		return
	}
	b.Comments = append(b.Comments, comments...)
}
