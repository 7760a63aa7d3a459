package github

import (
	"strings"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// botPatterns are login fragments used by automation accounts.
var botPatterns = []string{
	"[bot]",
	"-bot",
	"_bot",
	"bot-",
	"bot_",
	".bot",
	"github-actions",
	"dependabot",
	"renovate",
	"greenkeeper",
	"snyk",
	"codecov",
	"coveralls",
	"mergify",
	"sonarcloud",
	"deepsource",
	"imgbot",
	"allcontributors",
	"octo-sts",
	"-svc",
	"-automation",
}

// IsLikelyBot reports whether a login looks like an automation account.
func IsLikelyBot(login string) bool {
	lower := strings.ToLower(login)
	for _, pattern := range botPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// dropBots removes records whose actor looks like an automation account.
func dropBots(b *types.Batch) {
	b.Commits = keepHumans(b.Commits, func(e *types.Commit) string { return e.Actor })
	b.PullRequests = keepHumans(b.PullRequests, func(e *types.PullRequest) string { return e.Actor })
	b.Reviews = keepHumans(b.Reviews, func(e *types.Review) string { return e.Actor })
	b.Comments = keepHumans(b.Comments, func(e *types.Comment) string { return e.Actor })
	b.Issues = keepHumans(b.Issues, func(e *types.Issue) string { return e.Actor })
	b.Releases = keepHumans(b.Releases, func(e *types.Release) string { return e.Actor })
	b.BranchEvents = keepHumans(b.BranchEvents, func(e *types.BranchEvent) string { return e.Actor })
	b.MembershipEvents = keepHumans(b.MembershipEvents, func(e *types.MembershipEvent) string { return e.Actor })
}

func keepHumans[T any](items []T, actor func(*T) string) []T {
	var out []T
	for i := range items {
		if !IsLikelyBot(actor(&items[i])) {
			out = append(out, items[i])
		}
	}
	return out
}
