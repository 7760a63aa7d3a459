// Package setup turns a loaded configuration into sources, generators and delivery channels.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/prx/pkg/prx"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/config"
	"github.com/codeGROOVE-dev/daily-digest/pkg/deliver"
	"github.com/codeGROOVE-dev/daily-digest/pkg/github"
	"github.com/codeGROOVE-dev/daily-digest/pkg/linear"
	"github.com/codeGROOVE-dev/daily-digest/pkg/llm"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/notion"
	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
)

// GitHubClient creates the repository API client.
func GitHubClient(ctx context.Context, cfg *config.Config) (*github.Client, error) {
	client, err := github.New(ctx, github.Config{
		Org:         cfg.GitHub.Org,
		AppID:       cfg.GitHub.AppID,
		AppKey:      cfg.Credentials.GitHubAppKey,
		AppKeyPath:  cfg.GitHub.AppKeyPath,
		Token:       cfg.Credentials.GitHubToken,
		HTTPTimeout: cfg.Timeouts.HTTP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return client, nil
}

// Sources returns the connectors for a run. The ticket run reads only the ticket tracker,
// which then becomes mandatory. gh may be nil for the ticket run.
func Sources(cfg *config.Config, gh github.API, tickets bool) []aggregate.Source {
	httpClient := &http.Client{Timeout: cfg.Timeouts.HTTP}
	ticketSource := linear.NewConnector(linear.Config{
		Client:   httpClient,
		Endpoint: cfg.Linear.Endpoint,
		APIKey:   cfg.Credentials.LinearAPIKey,
		TeamID:   cfg.Linear.TeamID,
		Required: tickets,
	})
	if tickets {
		return []aggregate.Source{ticketSource}
	}

	var sources []aggregate.Source
	if gh != nil {
		gcfg := github.ConnectorConfig{
			Org:         cfg.GitHub.Org,
			Repos:       cfg.GitHub.Repos,
			ExcludeBots: cfg.GitHub.ExcludeBots,
			Concurrency: cfg.GitHub.Concurrency,
		}
		if tp, ok := gh.(tokenProvider); ok && cfg.GitHub.PRTimeline {
			gcfg.Timeline = &prTimelines{tokens: tp.Token}
		}
		sources = append(sources, github.NewConnector(gh, gcfg))
	}
	if cfg.Linear.TeamID != "" {
		sources = append(sources, ticketSource)
	}
	if cfg.Notion.DatabaseID != "" {
		sources = append(sources, notion.NewConnector(notion.Config{
			Client:     httpClient,
			APIKey:     cfg.Credentials.NotionAPIKey,
			DatabaseID: cfg.Notion.DatabaseID,
			Label:      cfg.Notion.Label,
		}))
	}
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	slog.Debug("Configured sources", "component", "setup", "sources", names)
	return sources
}

type tokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// prTimelines reads pull request timelines through prx. A client is built per call with the
// current token, since installation tokens expire while the bot runs.
type prTimelines struct {
	tokens func(ctx context.Context) (string, error)
}

func (p *prTimelines) PullRequestWithReferenceTime(ctx context.Context, owner, repo string, prNumber int, referenceTime time.Time) (any, error) {
	token, err := p.tokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token for timeline: %w", err)
	}
	client := prx.NewClient(token, prx.WithLogger(slog.Default()))
	return client.PullRequestWithReferenceTime(ctx, owner, repo, prNumber, referenceTime)
}

// Pipeline builds the two-stage summarizer.
func Pipeline(cfg *config.Config, m *metrics.Metrics) *pipeline.Pipeline {
	p := &pipeline.Pipeline{
		Formatter: &llm.Command{Line: cfg.FormatterCommand},
		Metrics:   m,
		Timeout:   cfg.Timeouts.Stage,
	}
	switch {
	case cfg.Structurer.Command != "":
		p.Structurer = &llm.Command{Line: cfg.Structurer.Command}
	case cfg.Structurer.Model != "":
		p.Structurer = &llm.HTTP{
			Client:   &http.Client{Timeout: cfg.Timeouts.Stage},
			Endpoint: cfg.Structurer.Endpoint,
			Model:    cfg.Structurer.Model,
			APIKey:   cfg.Credentials.StructurerKey,
		}
	}
	return p
}

// Webhook returns the scheduled report channel.
func Webhook(cfg *config.Config) *deliver.Webhook {
	return &deliver.Webhook{URL: cfg.WebhookURL, Client: &http.Client{Timeout: cfg.Timeouts.HTTP}}
}

// Replier returns the thread-reply channel for the collaborator.
func Replier(cfg *config.Config) *deliver.ThreadReplier {
	return &deliver.ThreadReplier{
		APIURL: cfg.Chat.APIURL,
		Token:  cfg.Credentials.ChatBotToken,
		Client: &http.Client{Timeout: cfg.Timeouts.HTTP},
	}
}

// Kind maps the tickets flag to a run kind.
func Kind(tickets bool) pipeline.RunKind {
	if tickets {
		return pipeline.TicketRun
	}
	return pipeline.ActivityRun
}
