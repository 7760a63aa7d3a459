package collab

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/metrics"
	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
)

const (
	defaultAnswerTimeout = 5 * time.Minute
	failureReply         = "Sorry, I couldn't answer that right now. Please try again in a few minutes."
	emptyQuestionReply   = "Ask me about recent activity, for example: what shipped yesterday?"
)

// Answerer answers one question; *pipeline.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, q pipeline.Question) (string, error)
}

// Replier posts a threaded reply; *deliver.ThreadReplier satisfies it.
type Replier interface {
	Reply(ctx context.Context, channel, threadTS, text string) error
}

// Mention is one question addressed to the bot.
type Mention struct {
	Channel  string
	ThreadTS string // root of the conversation; replies go here
	User     string
	Text     string
}

// Collaborator answers mentions from cached activity.
type Collaborator struct {
	Cache    *Cache
	Answerer Answerer
	Replier  Replier
	Context  *ProjectContext
	Metrics  *metrics.Metrics
	Authors  authors.Map
	Now      func() time.Time
	// Timeout bounds one mention end to end; zero = 5m.
	Timeout time.Duration

	wg sync.WaitGroup
}

var mentionToken = regexp.MustCompile(`<@[A-Z0-9]+>`)

// cleanQuestion strips user-mention tokens from the message text.
func cleanQuestion(text string) string {
	return strings.Join(strings.Fields(mentionToken.ReplaceAllString(text, " ")), " ")
}

// Dispatch handles m in its own goroutine and returns immediately.
func (c *Collaborator) Dispatch(ctx context.Context, m Mention) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Mention handler panic", "component", "collab", "panic", r)
			}
		}()
		if err := c.Handle(context.WithoutCancel(ctx), m); err != nil {
			slog.WarnContext(ctx, "Failed to handle mention", "component", "collab", "channel", m.Channel, "error", err)
		}
	}()
}

// Wait blocks until every dispatched mention is finished.
func (c *Collaborator) Wait() { c.wg.Wait() }

// Handle answers one mention and posts the reply in its thread. When no activity can be
// loaded the question is still answered, and the prompt says nothing is cached.
func (c *Collaborator) Handle(ctx context.Context, m Mention) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultAnswerTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	question := cleanQuestion(m.Text)
	if question == "" {
		return c.Replier.Reply(ctx, m.Channel, m.ThreadTS, emptyQuestionReply)
	}

	q := pipeline.Question{Text: question, Authors: c.Authors}
	if c.Now != nil {
		q.Now = c.Now()
	}
	if c.Context != nil {
		q.ProjectDescription = c.Context.Get()
	}
	if c.Cache != nil {
		entry, err := c.Cache.Get(ctx)
		if err != nil {
			slog.WarnContext(ctx, "No cached activity available, answering without it", "component", "collab", "error", err)
			entry = c.Cache.Current()
		}
		if entry != nil {
			q.Rendered = entry.Rendered
			q.LastReport = entry.LastReport
		}
	}

	answer, err := c.Answerer.Answer(ctx, q)
	if err != nil {
		c.Metrics.QuestionAnswered("error")
		slog.WarnContext(ctx, "Answer failed", "component", "collab", "user", m.User, "error", err)
		if replyErr := c.Replier.Reply(ctx, m.Channel, m.ThreadTS, failureReply); replyErr != nil {
			return errors.Join(err, replyErr)
		}
		return err
	}
	c.Metrics.QuestionAnswered("ok")
	return c.Replier.Reply(ctx, m.Channel, m.ThreadTS, answer)
}
