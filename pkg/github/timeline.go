package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// TimelineFetcher returns the full event timeline of one pull request as seen at referenceTime.
// The result is decoded through its JSON form, so any client with the same shape fits.
type TimelineFetcher interface {
	PullRequestWithReferenceTime(ctx context.Context, owner, repo string, prNumber int, referenceTime time.Time) (any, error)
}

type timelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Actor     string    `json:"actor"`
	Outcome   string    `json:"outcome"`
	Body      string    `json:"body"`
}

type timeline struct {
	PullRequest *struct {
		HTMLURL string `json:"html_url"`
	} `json:"pull_request"`
	Events []timelineEvent `json:"events"`
}

// Timeline event kinds that carry reviews and comments.
const (
	kindReview        = "review"
	kindComment       = "comment"
	kindReviewComment = "review_comment"
)

// prTimeline reads reviews and comments of one pull request from its timeline.
func (c *Connector) prTimeline(ctx context.Context, r repoRef, number int, w types.Window) ([]types.Review, []types.Comment, error) {
	raw, err := c.cfg.Timeline.PullRequestWithReferenceTime(ctx, r.owner, r.name, number, w.Until)
	if err != nil {
		return nil, nil, err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode timeline: %w", err)
	}
	var tl timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, nil, fmt.Errorf("failed to decode timeline: %w", err)
	}
	if tl.PullRequest == nil {
		return nil, nil, fmt.Errorf("timeline of %s#%d carried no pull request", r, number)
	}

	var reviews []types.Review
	var comments []types.Comment
	for _, e := range tl.Events {
		switch e.Kind {
		case kindReview:
			reviews = append(reviews, types.Review{
				Timestamp: e.Timestamp,
				Container: r.name,
				Actor:     types.ActorOrUnknown(e.Actor),
				State:     strings.ToUpper(e.Outcome),
				Excerpt:   types.Excerpt(e.Body, excerptLength),
				URL:       tl.PullRequest.HTMLURL,
				PRNumber:  number,
			})
		case kindComment, kindReviewComment:
			kind := "issue"
			if e.Kind == kindReviewComment {
				kind = "review"
			}
			comments = append(comments, types.Comment{
				Timestamp: e.Timestamp,
				Container: r.name,
				Actor:     types.ActorOrUnknown(e.Actor),
				Excerpt:   types.Excerpt(e.Body, excerptLength),
				Kind:      kind,
				URL:       tl.PullRequest.HTMLURL,
				Target:    number,
			})
		}
	}
	return reviews, comments, nil
}
