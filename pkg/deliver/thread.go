package deliver

import (
	"context"
	"errors"
	"strings"
)

// DefaultChatAPI is the message-posting endpoint of the chat service.
const DefaultChatAPI = "https://slack.com/api/chat.postMessage"

// ThreadReplier posts replies inside a conversation thread.
type ThreadReplier struct {
	Client HTTPDoer
	APIURL string // empty = DefaultChatAPI
	Token  string
}

// Reply posts text as a reply to the thread rooted at threadTS in channel.
func (t *ThreadReplier) Reply(ctx context.Context, channel, threadTS, text string) error {
	if t.Token == "" {
		return errors.New("no chat bot token configured")
	}
	if channel == "" {
		return errors.New("reply needs a channel")
	}
	apiURL := strings.TrimSpace(t.APIURL)
	if apiURL == "" {
		apiURL = DefaultChatAPI
	}
	client := t.Client
	if client == nil {
		client = (&Webhook{}).client()
	}
	payload := map[string]string{"channel": channel, "text": text}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	return post(ctx, client, apiURL, t.Token, payload)
}
