package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/daily-digest/pkg/pipeline"
)

type fakeAnswerer struct {
	answer    string
	err       error
	mu        sync.Mutex
	questions []pipeline.Question
}

func (f *fakeAnswerer) Answer(_ context.Context, q pipeline.Question) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questions = append(f.questions, q)
	return f.answer, f.err
}

type reply struct {
	channel, thread, text string
}

type fakeReplier struct {
	err     error
	mu      sync.Mutex
	replies []reply
}

func (f *fakeReplier) Reply(_ context.Context, channel, thread, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, reply{channel, thread, text})
	return f.err
}

func (f *fakeReplier) all() []reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reply(nil), f.replies...)
}

func TestHandle_AnswersFromCache(t *testing.T) {
	l := &countingLoader{}
	cache := NewCache(l.load, CacheConfig{})
	cache.SetReport("Daily digest for 2025-03-10")
	ans := &fakeAnswerer{answer: "Alice pushed abc."}
	rep := &fakeReplier{}
	c := &Collaborator{Cache: cache, Answerer: ans, Replier: rep, Context: NewProjectContext("Billing service")}

	err := c.Handle(context.Background(), Mention{Channel: "C1", ThreadTS: "1.1", User: "U9", Text: "<@U123BOT> what did   alice do?"})
	require.NoError(t, err)

	require.Len(t, ans.questions, 1)
	q := ans.questions[0]
	assert.Equal(t, "what did alice do?", q.Text)
	assert.Contains(t, q.Rendered, "COMMITS:")
	assert.Equal(t, "Daily digest for 2025-03-10", q.LastReport)
	assert.Equal(t, "Billing service", q.ProjectDescription)
	assert.Equal(t, []reply{{"C1", "1.1", "Alice pushed abc."}}, rep.all())
}

func TestHandle_NoCachedActivity(t *testing.T) {
	cache := NewCache((&countingLoader{err: errors.New("down")}).load, CacheConfig{})
	ans := &fakeAnswerer{answer: "I don't have enough data to answer that."}
	rep := &fakeReplier{}
	c := &Collaborator{Cache: cache, Answerer: ans, Replier: rep}

	require.NoError(t, c.Handle(context.Background(), Mention{Channel: "C1", ThreadTS: "1.1", Text: "anything new?"}))
	require.Len(t, ans.questions, 1)
	assert.Empty(t, ans.questions[0].Rendered)
	assert.Len(t, rep.all(), 1)
}

func TestHandle_AnswerFailureRepliesApology(t *testing.T) {
	ans := &fakeAnswerer{err: errors.New("formatter down")}
	rep := &fakeReplier{}
	c := &Collaborator{Answerer: ans, Replier: rep}

	err := c.Handle(context.Background(), Mention{Channel: "C1", ThreadTS: "1.1", Text: "status?"})
	require.Error(t, err)
	replies := rep.all()
	require.Len(t, replies, 1)
	assert.Equal(t, failureReply, replies[0].text)
}

func TestHandle_EmptyQuestion(t *testing.T) {
	ans := &fakeAnswerer{}
	rep := &fakeReplier{}
	c := &Collaborator{Answerer: ans, Replier: rep}

	require.NoError(t, c.Handle(context.Background(), Mention{Channel: "C1", ThreadTS: "1.1", Text: "<@U1>"}))
	assert.Empty(t, ans.questions)
	assert.Equal(t, emptyQuestionReply, rep.all()[0].text)
}

func TestDispatch_ConcurrentMentionsShareOneLoad(t *testing.T) {
	l := &countingLoader{}
	cache := NewCache(l.load, CacheConfig{})
	rep := &fakeReplier{}
	c := &Collaborator{Cache: cache, Answerer: &fakeAnswerer{answer: "ok"}, Replier: rep}

	for range 8 {
		c.Dispatch(context.Background(), Mention{Channel: "C1", ThreadTS: "1.1", Text: "what shipped?"})
	}
	c.Wait()

	assert.Len(t, rep.all(), 8)
	assert.Equal(t, int32(1), l.loads.Load())
}

func TestCleanQuestion(t *testing.T) {
	assert.Equal(t, "hello there", cleanQuestion("<@UABC>  hello\nthere"))
	assert.Equal(t, "", cleanQuestion(" <@U1> "))
}
