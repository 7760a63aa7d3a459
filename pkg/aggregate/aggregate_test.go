package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/daily-digest/internal/testutil"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

var (
	now    = time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	window = types.NewWindow(now, 24*time.Hour)
)

func at(hoursAgo float64) time.Time {
	return now.Add(-time.Duration(hoursAgo * float64(time.Hour)))
}

func TestAggregate_CommitDedupAcrossBranches(t *testing.T) {
	b := &types.Batch{Commits: []types.Commit{
		{SHA: "abc", Branch: "main", Container: "api", Actor: "alice", Timestamp: at(2)},
		{SHA: "abc", Branch: "feature/x", Container: "api", Actor: "alice", Timestamp: at(2)},
		{SHA: "def", Branch: "feature/x", Container: "api", Actor: "bob", Timestamp: at(1)},
	}}

	snap := Aggregate([]*types.Batch{b}, window)

	commits := snap.Commits()
	require.Len(t, commits, 2)
	assert.Equal(t, "abc", commits[0].SHA)
	assert.Equal(t, "main", commits[0].Branch, "first-seen record wins")
	assert.Equal(t, 2, snap.Counts().Commits)
}

func TestAggregate_CommentDedupAcrossListings(t *testing.T) {
	ts := at(3)
	repoListing := &types.Batch{Source: "a", Comments: []types.Comment{
		{Container: "api", Actor: "bob", Target: 5, Timestamp: ts, Excerpt: "first"},
	}}
	itemListing := &types.Batch{Source: "b", Comments: []types.Comment{
		{Container: "api", Actor: "bob", Target: 5, Timestamp: ts.In(time.FixedZone("EST", -5*3600)), Excerpt: "second"},
		{Container: "api", Actor: "bob", Target: 6, Timestamp: ts, Excerpt: "other item"},
	}}

	snap := Aggregate([]*types.Batch{repoListing, itemListing}, window)

	comments := snap.Comments()
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Excerpt)
	assert.Equal(t, 6, comments[1].Target)
}

func TestAggregate_WindowBoundaries(t *testing.T) {
	b := &types.Batch{Issues: []types.Issue{
		{Number: 1, Timestamp: window.Since.Add(-time.Nanosecond)},
		{Number: 2, Timestamp: window.Since},
		{Number: 3, Timestamp: window.Until.Add(-time.Nanosecond)},
		{Number: 4, Timestamp: window.Until},
		{Number: 5},
	}}

	snap := Aggregate([]*types.Batch{b}, window)

	var got []int
	for _, i := range snap.Issues() {
		got = append(got, i.Number)
	}
	assert.Equal(t, []int{2, 3}, got)
}

func TestAggregate_PullRequestTouchedInWindow(t *testing.T) {
	b := &types.Batch{PullRequests: []types.PullRequest{
		{Number: 1, CreatedAt: at(24 * 30), MergedAt: at(5)},
		{Number: 2, CreatedAt: at(1)},
		{Number: 3, CreatedAt: at(24 * 30), ClosedAt: at(4)},
		{Number: 4, CreatedAt: at(24 * 30), UpdatedAt: at(1)},
	}}

	snap := Aggregate([]*types.Batch{b}, window)

	var got []int
	for _, pr := range snap.PullRequests() {
		got = append(got, pr.Number)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, got, "updated-only pull requests stay out")
}

func TestAggregate_TicketTouchedIncludesUpdate(t *testing.T) {
	b := &types.Batch{Tickets: []types.Ticket{
		{Identifier: "ENG-1", CreatedAt: at(24 * 10), UpdatedAt: at(2)},
		{Identifier: "ENG-2", CreatedAt: at(24 * 10)},
	}}

	snap := Aggregate([]*types.Batch{b}, window)

	require.Len(t, snap.Tickets(), 1)
	assert.Equal(t, "ENG-1", snap.Tickets()[0].Identifier)
}

func TestAggregate_DeterministicOrder(t *testing.T) {
	batches := []*types.Batch{
		{Reviews: []types.Review{{PRNumber: 1, Timestamp: at(1)}, {PRNumber: 2, Timestamp: at(3)}}},
		{Reviews: []types.Review{{PRNumber: 3, Timestamp: at(3)}, {PRNumber: 4, Timestamp: at(2)}}},
	}

	first := Aggregate(batches, window).Reviews()
	second := Aggregate(batches, window).Reviews()

	assert.Equal(t, first, second)
	var got []int
	for _, r := range first {
		got = append(got, r.PRNumber)
	}
	assert.Equal(t, []int{2, 3, 4, 1}, got, "sorted by time, ties in concatenation order")
}

func TestAggregate_EmptyIsNormal(t *testing.T) {
	snap := Aggregate(nil, window)
	assert.True(t, snap.Empty())
	assert.Zero(t, snap.Total())
	assert.Empty(t, snap.Commits())
}

func TestSnapshot_AccessorsReturnCopies(t *testing.T) {
	b := &types.Batch{Commits: []types.Commit{{SHA: "abc", Timestamp: at(1)}}}
	snap := Aggregate([]*types.Batch{b}, window)

	commits := snap.Commits()
	commits[0].SHA = "mutated"
	b.Commits[0].SHA = "mutated too"

	assert.Equal(t, "abc", snap.Commits()[0].SHA)
}

func TestCollect_OptionalFailureBecomesEmpty(t *testing.T) {
	ok := &testutil.FakeSource{SourceName: "github", Batch: &types.Batch{Commits: []types.Commit{{SHA: "1", Timestamp: at(1)}}}}
	broken := &testutil.FakeSource{SourceName: "notion", Err: errors.New("401 unauthorized")}

	batches, failures, err := Collect(context.Background(), []Source{ok, broken}, window, nil)

	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "github", batches[0].Source)
	assert.Len(t, batches[0].Commits, 1)
	assert.Equal(t, "notion", batches[1].Source)
	assert.Empty(t, batches[1].Commits)
	require.Len(t, failures, 1)
	assert.Equal(t, "notion", failures[0].Source)
	assert.False(t, failures[0].Mandatory)
}

func TestCollect_MandatoryFailureIsFatal(t *testing.T) {
	linear := &testutil.FakeSource{SourceName: "linear", IsMandatory: true, Err: errors.New("graphql: forbidden")}
	slow := &testutil.FakeSource{SourceName: "github", Delay: time.Minute}

	start := time.Now()
	_, _, err := Collect(context.Background(), []Source{linear, slow}, window, nil)

	require.Error(t, err)
	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "linear", se.Source)
	assert.True(t, se.Mandatory)
	assert.Less(t, time.Since(start), 10*time.Second, "other sources are cancelled")
}

func TestBuild_RecordsSourceErrors(t *testing.T) {
	broken := &testutil.FakeSource{SourceName: "notion", Err: errors.New("timeout")}
	ok := &testutil.FakeSource{SourceName: "github", Batch: &types.Batch{Releases: []types.Release{{Tag: "v1", Timestamp: at(1)}}}}

	snap, err := Build(context.Background(), []Source{ok, broken}, window, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, snap.Total())
	require.Len(t, snap.SourceErrors(), 1)
	assert.Equal(t, window, ok.Windows()[0])
}
