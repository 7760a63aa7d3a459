// Package aggregate merges connector output into one deduplicated, window-filtered snapshot.
package aggregate

import (
	"slices"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// Counts holds per-kind event counts of a snapshot.
type Counts struct {
	Commits          int
	PullRequests     int
	Reviews          int
	Comments         int
	Issues           int
	Releases         int
	BranchEvents     int
	MembershipEvents int
	Tickets          int
	TicketComments   int
	Documents        int
}

// Total returns the number of events across all kinds.
func (c Counts) Total() int {
	return c.Commits + c.PullRequests + c.Reviews + c.Comments + c.Issues + c.Releases +
		c.BranchEvents + c.MembershipEvents + c.Tickets + c.TicketComments + c.Documents
}

// ByKind returns the counts keyed by a lowercase kind name.
func (c Counts) ByKind() map[string]int {
	return map[string]int{
		"commits":           c.Commits,
		"pull_requests":     c.PullRequests,
		"reviews":           c.Reviews,
		"comments":          c.Comments,
		"issues":            c.Issues,
		"releases":          c.Releases,
		"branch_events":     c.BranchEvents,
		"membership_events": c.MembershipEvents,
		"tickets":           c.Tickets,
		"ticket_comments":   c.TicketComments,
		"documents":         c.Documents,
	}
}

// Snapshot is the immutable activity set of one run. Accessors return copies.
type Snapshot struct {
	window           types.Window
	commits          []types.Commit
	pullRequests     []types.PullRequest
	reviews          []types.Review
	comments         []types.Comment
	issues           []types.Issue
	releases         []types.Release
	branchEvents     []types.BranchEvent
	membershipEvents []types.MembershipEvent
	tickets          []types.Ticket
	ticketComments   []types.TicketComment
	documents        []types.DocumentSummary
	sourceErrors     []SourceError
	counts           Counts
}

// Window returns the interval the snapshot was filtered against.
func (s *Snapshot) Window() types.Window { return s.window }

// Commits returns the deduplicated commits.
func (s *Snapshot) Commits() []types.Commit { return slices.Clone(s.commits) }

// PullRequests returns pull requests touched in the window.
func (s *Snapshot) PullRequests() []types.PullRequest { return slices.Clone(s.pullRequests) }

func (s *Snapshot) Reviews() []types.Review { return slices.Clone(s.reviews) }

// Comments returns the deduplicated comments.
func (s *Snapshot) Comments() []types.Comment { return slices.Clone(s.comments) }

func (s *Snapshot) Issues() []types.Issue { return slices.Clone(s.issues) }

func (s *Snapshot) Releases() []types.Release { return slices.Clone(s.releases) }

func (s *Snapshot) BranchEvents() []types.BranchEvent { return slices.Clone(s.branchEvents) }

func (s *Snapshot) MembershipEvents() []types.MembershipEvent {
	return slices.Clone(s.membershipEvents)
}

// Tickets returns tickets touched in the window.
func (s *Snapshot) Tickets() []types.Ticket { return slices.Clone(s.tickets) }

func (s *Snapshot) TicketComments() []types.TicketComment { return slices.Clone(s.ticketComments) }

func (s *Snapshot) Documents() []types.DocumentSummary { return slices.Clone(s.documents) }

// SourceErrors returns the non-fatal connector failures of the run.
func (s *Snapshot) SourceErrors() []SourceError { return slices.Clone(s.sourceErrors) }

// Counts returns per-kind event counts.
func (s *Snapshot) Counts() Counts { return s.counts }

// Total returns the number of events in the snapshot.
func (s *Snapshot) Total() int { return s.counts.Total() }

// Empty reports whether the snapshot holds no activity.
func (s *Snapshot) Empty() bool { return s.Total() == 0 }

// Aggregate concatenates batches per kind in the order given, drops duplicates (first seen wins),
// applies the window and sorts each kind by timestamp. Ties keep their concatenation order, so
// identical input always yields an identical snapshot.
func Aggregate(batches []*types.Batch, w types.Window, failures ...SourceError) *Snapshot {
	var all types.Batch
	for _, b := range batches {
		all.Merge(b)
	}

	s := &Snapshot{window: w, sourceErrors: slices.Clone(failures)}

	s.commits = inWindow(dedup(all.Commits, func(c *types.Commit) string { return c.SHA }), w,
		func(c *types.Commit) time.Time { return c.Timestamp })
	s.comments = inWindow(dedup(all.Comments, (*types.Comment).Key), w,
		func(c *types.Comment) time.Time { return c.Timestamp })

	s.pullRequests = touched(all.PullRequests, w, (*types.PullRequest).TouchedIn, (*types.PullRequest).Timestamp)
	s.tickets = touched(all.Tickets, w, (*types.Ticket).TouchedIn, (*types.Ticket).Timestamp)

	s.reviews = inWindow(all.Reviews, w, func(r *types.Review) time.Time { return r.Timestamp })
	s.issues = inWindow(all.Issues, w, func(i *types.Issue) time.Time { return i.Timestamp })
	s.releases = inWindow(all.Releases, w, func(r *types.Release) time.Time { return r.Timestamp })
	s.branchEvents = inWindow(all.BranchEvents, w, func(e *types.BranchEvent) time.Time { return e.Timestamp })
	s.membershipEvents = inWindow(all.MembershipEvents, w, func(e *types.MembershipEvent) time.Time { return e.Timestamp })
	s.ticketComments = inWindow(all.TicketComments, w, func(c *types.TicketComment) time.Time { return c.Timestamp })
	s.documents = inWindow(all.Documents, w, func(d *types.DocumentSummary) time.Time { return d.Timestamp })

	s.counts = Counts{
		Commits:          len(s.commits),
		PullRequests:     len(s.pullRequests),
		Reviews:          len(s.reviews),
		Comments:         len(s.comments),
		Issues:           len(s.issues),
		Releases:         len(s.releases),
		BranchEvents:     len(s.branchEvents),
		MembershipEvents: len(s.membershipEvents),
		Tickets:          len(s.tickets),
		TicketComments:   len(s.ticketComments),
		Documents:        len(s.documents),
	}
	return s
}

// dedup keeps the first record seen for each key.
func dedup[T any, K comparable](items []T, key func(*T) K) []T {
	seen := make(map[K]struct{}, len(items))
	out := make([]T, 0, len(items))
	for i := range items {
		k := key(&items[i])
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, items[i])
	}
	return out
}

// inWindow keeps records whose timestamp lies in w, stably sorted by timestamp.
func inWindow[T any](items []T, w types.Window, ts func(*T) time.Time) []T {
	return touched(items, w, func(item *T, w types.Window) bool { return w.Contains(ts(item)) }, ts)
}

// touched keeps records the predicate accepts, stably sorted by timestamp.
func touched[T any](items []T, w types.Window, keep func(*T, types.Window) bool, ts func(*T) time.Time) []T {
	out := make([]T, 0, len(items))
	for i := range items {
		if keep(&items[i], w) {
			out = append(out, items[i])
		}
	}
	slices.SortStableFunc(out, func(a, b T) int { return ts(&a).Compare(ts(&b)) })
	return out
}
