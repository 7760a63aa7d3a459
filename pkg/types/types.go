// Package types contains the canonical activity events shared by connectors, the aggregator and the renderer.
//
//nolint:revive // "types" is a standard Go package name for shared data structures
package types

import "time"

// Placeholders used when an origin record omits an optional field.
const (
	UnknownActor = "unknown"
	Unassigned   = "Unassigned"
)

// Window is the half-open interval [Since, Until) a run evaluates events against.
type Window struct {
	Since time.Time
	Until time.Time
}

// NewWindow returns the window ending at now and spanning the lookback duration.
func NewWindow(now time.Time, lookback time.Duration) Window {
	return Window{Since: now.Add(-lookback), Until: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return !t.Before(w.Since) && t.Before(w.Until)
}

// ContainsAny reports whether any of the given timestamps fall inside the window.
func (w Window) ContainsAny(ts ...time.Time) bool {
	for _, t := range ts {
		if w.Contains(t) {
			return true
		}
	}
	return false
}

// Commit is a commit reachable from at least one listed branch.
type Commit struct {
	Timestamp time.Time
	Container string
	Actor     string
	SHA       string
	Message   string // first line only
	Branch    string // branch the commit was first seen on
	URL       string
}

// PullRequest is a pull request touched during the window.
type PullRequest struct {
	CreatedAt time.Time
	MergedAt  time.Time
	ClosedAt  time.Time
	UpdatedAt time.Time // recorded, never used for window inclusion
	Container string
	Actor     string
	Title     string
	State     string
	URL       string
	Number    int
	Draft     bool
}

// Timestamp returns the instant the pull request was opened.
func (pr *PullRequest) Timestamp() time.Time { return pr.CreatedAt }

// TouchedIn reports whether any lifecycle timestamp of the pull request falls in the window.
// UpdatedAt is excluded on purpose: automated updates (labels, bots, CI) would flood the report.
func (pr *PullRequest) TouchedIn(w Window) bool {
	return w.ContainsAny(pr.CreatedAt, pr.MergedAt, pr.ClosedAt)
}

// Review is a submitted pull request review.
type Review struct {
	Timestamp time.Time
	Container string
	Actor     string
	State     string // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED
	Excerpt   string
	URL       string
	PRNumber  int
}

// Comment is a remark on an issue or pull request.
type Comment struct {
	Timestamp time.Time
	Container string
	Actor     string
	Excerpt   string
	Kind      string // "issue" or "review"
	URL       string
	Target    int // issue or pull request number
}

// CommentKey identifies the same remark reported by independent listings.
type CommentKey struct {
	Timestamp time.Time
	Container string
	Actor     string
	Target    int
}

// Key returns the deduplication key of the comment.
func (c *Comment) Key() CommentKey {
	return CommentKey{Container: c.Container, Actor: c.Actor, Target: c.Target, Timestamp: c.Timestamp.UTC()}
}

// Issue is an issue opened or updated during the window.
type Issue struct {
	Timestamp time.Time
	Container string
	Actor     string
	Title     string
	State     string
	URL       string
	Number    int
}

// Release is a published release.
type Release struct {
	Timestamp  time.Time
	Container  string
	Actor      string
	Tag        string
	Name       string
	URL        string
	Prerelease bool
}

// BranchEvent records a branch being created or deleted.
type BranchEvent struct {
	Timestamp time.Time
	Container string
	Actor     string
	Branch    string
	Action    string // "created" or "deleted"
}

// MembershipEvent records a member joining or leaving a repository or team.
type MembershipEvent struct {
	Timestamp time.Time
	Container string
	Actor     string
	Member    string
	Action    string // "added" or "removed"
}

// Ticket is a ticket-tracker issue touched during the window.
type Ticket struct {
	CreatedAt   time.Time
	CompletedAt time.Time
	CanceledAt  time.Time
	UpdatedAt   time.Time
	Container   string
	Actor       string
	Identifier  string
	Title       string
	State       string
	Assignee    string
	Priority    string
	URL         string
}

// Timestamp returns the instant the ticket was created.
func (t *Ticket) Timestamp() time.Time { return t.CreatedAt }

// TouchedIn reports whether any lifecycle timestamp of the ticket falls in the window.
func (t *Ticket) TouchedIn(w Window) bool {
	return w.ContainsAny(t.CreatedAt, t.CompletedAt, t.CanceledAt, t.UpdatedAt)
}

// TicketComment is a comment posted on a ticket.
type TicketComment struct {
	Timestamp time.Time
	Container string
	Actor     string
	Ticket    string
	Excerpt   string
}

// DocumentSummary is a document edited during the window.
type DocumentSummary struct {
	Timestamp time.Time
	Container string
	Actor     string
	Title     string
	URL       string
	Excerpt   string
}

// Batch holds the raw records one source produced for one run, grouped by kind.
type Batch struct {
	Source           string
	Commits          []Commit
	PullRequests     []PullRequest
	Reviews          []Review
	Comments         []Comment
	Issues           []Issue
	Releases         []Release
	BranchEvents     []BranchEvent
	MembershipEvents []MembershipEvent
	Tickets          []Ticket
	TicketComments   []TicketComment
	Documents        []DocumentSummary
}

// Merge appends every record of other to b, preserving order.
func (b *Batch) Merge(other *Batch) {
	if other == nil {
		return
	}
	b.Commits = append(b.Commits, other.Commits...)
	b.PullRequests = append(b.PullRequests, other.PullRequests...)
	b.Reviews = append(b.Reviews, other.Reviews...)
	b.Comments = append(b.Comments, other.Comments...)
	b.Issues = append(b.Issues, other.Issues...)
	b.Releases = append(b.Releases, other.Releases...)
	b.BranchEvents = append(b.BranchEvents, other.BranchEvents...)
	b.MembershipEvents = append(b.MembershipEvents, other.MembershipEvents...)
	b.Tickets = append(b.Tickets, other.Tickets...)
	b.TicketComments = append(b.TicketComments, other.TicketComments...)
	b.Documents = append(b.Documents, other.Documents...)
}

// ActorOrUnknown returns login, or the unknown placeholder when it is empty.
func ActorOrUnknown(login string) string {
	if login == "" {
		return UnknownActor
	}
	return login
}

// FirstLine returns the first line of s.
func FirstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			return s[:i]
		}
	}
	return s
}

// Excerpt collapses whitespace in s and truncates it to limit runes.
func Excerpt(s string, limit int) string {
	out := make([]rune, 0, min(len(s), limit+1))
	space := false
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || r == ' ' {
			if len(out) > 0 && !space {
				out = append(out, ' ')
			}
			space = true
			continue
		}
		space = false
		out = append(out, r)
	}
	for len(out) > 0 && out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	if len(out) > limit {
		return string(out[:limit]) + "…"
	}
	return string(out)
}
