// Package render turns an activity snapshot into flat, source-agnostic text for the generation stages.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/daily-digest/pkg/aggregate"
	"github.com/codeGROOVE-dev/daily-digest/pkg/authors"
	"github.com/codeGROOVE-dev/daily-digest/pkg/types"
)

// Section labels, in output order.
const (
	LabelCommits        = "COMMITS:"
	LabelPullRequests   = "PULL REQUESTS:"
	LabelReviews        = "REVIEWS:"
	LabelComments       = "COMMENTS:"
	LabelIssues         = "ISSUES:"
	LabelReleases       = "RELEASES:"
	LabelBranches       = "BRANCHES:"
	LabelMembership     = "MEMBERSHIP:"
	LabelTickets        = "TICKETS:"
	LabelTicketComments = "TICKET COMMENTS:"
	LabelDocuments      = "DOCUMENTS:"
)

const (
	timeLayout = "2006-01-02 15:04 UTC"
	shaLength  = 7
)

// Render writes one labeled section per non-empty kind. Authors are resolved here and nowhere
// earlier, so one snapshot can be rendered under different maps. Output depends only on the
// arguments.
func Render(snap *aggregate.Snapshot, names authors.Map) string {
	if snap == nil || snap.Empty() {
		return ""
	}
	r := renderer{names: names}
	counts := snap.Counts()

	r.section(LabelCommits, counts.Commits, func() {
		for _, c := range snap.Commits() {
			r.line("[%s] %s: %s (%s on %s)%s", c.Container, r.who(c.Actor), c.Message, shortSHA(c.SHA), c.Branch, link(c.URL))
		}
	})
	r.section(LabelPullRequests, counts.PullRequests, func() {
		for _, pr := range snap.PullRequests() {
			state := pr.State
			if pr.Draft {
				state += ", draft"
			}
			r.line("[%s] #%d %q by %s [%s] %s%s", pr.Container, pr.Number, pr.Title, r.who(pr.Actor), state,
				lifecycle(pr.CreatedAt, pr.MergedAt, pr.ClosedAt), link(pr.URL))
		}
	})
	r.section(LabelReviews, counts.Reviews, func() {
		for _, rv := range snap.Reviews() {
			r.line("[%s] %s %s #%d%s%s", rv.Container, r.who(rv.Actor), rv.State, rv.PRNumber, quote(rv.Excerpt), link(rv.URL))
		}
	})
	r.section(LabelComments, counts.Comments, func() {
		for _, c := range snap.Comments() {
			r.line("[%s] %s on #%d (%s) at %s%s%s", c.Container, r.who(c.Actor), c.Target, c.Kind, stamp(c.Timestamp), quote(c.Excerpt), link(c.URL))
		}
	})
	r.section(LabelIssues, counts.Issues, func() {
		for _, i := range snap.Issues() {
			r.line("[%s] #%d %q by %s [%s] %s%s", i.Container, i.Number, i.Title, r.who(i.Actor), i.State, stamp(i.Timestamp), link(i.URL))
		}
	})
	r.section(LabelReleases, counts.Releases, func() {
		for _, rel := range snap.Releases() {
			kind := "release"
			if rel.Prerelease {
				kind = "prerelease"
			}
			r.line("[%s] %s %q (%s) by %s at %s%s", rel.Container, rel.Tag, rel.Name, kind, r.who(rel.Actor), stamp(rel.Timestamp), link(rel.URL))
		}
	})
	r.section(LabelBranches, counts.BranchEvents, func() {
		for _, b := range snap.BranchEvents() {
			r.line("[%s] %s %s branch %s at %s", b.Container, r.who(b.Actor), b.Action, b.Branch, stamp(b.Timestamp))
		}
	})
	r.section(LabelMembership, counts.MembershipEvents, func() {
		for _, m := range snap.MembershipEvents() {
			r.line("[%s] %s %s %s at %s", m.Container, r.who(m.Actor), m.Action, r.who(m.Member), stamp(m.Timestamp))
		}
	})
	r.section(LabelTickets, counts.Tickets, func() {
		for _, t := range snap.Tickets() {
			attrs := t.State
			if t.Priority != "" {
				attrs += ", " + t.Priority
			}
			r.line("[%s] %s %q [%s] assignee: %s, by %s, %s%s", t.Container, t.Identifier, t.Title, attrs,
				r.who(t.Assignee), r.who(t.Actor), ticketLifecycle(&t), link(t.URL))
		}
	})
	r.section(LabelTicketComments, counts.TicketComments, func() {
		for _, c := range snap.TicketComments() {
			r.line("[%s] %s on %s at %s%s", c.Container, r.who(c.Actor), c.Ticket, stamp(c.Timestamp), quote(c.Excerpt))
		}
	})
	r.section(LabelDocuments, counts.Documents, func() {
		for _, d := range snap.Documents() {
			r.line("[%s] %q edited by %s at %s%s%s", d.Container, d.Title, r.who(d.Actor), stamp(d.Timestamp), quote(d.Excerpt), link(d.URL))
		}
	})

	return strings.TrimRight(r.sb.String(), "\n") + "\n"
}

type renderer struct {
	names authors.Map
	sb    strings.Builder
}

func (r *renderer) section(label string, n int, body func()) {
	if n == 0 {
		return
	}
	if r.sb.Len() > 0 {
		r.sb.WriteByte('\n')
	}
	r.sb.WriteString(label)
	r.sb.WriteByte('\n')
	body()
}

func (r *renderer) line(format string, args ...any) {
	r.sb.WriteString("- ")
	fmt.Fprintf(&r.sb, format, args...)
	r.sb.WriteByte('\n')
}

func (r *renderer) who(identity string) string {
	if identity == "" {
		return types.UnknownActor
	}
	if identity == types.UnknownActor || identity == types.Unassigned {
		return identity
	}
	name := r.names.Lookup(identity)
	if name == identity {
		return identity
	}
	return fmt.Sprintf("%s (%s)", name, identity)
}

func shortSHA(sha string) string {
	if len(sha) > shaLength {
		return sha[:shaLength]
	}
	return sha
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "unknown time"
	}
	return t.UTC().Format(timeLayout)
}

func quote(excerpt string) string {
	if excerpt == "" {
		return ""
	}
	return fmt.Sprintf(": %q", excerpt)
}

func link(url string) string {
	if url == "" {
		return ""
	}
	return " " + url
}

func lifecycle(created, merged, closed time.Time) string {
	parts := []string{"opened " + stamp(created)}
	switch {
	case !merged.IsZero():
		parts = append(parts, "merged "+stamp(merged))
	case !closed.IsZero():
		parts = append(parts, "closed "+stamp(closed))
	}
	return strings.Join(parts, ", ")
}

func ticketLifecycle(t *types.Ticket) string {
	parts := []string{"created " + stamp(t.CreatedAt)}
	switch {
	case !t.CompletedAt.IsZero():
		parts = append(parts, "completed "+stamp(t.CompletedAt))
	case !t.CanceledAt.IsZero():
		parts = append(parts, "canceled "+stamp(t.CanceledAt))
	case !t.UpdatedAt.IsZero():
		parts = append(parts, "updated "+stamp(t.UpdatedAt))
	}
	return strings.Join(parts, ", ")
}
