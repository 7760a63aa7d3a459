package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Input block labels. The formatting prompt carries exactly one of them, so the path a
// run took can be read back from the prompt alone.
const (
	BlockStructured = "=== PRE-ORGANIZED ACTIVITY ==="
	BlockRaw        = "=== RAW ACTIVITY ==="
	blockEnd        = "=== END ACTIVITY ==="
)

// RunKind selects the report flavour.
type RunKind int

const (
	// ActivityRun summarizes all collected activity.
	ActivityRun RunKind = iota
	// TicketRun summarizes ticket-tracker activity only.
	TicketRun
)

func (k RunKind) String() string {
	if k == TicketRun {
		return "tickets"
	}
	return "activity"
}

// Opening line every report must start with.
const openingPrefix = "Daily digest for "

// requiredSections lists the level-2 headings a report of each kind must contain.
var requiredSections = map[RunKind][]string{
	ActivityRun: {"Highlights", "Shipped", "In Progress", "Discussion"},
	TicketRun:   {"Completed", "In Progress", "New"},
}

const structuringTask = `You are preparing engineering activity for a report writer.
Reorganize the activity below by logical grouping: by project area, then by piece of work
(a pull request together with its commits, reviews and comments; a ticket with its comments).
Do not summarize, shorten or re-author anything. Keep every identifier (repository names,
pull request and issue numbers, commit hashes, ticket identifiers), every author, every link
and every discussion excerpt exactly as given. Drop nothing. Output plain text only.`

func structuringPrompt(rendered string) string {
	var sb strings.Builder
	sb.WriteString(structuringTask)
	sb.WriteString("\n\n")
	sb.WriteString(BlockRaw)
	sb.WriteByte('\n')
	sb.WriteString(rendered)
	sb.WriteString("\n")
	sb.WriteString(blockEnd)
	sb.WriteByte('\n')
	return sb.String()
}

// formattingPrompt builds the stage-two prompt around exactly one labeled input block.
func formattingPrompt(in *Input, label, body string) string {
	var sb strings.Builder
	date := in.Now.UTC().Format(time.DateOnly)

	fmt.Fprintf(&sb, "You write the %s report for a software team.\n\n", in.Kind)
	if in.ProjectDescription != "" {
		sb.WriteString("PROJECT CONTEXT:\n")
		sb.WriteString(strings.TrimSpace(in.ProjectDescription))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "TODAY: %s\n\n", date)
	if in.Authors.Len() > 0 {
		sb.WriteString("PEOPLE (account → name; always use the name):\n")
		sb.WriteString(in.Authors.Describe())
		sb.WriteByte('\n')
	}
	if in.TicketPattern != "" {
		fmt.Fprintf(&sb, "TICKET IDENTIFIERS match the pattern %s. Mention them verbatim.\n\n", in.TicketPattern)
	}

	sb.WriteString("RULES:\n")
	fmt.Fprintf(&sb, "- The first line must be exactly: %s%s\n", openingPrefix, date)
	sb.WriteString("- Then these sections, each as a level-2 markdown heading, in this order: ")
	sb.WriteString(strings.Join(requiredSections[in.Kind], ", "))
	sb.WriteString(".\n")
	sb.WriteString("- Write a section as \"Nothing notable.\" when it has no content.\n")
	sb.WriteString("- Use only facts from the activity block. Link pull requests, issues and tickets.\n")
	sb.WriteString("- Do not wrap the answer in a code block and do not add any preamble.\n")
	if label == BlockStructured {
		sb.WriteString("- The activity below was already grouped by topic; keep that grouping.\n")
	} else {
		sb.WriteString("- The activity below is raw and grouped by event kind; group it by topic yourself.\n")
	}
	sb.WriteByte('\n')

	sb.WriteString(label)
	sb.WriteByte('\n')
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteByte('\n')
	sb.WriteString(blockEnd)
	sb.WriteByte('\n')
	return sb.String()
}

const noCachedActivity = "(no activity is cached yet)"

// answerPrompt builds the interactive prompt. It never includes a structuring step.
func answerPrompt(q *Question) string {
	var sb strings.Builder
	date := q.Now.UTC().Format(time.DateOnly)

	sb.WriteString("You answer questions from a software team about its recent activity.\n\n")
	if q.ProjectDescription != "" {
		sb.WriteString("PROJECT CONTEXT:\n")
		sb.WriteString(strings.TrimSpace(q.ProjectDescription))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "TODAY: %s\n\n", date)
	if q.Authors.Len() > 0 {
		sb.WriteString("PEOPLE (account → name):\n")
		sb.WriteString(q.Authors.Describe())
		sb.WriteByte('\n')
	}

	sb.WriteString("RULES:\n")
	sb.WriteString("- Answer only from the cached activity and the latest report below.\n")
	sb.WriteString("- If they do not contain enough information, say plainly that the cached data is insufficient. Never guess or invent.\n")
	sb.WriteString("- Be brief. Link pull requests, issues and tickets you mention.\n\n")

	sb.WriteString(BlockRaw)
	sb.WriteByte('\n')
	if strings.TrimSpace(q.Rendered) == "" {
		sb.WriteString(noCachedActivity)
	} else {
		sb.WriteString(strings.TrimSpace(q.Rendered))
	}
	sb.WriteByte('\n')
	sb.WriteString(blockEnd)
	sb.WriteString("\n\n")

	if strings.TrimSpace(q.LastReport) != "" {
		sb.WriteString("=== LATEST REPORT ===\n")
		sb.WriteString(strings.TrimSpace(q.LastReport))
		sb.WriteString("\n=== END REPORT ===\n\n")
	}

	sb.WriteString("QUESTION:\n")
	sb.WriteString(strings.TrimSpace(q.Text))
	sb.WriteByte('\n')
	return sb.String()
}
