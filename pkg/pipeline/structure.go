package pipeline

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// unwrapFence returns the content of a report the model wrapped in one fenced code block.
// Anything else is returned trimmed but otherwise untouched.
func unwrapFence(report string) string {
	src := []byte(strings.TrimSpace(report))
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	fence, ok := doc.FirstChild().(*ast.FencedCodeBlock)
	if !ok || doc.ChildCount() != 1 {
		return string(src)
	}
	var buf bytes.Buffer
	lines := fence.Lines()
	for i := range lines.Len() {
		seg := lines.At(i)
		buf.Write(seg.Value(src))
	}
	return strings.TrimSpace(buf.String())
}

// headings returns the text of every level-2 heading in report.
func headings(report string) []string {
	src := []byte(report)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var out []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, ok := n.(*ast.Heading)
		if !ok || h.Level != 2 {
			continue
		}
		out = append(out, strings.TrimSpace(inlineText(h, src)))
	}
	return out
}

func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(src))
			if v.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		default:
			sb.WriteString(inlineText(c, src))
		}
	}
	return sb.String()
}

// checkStructure reports whether the report opens with the expected prefix and which
// required sections it lacks.
func checkStructure(report string, kind RunKind) (openingOK bool, missing []string) {
	first, _, _ := strings.Cut(strings.TrimSpace(report), "\n")
	openingOK = strings.HasPrefix(strings.TrimLeft(first, "*_# "), openingPrefix)

	present := make(map[string]bool)
	for _, h := range headings(report) {
		present[strings.ToLower(h)] = true
	}
	for _, want := range requiredSections[kind] {
		if !present[strings.ToLower(want)] {
			missing = append(missing, want)
		}
	}
	return openingOK, missing
}
