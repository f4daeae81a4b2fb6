// ABOUTME: Converts agent markdown replies into Slack mrkdwn.
// ABOUTME: Walks the goldmark AST; unknown constructs fall through as text.

package slack

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ToMrkdwn renders markdown as Slack mrkdwn: *bold*, _italic_,
// <url|text> links, fenced code preserved, bullet lists as dash bullets,
// ordered lists numbered.
func ToMrkdwn(md string) string {
	source := []byte(md)
	parser := goldmark.New().Parser()
	root := parser.Parse(text.NewReader(source))

	var b strings.Builder
	renderNode(&b, root, source)
	return strings.TrimRight(b.String(), "\n")
}

func renderNode(b *strings.Builder, n ast.Node, source []byte) {
	switch n.Kind() {
	case ast.KindDocument:
		renderChildren(b, n, source)

	case ast.KindHeading:
		b.WriteString("*")
		renderChildren(b, n, source)
		b.WriteString("*\n\n")

	case ast.KindParagraph:
		renderChildren(b, n, source)
		b.WriteString("\n\n")

	case ast.KindTextBlock:
		renderChildren(b, n, source)
		b.WriteString("\n")

	case ast.KindText:
		t := n.(*ast.Text)
		b.Write(t.Segment.Value(source))
		if t.SoftLineBreak() || t.HardLineBreak() {
			b.WriteString("\n")
		}

	case ast.KindString:
		b.Write(n.(*ast.String).Value)

	case ast.KindEmphasis:
		marker := "_"
		if n.(*ast.Emphasis).Level == 2 {
			marker = "*"
		}
		b.WriteString(marker)
		renderChildren(b, n, source)
		b.WriteString(marker)

	case ast.KindCodeSpan:
		b.WriteString("`")
		renderChildren(b, n, source)
		b.WriteString("`")

	case ast.KindFencedCodeBlock, ast.KindCodeBlock:
		b.WriteString("```\n")
		writeLines(b, n, source)
		b.WriteString("```\n\n")

	case ast.KindLink:
		link := n.(*ast.Link)
		b.WriteString("<")
		b.Write(link.Destination)
		b.WriteString("|")
		renderChildren(b, n, source)
		b.WriteString(">")

	case ast.KindAutoLink:
		b.Write(n.(*ast.AutoLink).URL(source))

	case ast.KindImage:
		// Slack has no inline images in mrkdwn; fall back to the URL.
		b.Write(n.(*ast.Image).Destination)

	case ast.KindList:
		renderList(b, n.(*ast.List), source)
		b.WriteString("\n")

	case ast.KindBlockquote:
		var quoted strings.Builder
		renderChildren(&quoted, n, source)
		for _, line := range strings.Split(strings.TrimRight(quoted.String(), "\n"), "\n") {
			b.WriteString("> ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")

	case ast.KindThematicBreak:
		b.WriteString("———\n\n")

	default:
		renderChildren(b, n, source)
	}
}

func renderChildren(b *strings.Builder, n ast.Node, source []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderNode(b, c, source)
	}
}

func renderList(b *strings.Builder, list *ast.List, source []byte) {
	index := list.Start
	if index == 0 {
		index = 1
	}
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		var content strings.Builder
		renderChildren(&content, item, source)

		prefix := "- "
		if list.IsOrdered() {
			prefix = fmt.Sprintf("%d. ", index)
			index++
		}

		lines := strings.Split(strings.TrimRight(content.String(), "\n"), "\n")
		for i, line := range lines {
			if i == 0 {
				b.WriteString(prefix)
			} else {
				b.WriteString(strings.Repeat(" ", len(prefix)))
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
}

func writeLines(b *strings.Builder, n ast.Node, source []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
}
