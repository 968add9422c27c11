package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/tessera-ai/tessera/internal/core"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

type headingInfo struct {
	level int
	text  string
}

type mdSection struct {
	start   int // byte offset of the section in the source
	path    string
	content string
}

// splitMarkdown emits one chunk per heading-delimited section,
// regardless of section length. Chunks carry the heading path under
// "headers".
func (s *Splitter) splitMarkdown(doc core.Document) []core.Document {
	sections := markdownSections(doc.Content)

	var out []core.Document
	for _, sec := range sections {
		if strings.TrimSpace(sec.content) == "" {
			continue
		}
		meta := doc.Metadata
		if sec.path != "" {
			meta = withKey(meta, "headers", sec.path)
		}
		out = append(out, chunkDoc(sec.content, meta, runeOffset(doc.Content, sec.start)))
	}
	if len(out) == 0 {
		return s.windowRunes(doc.Content, doc.Metadata, 0)
	}
	return out
}

// markdownSections parses the source and returns one section per
// heading, plus a pathless preamble section when content precedes the
// first heading.
func markdownSections(source string) []mdSection {
	src := []byte(source)
	root := markdownParser.Parser().Parse(text.NewReader(src))

	type headingMark struct {
		offset int
		level  int
		text   string
	}
	var marks []headingMark

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		off := lineStart(src, h.Lines().At(0).Start)
		marks = append(marks, headingMark{offset: off, level: h.Level, text: headingText(h, src)})
		return ast.WalkSkipChildren, nil
	})

	if len(marks) == 0 {
		return []mdSection{{start: 0, content: source}}
	}

	var sections []mdSection
	if marks[0].offset > 0 {
		sections = append(sections, mdSection{start: 0, content: source[:marks[0].offset]})
	}

	var stack []headingInfo
	for i, m := range marks {
		for len(stack) > 0 && stack[len(stack)-1].level >= m.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, headingInfo{level: m.level, text: m.text})

		end := len(source)
		if i+1 < len(marks) {
			end = marks[i+1].offset
		}
		sections = append(sections, mdSection{
			start:   m.offset,
			path:    headingPath(stack),
			content: source[m.offset:end],
		})
	}
	return sections
}

// headingPath renders the stack as "# A > ## B".
func headingPath(stack []headingInfo) string {
	parts := make([]string, len(stack))
	for i, h := range stack {
		parts[i] = strings.Repeat("#", h.level) + " " + h.text
	}
	return strings.Join(parts, " > ")
}

func headingText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// lineStart walks back from off to the start of its line, so heading
// sections include the leading hash markers.
func lineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}

func withKey(meta map[string]any, key string, val any) map[string]any {
	m := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		m[k] = v
	}
	m[key] = val
	return m
}
