package parser

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

func parseMarkdown(payload []byte) (*doctree.Document, error) {
	src := bytes.TrimPrefix(bytes.ToValidUTF8(payload, []byte("\uFFFD")), utf8BOM)
	root := markdown.Parser().Parse(text.NewReader(src))

	w := &mdWalker{src: src, b: doctree.NewBuilder()}
	w.html = newHTMLWalker(w.b, func(ref string) string {
		return relativeRef("", ref)
	})
	if err := ast.Walk(root, w.visit); err != nil {
		return nil, malformed("markdown: %v", err)
	}
	return w.b.Finish(), nil
}

type mdWalker struct {
	src    []byte
	b      *doctree.Builder
	html   *htmlWalker
	lists  []bool
	styles []doctree.Style
	style  doctree.Style
	hrefs  []string
	code   int
}

func (w *mdWalker) push(s doctree.Style) {
	w.styles = append(w.styles, w.style)
	w.style |= s
}

func (w *mdWalker) pop() {
	w.style = w.styles[len(w.styles)-1]
	w.styles = w.styles[:len(w.styles)-1]
}

func (w *mdWalker) href() string {
	if n := len(w.hrefs); n > 0 {
		return w.hrefs[n-1]
	}
	return ""
}

func (w *mdWalker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		w.openClose(entering, doctree.BlockHeading, node.Level, false)
	case *ast.Paragraph, *ast.TextBlock:
		w.openClose(entering, doctree.BlockParagraph, 0, false)
	case *ast.List:
		if entering {
			w.lists = append(w.lists, node.IsOrdered())
		} else {
			w.lists = w.lists[:len(w.lists)-1]
		}
	case *ast.ListItem:
		ordered := len(w.lists) > 0 && w.lists[len(w.lists)-1]
		w.openClose(entering, doctree.BlockListItem, max(len(w.lists), 1), ordered)
	case *ast.Blockquote:
		w.openClose(entering, doctree.BlockQuote, 0, false)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		if entering {
			w.b.Open(doctree.BlockPreformatted, 0, false)
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				w.b.Text(string(seg.Value(w.src)), doctree.Code, "")
			}
			w.b.Close()
		}
		return ast.WalkSkipChildren, nil
	case *ast.ThematicBreak:
		if entering {
			w.b.Rule()
		}
	case *ast.HTMLBlock:
		if entering {
			w.b.Doc().Skip(FeatureRawHTML, snippet(w.lines(n)))
		}
		return ast.WalkSkipChildren, nil
	case *ast.RawHTML:
		if entering {
			w.rawInline(node)
		}
		return ast.WalkSkipChildren, nil
	case *ast.Emphasis:
		if entering {
			s := doctree.Italic
			if node.Level >= 2 {
				s = doctree.Bold
			}
			w.push(s)
		} else {
			w.pop()
		}
	case *extast.Strikethrough:
		if entering {
			w.push(doctree.Strike)
		} else {
			w.pop()
		}
	case *ast.CodeSpan:
		if entering {
			w.push(doctree.Code)
			w.code++
		} else {
			w.pop()
			w.code--
		}
	case *ast.Link:
		if entering {
			w.hrefs = append(w.hrefs, linkTarget(string(node.Destination), w.href()))
		} else {
			w.hrefs = w.hrefs[:len(w.hrefs)-1]
		}
	case *ast.AutoLink:
		if entering {
			url := string(node.URL(w.src))
			if node.AutoLinkType == ast.AutoLinkEmail && !strings.HasPrefix(strings.ToLower(url), "mailto:") {
				url = "mailto:" + url
			}
			w.b.Text(string(node.Label(w.src)), w.style, linkTarget(url, w.href()))
		}
		return ast.WalkSkipChildren, nil
	case *ast.Image:
		if entering {
			w.html.image(string(node.Destination), w.plainText(n))
		}
		return ast.WalkSkipChildren, nil
	case *ast.Text:
		if entering {
			w.text(node)
		}
	case *ast.String:
		if entering {
			w.b.Text(string(node.Value), w.style, w.href())
		}
	}
	return ast.WalkContinue, nil
}

func (w *mdWalker) openClose(entering bool, kind doctree.BlockKind, level int, ordered bool) {
	if entering {
		w.b.Open(kind, level, ordered)
	} else {
		w.b.Close()
	}
}

func (w *mdWalker) text(n *ast.Text) {
	v := n.Segment.Value(w.src)
	if w.code == 0 && !n.IsRaw() {
		v = util.ResolveNumericReferences(util.ResolveEntityNames(util.UnescapePunctuations(v)))
	}
	w.b.Text(string(v), w.style, w.href())
	switch {
	case n.HardLineBreak():
		w.b.LineBreak()
	case n.SoftLineBreak():
		w.b.Text(" ", w.style, w.href())
	}
}

// rawInline honors <br> and records any other inline markup as skipped
func (w *mdWalker) rawInline(n *ast.RawHTML) {
	var sb strings.Builder
	for i := 0; i < n.Segments.Len(); i++ {
		seg := n.Segments.At(i)
		sb.Write(seg.Value(w.src))
	}
	tag := strings.ToLower(strings.ReplaceAll(sb.String(), " ", ""))
	switch tag {
	case "<br>", "<br/>":
		w.b.LineBreak()
	default:
		w.b.Doc().Skip(FeatureRawHTML, snippet(sb.String()))
	}
}

func (w *mdWalker) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(w.src))
	}
	return sb.String()
}

func (w *mdWalker) plainText(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(w.src))
		case *ast.String:
			sb.Write(t.Value)
		default:
			sb.WriteString(w.plainText(c))
		}
	}
	return sb.String()
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "…"
	}
	return s
}
