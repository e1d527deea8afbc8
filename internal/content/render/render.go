// Package render turns a doctree.Document into the normalized HTML stored with an upload.
package render

import (
	"errors"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

// ErrRender is returned only for trees that violate doctree invariants
var ErrRender = errors.New("render failed")

// ChapterBreakClass marks the rule emitted between chapters
const ChapterBreakClass = "chapter-break"

type Options struct {
	// Sanitize runs the output through a fixed allow-list policy
	Sanitize bool
}

func DefaultOptions() Options {
	return Options{Sanitize: true}
}

type Renderer struct {
	policy *bluemonday.Policy
}

func New(opts Options) *Renderer {
	r := &Renderer{}
	if opts.Sanitize {
		r.policy = Policy()
	}
	return r
}

// Policy allows exactly the markup the renderer emits
func Policy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "li", "blockquote",
		"pre", "code", "br", "strong", "em", "u", "s", "sup", "sub")
	p.AllowElements("hr")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^` + ChapterBreakClass + `$`)).OnElements("hr")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.RequireParseableURLs(true)
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(false)
	return p
}

// Render produces HTML for doc. urls maps original asset paths to their public URLs; images
// without a mapping are left out. Output is deterministic for a given tree and mapping.
func (r *Renderer) Render(doc *doctree.Document, urls map[string]string) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", ErrRender)
	}
	if err := doc.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	w := &writer{urls: urls}
	for _, b := range doc.Blocks {
		w.block(b)
	}
	w.closeLists()

	out := strings.TrimSuffix(w.sb.String(), "\n")
	if r.policy != nil {
		out = r.policy.Sanitize(out)
	}
	return out, nil
}

type writer struct {
	sb    strings.Builder
	urls  map[string]string
	lists []bool
}

func (w *writer) block(b doctree.Block) {
	if b.Kind != doctree.BlockListItem {
		w.closeLists()
	}

	switch b.Kind {
	case doctree.BlockRule:
		w.sb.WriteString("<hr>\n")
		return
	case doctree.BlockChapterBreak:
		w.sb.WriteString(`<hr class="` + ChapterBreakClass + `">` + "\n")
		return
	case doctree.BlockListItem:
		w.listItem(b)
		return
	}

	inner := w.spans(b.Spans, b.Kind == doctree.BlockPreformatted)
	if strings.TrimSpace(inner) == "" {
		return
	}
	switch b.Kind {
	case doctree.BlockHeading:
		tag := "h" + strconv.Itoa(b.Level)
		w.sb.WriteString("<" + tag + ">" + inner + "</" + tag + ">\n")
	case doctree.BlockQuote:
		w.sb.WriteString("<blockquote><p>" + inner + "</p></blockquote>\n")
	case doctree.BlockPreformatted:
		w.sb.WriteString("<pre>" + inner + "</pre>\n")
	default:
		w.sb.WriteString("<p>" + inner + "</p>\n")
	}
}

// listItem nests list items by depth. Every open list always has one open <li>.
func (w *writer) listItem(b doctree.Block) {
	for len(w.lists) > b.Level {
		w.closeList()
	}
	if n := len(w.lists); n > 0 && n == b.Level {
		if w.lists[n-1] != b.Ordered {
			w.closeList()
		} else {
			w.sb.WriteString("</li>")
		}
	}
	for len(w.lists) < b.Level {
		w.sb.WriteString("<" + listTag(b.Ordered) + ">")
		w.lists = append(w.lists, b.Ordered)
		if len(w.lists) < b.Level {
			w.sb.WriteString("<li>")
		}
	}
	w.sb.WriteString("<li>" + w.spans(b.Spans, false))
}

func (w *writer) closeList() {
	n := len(w.lists)
	w.sb.WriteString("</li></" + listTag(w.lists[n-1]) + ">")
	w.lists = w.lists[:n-1]
	if len(w.lists) == 0 {
		w.sb.WriteString("\n")
	}
}

func (w *writer) closeLists() {
	for len(w.lists) > 0 {
		w.closeList()
	}
}

func listTag(ordered bool) string {
	if ordered {
		return "ol"
	}
	return "ul"
}

func (w *writer) spans(spans []doctree.Span, pre bool) string {
	var sb strings.Builder
	for _, s := range spans {
		switch s.Kind {
		case doctree.SpanText:
			style := s.Style
			if pre {
				style &^= doctree.Code
			}
			sb.WriteString(styled(html.EscapeString(s.Text), style, safeHref(s.Href)))
		case doctree.SpanImage:
			src, ok := w.urls[s.Path]
			if !ok || src == "" {
				continue
			}
			sb.WriteString(`<img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(s.Alt) + `">`)
		case doctree.SpanLineBreak:
			sb.WriteString("<br>")
		}
	}
	return sb.String()
}

var styleTags = []struct {
	style doctree.Style
	tag   string
}{
	{doctree.Bold, "strong"},
	{doctree.Italic, "em"},
	{doctree.Underline, "u"},
	{doctree.Strike, "s"},
	{doctree.Code, "code"},
	{doctree.Superscript, "sup"},
	{doctree.Subscript, "sub"},
}

func styled(text string, style doctree.Style, href string) string {
	for i := len(styleTags) - 1; i >= 0; i-- {
		if t := styleTags[i]; style.Has(t.style) {
			text = "<" + t.tag + ">" + text + "</" + t.tag + ">"
		}
	}
	if href != "" {
		text = `<a href="` + html.EscapeString(href) + `">` + text + `</a>`
	}
	return text
}

// safeHref keeps absolute http(s) and mailto links
func safeHref(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host != "" {
			return u.String()
		}
	case "mailto":
		if u.Opaque != "" {
			return u.String()
		}
	}
	return ""
}
