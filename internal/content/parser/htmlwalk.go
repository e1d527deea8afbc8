package parser

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

// refResolver maps an in-document image reference to the asset path recorded in the tree.
// An empty result drops the image.
type refResolver func(ref string) string

// htmlWalker feeds an HTML node tree into a doctree.Builder. It is shared by the HTML and
// EPUB parsers.
type htmlWalker struct {
	b       *doctree.Builder
	doc     *doctree.Document
	resolve refResolver
	lists   []bool // ordered flag per open list
	table   int
}

func newHTMLWalker(b *doctree.Builder, resolve refResolver) *htmlWalker {
	return &htmlWalker{b: b, doc: b.Doc(), resolve: resolve}
}

var inlineStyles = map[atom.Atom]doctree.Style{
	atom.B:      doctree.Bold,
	atom.Strong: doctree.Bold,
	atom.I:      doctree.Italic,
	atom.Em:     doctree.Italic,
	atom.Cite:   doctree.Italic,
	atom.Dfn:    doctree.Italic,
	atom.Var:    doctree.Italic,
	atom.U:      doctree.Underline,
	atom.Ins:    doctree.Underline,
	atom.S:      doctree.Strike,
	atom.Strike: doctree.Strike,
	atom.Del:    doctree.Strike,
	atom.Code:   doctree.Code,
	atom.Kbd:    doctree.Code,
	atom.Samp:   doctree.Code,
	atom.Tt:     doctree.Code,
	atom.Sup:    doctree.Superscript,
	atom.Sub:    doctree.Subscript,
}

// containers become paragraph contexts so their text never merges with siblings
var containers = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true, atom.Header: true,
	atom.Footer: true, atom.Main: true, atom.Aside: true, atom.Nav: true, atom.Figure: true,
	atom.Figcaption: true, atom.Address: true, atom.Dl: true, atom.Dt: true, atom.Dd: true,
	atom.Caption: true, atom.Center: true, atom.Details: true, atom.Summary: true,
}

var silent = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Template: true,
	atom.Noscript: true, atom.Title: true, atom.Link: true, atom.Meta: true,
	atom.Button: true, atom.Select: true, atom.Textarea: true, atom.Input: true,
}

var unsupported = map[atom.Atom]string{
	atom.Video:  FeatureMedia,
	atom.Audio:  FeatureMedia,
	atom.Iframe: FeatureFrame,
	atom.Frame:  FeatureFrame,
	atom.Object: FeatureEmbeddedObject,
	atom.Embed:  FeatureEmbeddedObject,
	atom.Canvas: FeatureEmbeddedObject,
	atom.Form:   FeatureForm,
}

func (w *htmlWalker) walk(n *html.Node, style doctree.Style, href string) {
	switch n.Type {
	case html.DocumentNode:
		w.children(n, style, href)
		return
	case html.TextNode:
		w.b.Text(n.Data, style, href)
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.Namespace {
	case "svg":
		w.svg(n)
		return
	case "math":
		w.doc.Skip(FeatureMath, "")
		return
	}

	if silent[n.DataAtom] {
		return
	}
	if feature, ok := unsupported[n.DataAtom]; ok {
		w.doc.Skip(feature, n.Data)
		return
	}
	if s, ok := inlineStyles[n.DataAtom]; ok {
		w.children(n, style|s, href)
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		w.block(n, doctree.BlockHeading, int(n.Data[1]-'0'), false, style, href)
	case atom.Ul, atom.Ol, atom.Menu:
		w.lists = append(w.lists, n.DataAtom == atom.Ol)
		w.children(n, style, href)
		w.lists = w.lists[:len(w.lists)-1]
	case atom.Li:
		depth, ordered := len(w.lists), false
		if depth == 0 {
			depth = 1
		} else {
			ordered = w.lists[depth-1]
		}
		w.block(n, doctree.BlockListItem, depth, ordered, style, href)
	case atom.Blockquote:
		w.block(n, doctree.BlockQuote, 0, false, style, href)
	case atom.Pre, atom.Listing, atom.Xmp:
		w.block(n, doctree.BlockPreformatted, 0, false, style, href)
	case atom.Hr:
		w.b.Rule()
	case atom.Br:
		w.b.LineBreak()
	case atom.Img:
		w.image(attr(n, "src"), attr(n, "alt"))
	case atom.A:
		w.children(n, style, linkTarget(attr(n, "href"), href))
	case atom.Table:
		if w.table == 0 {
			w.doc.Skip(FeatureTable, "flattened into paragraphs")
		}
		w.table++
		w.children(n, style, href)
		w.table--
	case atom.Tr:
		w.block(n, doctree.BlockParagraph, 0, false, style, href)
	case atom.Td, atom.Th:
		w.children(n, style, href)
		w.b.Text(" ", style, href)
	default:
		if containers[n.DataAtom] {
			w.block(n, doctree.BlockParagraph, 0, false, style, href)
			return
		}
		w.children(n, style, href)
	}
}

func (w *htmlWalker) block(n *html.Node, kind doctree.BlockKind, level int, ordered bool, style doctree.Style, href string) {
	w.b.Open(kind, level, ordered)
	w.children(n, style, href)
	w.b.Close()
}

func (w *htmlWalker) children(n *html.Node, style doctree.Style, href string) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, style, href)
	}
}

// svg keeps raster images referenced from inline SVG and drops the drawing itself
func (w *htmlWalker) svg(n *html.Node) {
	if n.Data == "image" {
		ref := attr(n, "href")
		w.image(ref, attr(n, "title"))
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			w.svg(c)
		}
	}
}

func (w *htmlWalker) image(src, alt string) {
	src = strings.TrimSpace(src)
	if src == "" {
		return
	}
	if len(src) > 5 && strings.EqualFold(src[:5], "data:") {
		data, ct, err := decodeDataURI(src)
		if err != nil {
			w.doc.Skip(FeatureDataURI, err.Error())
			return
		}
		w.b.Image(w.doc.Embed(data, ct), alt)
		return
	}
	if isExternal(src) {
		w.doc.Skip(FeatureExternalImage, src)
		return
	}
	if p := w.resolve(src); p != "" {
		w.b.Image(p, alt)
	}
}

// attr returns the value of the named attribute in any namespace
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func isExternal(ref string) bool {
	if strings.HasPrefix(ref, "//") {
		return true
	}
	u, err := url.Parse(ref)
	return err == nil && u.Scheme != ""
}

// linkTarget keeps absolute web and mail links. In-document anchors drop the link.
func linkTarget(raw, inherited string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return inherited
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if u.Host == "" {
			return inherited
		}
		return u.String()
	case "mailto":
		return u.String()
	}
	return inherited
}

// relativeRef cleans a relative reference against base, the directory of the referencing
// document inside the payload. Query and fragment are dropped.
func relativeRef(base, ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	if strings.HasPrefix(ref, "/") {
		return strings.TrimPrefix(path.Clean(ref), "/")
	}
	p := path.Clean(path.Join(base, ref))
	if p == "." || strings.HasPrefix(p, "../") || p == ".." {
		return ""
	}
	return p
}

// documentTitle returns the text of the first <title> element
func documentTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var sb strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				sb.WriteString(c.Data)
			}
		}
		return strings.Join(strings.Fields(sb.String()), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := documentTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// findBody returns the <body> element, or nil when there is none
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
