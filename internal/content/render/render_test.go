package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

func text(s string) doctree.Span {
	return doctree.Span{Kind: doctree.SpanText, Text: s}
}

func img(path, alt string) doctree.Span {
	return doctree.Span{Kind: doctree.SpanImage, Path: path, Alt: alt}
}

func sampleDocument() *doctree.Document {
	return &doctree.Document{Blocks: []doctree.Block{
		{Kind: doctree.BlockHeading, Level: 1, Spans: []doctree.Span{text("Title & <Co>")}},
		{Kind: doctree.BlockParagraph, Spans: []doctree.Span{
			text("Hello "),
			{Kind: doctree.SpanText, Text: "bold", Style: doctree.Bold | doctree.Italic},
			{Kind: doctree.SpanText, Text: "site", Href: "https://example.com/?a=1&b=2"},
			img("OEBPS/img/1.png", "one"),
			img("OEBPS/img/missing.png", "gone"),
		}},
		{Kind: doctree.BlockListItem, Level: 1, Spans: []doctree.Span{text("a")}},
		{Kind: doctree.BlockListItem, Level: 2, Ordered: true, Spans: []doctree.Span{text("b")}},
		{Kind: doctree.BlockListItem, Level: 1, Spans: []doctree.Span{text("c")}},
		{Kind: doctree.BlockQuote, Spans: []doctree.Span{text("q")}},
		{Kind: doctree.BlockPreformatted, Spans: []doctree.Span{{Kind: doctree.SpanText, Text: "x < y", Style: doctree.Code}}},
		{Kind: doctree.BlockChapterBreak},
		{Kind: doctree.BlockRule},
		{Kind: doctree.BlockParagraph, Spans: []doctree.Span{img("unmapped.png", "")}},
		{Kind: doctree.BlockParagraph, Spans: []doctree.Span{
			{Kind: doctree.SpanText, Text: "js", Href: "javascript:alert(1)"},
			{Kind: doctree.SpanLineBreak},
			{Kind: doctree.SpanText, Text: "mail", Href: "mailto:editor@example.com"},
		}},
	}}
}

var sampleURLs = map[string]string{
	"OEBPS/img/1.png": "https://cdn.example.com/content-images/u1/0_1.png",
}

const sampleHTML = `<h1>Title &amp; &lt;Co&gt;</h1>
<p>Hello <strong><em>bold</em></strong><a href="https://example.com/?a=1&amp;b=2">site</a><img src="https://cdn.example.com/content-images/u1/0_1.png" alt="one"></p>
<ul><li>a<ol><li>b</li></ol></li><li>c</li></ul>
<blockquote><p>q</p></blockquote>
<pre>x &lt; y</pre>
<hr class="chapter-break">
<hr>
<p>js<br><a href="mailto:editor@example.com">mail</a></p>`

func TestRender(t *testing.T) {
	out, err := New(DefaultOptions()).Render(sampleDocument(), sampleURLs)
	require.NoError(t, err)
	assert.Equal(t, sampleHTML, out)
}

func TestRenderWithoutSanitizerMatches(t *testing.T) {
	out, err := New(Options{}).Render(sampleDocument(), sampleURLs)
	require.NoError(t, err)
	assert.Equal(t, sampleHTML, out)
}

func TestRenderIsIdempotent(t *testing.T) {
	r := New(DefaultOptions())
	first, err := r.Render(sampleDocument(), sampleURLs)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Render(sampleDocument(), sampleURLs)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRenderOmitsUnmappedImages(t *testing.T) {
	doc := &doctree.Document{Blocks: []doctree.Block{{Kind: doctree.BlockParagraph, Spans: []doctree.Span{
		img("1.png", ""), img("2.png", ""), img("3.png", ""), img("4.png", ""),
	}}}}
	urls := map[string]string{
		"1.png": "https://cdn.example.com/1.png",
		"2.png": "https://cdn.example.com/2.png",
		"4.png": "https://cdn.example.com/4.png",
	}

	out, err := New(DefaultOptions()).Render(doc, urls)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(out, "<img "))
	assert.NotContains(t, out, "3.png")
}

func TestRenderNestedListWithoutParent(t *testing.T) {
	doc := &doctree.Document{Blocks: []doctree.Block{
		{Kind: doctree.BlockListItem, Level: 2, Spans: []doctree.Span{text("x")}},
		{Kind: doctree.BlockListItem, Level: 1, Ordered: true, Spans: []doctree.Span{text("y")}},
	}}

	out, err := New(DefaultOptions()).Render(doc, nil)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li><ul><li>x</li></ul></li></ul>\n<ol><li>y</li></ol>", out)
}

func TestRenderEscapesAttributeInjection(t *testing.T) {
	doc := &doctree.Document{Blocks: []doctree.Block{{Kind: doctree.BlockParagraph, Spans: []doctree.Span{
		img("a.png", `x" onerror="alert(1)`),
		text("<script>alert(1)</script>"),
	}}}}

	out, err := New(DefaultOptions()).Render(doc, map[string]string{"a.png": "https://cdn.example.com/a.png"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, `" onerror="`)
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRenderInconsistentTree(t *testing.T) {
	r := New(DefaultOptions())

	_, err := r.Render(&doctree.Document{Blocks: []doctree.Block{{Kind: doctree.BlockHeading, Level: 9, Spans: []doctree.Span{text("x")}}}}, nil)
	assert.ErrorIs(t, err, ErrRender)

	b := doctree.NewBuilder()
	b.Open(doctree.BlockQuote, 0, false)
	_, err = r.Render(b.Finish(), nil)
	assert.ErrorIs(t, err, ErrRender)

	_, err = r.Render(nil, nil)
	assert.ErrorIs(t, err, ErrRender)
}

func TestRenderEmptyDocument(t *testing.T) {
	out, err := New(DefaultOptions()).Render(&doctree.Document{}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
