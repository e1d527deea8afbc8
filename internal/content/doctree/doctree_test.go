package doctree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCollapsesWhitespace(t *testing.T) {
	b := NewBuilder()
	b.Open(BlockParagraph, 0, false)
	b.Text("  Hello\n\t ", 0, "")
	b.Text(" world ", Bold, "")
	b.Text("  again  ", 0, "")
	b.Close()

	doc := b.Finish()
	require.NoError(t, doc.Validate())
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, []Span{
		{Kind: SpanText, Text: "Hello "},
		{Kind: SpanText, Text: "world ", Style: Bold},
		{Kind: SpanText, Text: "again"},
	}, doc.Blocks[0].Spans)
}

func TestBuilderKeepsNoBreakSpace(t *testing.T) {
	b := NewBuilder()
	b.Text("a\u00a0\u00a0b", 0, "")
	doc := b.Finish()
	assert.Equal(t, "a\u00a0\u00a0b", doc.Blocks[0].Spans[0].Text)
}

func TestBuilderPreformatted(t *testing.T) {
	b := NewBuilder()
	b.Open(BlockPreformatted, 0, false)
	b.Text("func main() {\n\tx  := 1\n}", Code, "")
	b.Close()

	doc := b.Finish()
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, BlockPreformatted, doc.Blocks[0].Kind)
	assert.Equal(t, "func main() {\n\tx  := 1\n}", doc.Blocks[0].Spans[0].Text)
}

func TestBuilderParagraphInheritsContainer(t *testing.T) {
	b := NewBuilder()
	b.Open(BlockListItem, 1, true)
	b.Open(BlockParagraph, 0, false)
	b.Text("first", 0, "")
	b.Close()
	b.Open(BlockListItem, 2, false)
	b.Text("nested", 0, "")
	b.Close()
	b.Text("tail", 0, "")
	b.Close()
	b.Open(BlockQuote, 0, false)
	b.Open(BlockParagraph, 0, false)
	b.Text("quoted", Italic, "")
	b.Close()
	b.Close()

	doc := b.Finish()
	require.NoError(t, doc.Validate())
	require.Len(t, doc.Blocks, 4)
	assert.Equal(t, Block{Kind: BlockListItem, Level: 1, Ordered: true, Spans: []Span{{Kind: SpanText, Text: "first"}}}, doc.Blocks[0])
	assert.Equal(t, BlockListItem, doc.Blocks[1].Kind)
	assert.Equal(t, 2, doc.Blocks[1].Level)
	assert.Equal(t, "tail", doc.Blocks[2].Spans[0].Text)
	assert.Equal(t, 1, doc.Blocks[2].Level)
	assert.Equal(t, BlockQuote, doc.Blocks[3].Kind)
}

func TestBuilderLineBreaksAndEmptyBlocks(t *testing.T) {
	b := NewBuilder()
	b.LineBreak()
	b.Open(BlockParagraph, 0, false)
	b.Text("   ", 0, "")
	b.Close()
	b.Open(BlockParagraph, 0, false)
	b.Text("one ", 0, "")
	b.LineBreak()
	b.Text(" two", 0, "")
	b.LineBreak()
	b.Close()

	doc := b.Finish()
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, []Span{
		{Kind: SpanText, Text: "one"},
		{Kind: SpanLineBreak},
		{Kind: SpanText, Text: "two"},
	}, doc.Blocks[0].Spans)
}

func TestBuilderChapterBreaks(t *testing.T) {
	b := NewBuilder()
	b.ChapterBreak()
	b.Text("one", 0, "")
	b.ChapterBreak()
	b.ChapterBreak()
	b.Text("two", 0, "")
	b.ChapterBreak()

	doc := b.Finish()
	kinds := make([]BlockKind, 0, len(doc.Blocks))
	for _, blk := range doc.Blocks {
		kinds = append(kinds, blk.Kind)
	}
	assert.Equal(t, []BlockKind{BlockParagraph, BlockChapterBreak, BlockParagraph}, kinds)
}

func TestImagePathsDeduplicated(t *testing.T) {
	b := NewBuilder()
	b.Image("OEBPS/a.png", "A")
	b.Image("OEBPS/b.png", "")
	b.Open(BlockParagraph, 0, false)
	b.Image("OEBPS/a.png", "again")
	b.Close()

	doc := b.Finish()
	assert.Equal(t, []string{"OEBPS/a.png", "OEBPS/b.png"}, doc.ImagePaths())
}

func TestEmbedSharesPathForIdenticalData(t *testing.T) {
	var doc Document
	p1 := doc.Embed([]byte("png-bytes"), "image/png")
	p2 := doc.Embed([]byte("png-bytes"), "image/png")
	p3 := doc.Embed([]byte("other"), "image/svg+xml")

	assert.Equal(t, p1, p2)
	assert.Regexp(t, `^embedded/[0-9a-f]{16}\.png$`, p1)
	assert.Regexp(t, `\.svg$`, p3)
	assert.Len(t, doc.Embedded, 2)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  *Document
	}{
		{"unknown block kind", &Document{Blocks: []Block{{Kind: 99}}}},
		{"heading level zero", &Document{Blocks: []Block{{Kind: BlockHeading, Level: 0}}}},
		{"heading level seven", &Document{Blocks: []Block{{Kind: BlockHeading, Level: 7}}}},
		{"list without depth", &Document{Blocks: []Block{{Kind: BlockListItem}}}},
		{"rule with spans", &Document{Blocks: []Block{{Kind: BlockRule, Spans: []Span{{Kind: SpanText, Text: "x"}}}}}},
		{"image without path", &Document{Blocks: []Block{{Kind: BlockParagraph, Spans: []Span{{Kind: SpanImage}}}}}},
		{"empty text", &Document{Blocks: []Block{{Kind: BlockParagraph, Spans: []Span{{Kind: SpanText}}}}}},
		{"unknown span", &Document{Blocks: []Block{{Kind: BlockParagraph, Spans: []Span{{Kind: 42}}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.doc.Validate(), ErrInconsistent)
		})
	}

	assert.NoError(t, (&Document{}).Validate())
}

func TestUnterminatedNestingIsInconsistent(t *testing.T) {
	b := NewBuilder()
	b.Open(BlockQuote, 0, false)
	b.Text("never closed", 0, "")
	doc := b.Finish()

	err := doc.Validate()
	require.ErrorIs(t, err, ErrInconsistent)
	assert.Contains(t, err.Error(), "unterminated quote")

	b = NewBuilder()
	b.Close()
	assert.ErrorIs(t, b.Finish().Validate(), ErrInconsistent)
}
