package doctree

import (
	"fmt"
	"strings"
)

type frame struct {
	kind    BlockKind
	level   int
	ordered bool
}

// Builder assembles a Document from a stream of open/close and inline events.
// Whitespace is collapsed the way HTML does, except inside preformatted blocks.
type Builder struct {
	doc       *Document
	stack     []frame
	cur       *Block
	lineStart bool
}

func NewBuilder() *Builder {
	return &Builder{doc: &Document{}}
}

// Doc exposes the document under construction for skips, embeds and the title
func (b *Builder) Doc() *Document {
	return b.doc
}

// Open starts a block context. Paragraphs opened inside a list item or quote inherit its kind.
func (b *Builder) Open(kind BlockKind, level int, ordered bool) {
	b.flush()
	b.stack = append(b.stack, frame{kind: kind, level: level, ordered: ordered})
}

// Close ends the innermost block context
func (b *Builder) Close() {
	b.flush()
	if len(b.stack) == 0 {
		b.doc.defects = append(b.doc.defects, "close without matching open")
		return
	}
	b.stack = b.stack[:len(b.stack)-1]
}

// Depth returns the number of open block contexts
func (b *Builder) Depth() int {
	return len(b.stack)
}

// Rule appends a thematic break
func (b *Builder) Rule() {
	b.standalone(BlockRule)
}

// ChapterBreak separates two chapters of a multi-document source
func (b *Builder) ChapterBreak() {
	b.standalone(BlockChapterBreak)
}

func (b *Builder) standalone(kind BlockKind) {
	b.flush()
	if kind == BlockChapterBreak && len(b.doc.Blocks) == 0 {
		return
	}
	if n := len(b.doc.Blocks); n > 0 && b.doc.Blocks[n-1].Kind == kind {
		return
	}
	b.doc.Blocks = append(b.doc.Blocks, Block{Kind: kind})
}

// Text appends inline text
func (b *Builder) Text(s string, style Style, href string) {
	if s == "" {
		return
	}
	if b.preformatted() {
		b.block().appendText(s, style, href)
		b.lineStart = strings.HasSuffix(s, "\n")
		return
	}

	s = collapseSpace(s)
	if b.cur == nil || b.lineStart {
		s = strings.TrimLeft(s, " ")
	}
	if s == "" {
		return
	}
	b.block().appendText(s, style, href)
	b.lineStart = strings.HasSuffix(s, " ")
}

// Image appends an image reference
func (b *Builder) Image(path, alt string) {
	if path == "" {
		return
	}
	blk := b.block()
	blk.Spans = append(blk.Spans, Span{Kind: SpanImage, Path: path, Alt: strings.TrimSpace(collapseSpace(alt))})
	b.lineStart = false
}

// LineBreak appends a hard line break inside the current block
func (b *Builder) LineBreak() {
	if b.cur == nil {
		return
	}
	b.trimTrailing()
	b.cur.Spans = append(b.cur.Spans, Span{Kind: SpanLineBreak})
	b.lineStart = true
}

// Finish flushes pending content. Contexts left open are reported by Document.Validate.
func (b *Builder) Finish() *Document {
	b.flush()
	for i := len(b.stack) - 1; i >= 0; i-- {
		b.doc.defects = append(b.doc.defects, fmt.Sprintf("unterminated %s", b.stack[i].kind))
	}
	b.stack = nil
	if n := len(b.doc.Blocks); n > 0 && b.doc.Blocks[n-1].Kind == BlockChapterBreak {
		b.doc.Blocks = b.doc.Blocks[:n-1]
	}
	return b.doc
}

func (b *Builder) preformatted() bool {
	for _, f := range b.stack {
		if f.kind == BlockPreformatted {
			return true
		}
	}
	return false
}

// block returns the block receiving inline content, creating it on first use
func (b *Builder) block() *Block {
	if b.cur == nil {
		kind, level, ordered := b.effective()
		b.cur = &Block{Kind: kind, Level: level, Ordered: ordered}
		b.lineStart = true
	}
	return b.cur
}

func (b *Builder) effective() (BlockKind, int, bool) {
	if len(b.stack) == 0 {
		return BlockParagraph, 0, false
	}
	top := b.stack[len(b.stack)-1]
	if top.kind != BlockParagraph {
		return top.kind, top.level, top.ordered
	}
	for i := len(b.stack) - 2; i >= 0; i-- {
		switch f := b.stack[i]; f.kind {
		case BlockListItem, BlockQuote:
			return f.kind, f.level, f.ordered
		}
	}
	return BlockParagraph, 0, false
}

func (b *Builder) flush() {
	if b.cur == nil {
		return
	}
	if b.cur.Kind != BlockPreformatted {
		b.trimTrailing()
	}
	for len(b.cur.Spans) > 0 && b.cur.Spans[len(b.cur.Spans)-1].Kind == SpanLineBreak {
		b.cur.Spans = b.cur.Spans[:len(b.cur.Spans)-1]
	}
	if len(b.cur.Spans) > 0 {
		b.doc.Blocks = append(b.doc.Blocks, *b.cur)
	}
	b.cur = nil
	b.lineStart = false
}

func (b *Builder) trimTrailing() {
	spans := b.cur.Spans
	for len(spans) > 0 {
		last := &spans[len(spans)-1]
		if last.Kind != SpanText {
			break
		}
		last.Text = strings.TrimRight(last.Text, " ")
		if last.Text != "" {
			break
		}
		spans = spans[:len(spans)-1]
	}
	b.cur.Spans = spans
}

func (blk *Block) appendText(s string, style Style, href string) {
	if n := len(blk.Spans); n > 0 {
		last := &blk.Spans[n-1]
		if last.Kind == SpanText && last.Style == style && last.Href == href {
			last.Text += s
			return
		}
	}
	blk.Spans = append(blk.Spans, Span{Kind: SpanText, Text: s, Style: style, Href: href})
}

func collapseSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	space := false
	for _, r := range s {
		if isCollapsible(r) {
			if !space {
				sb.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// isCollapsible matches HTML inter-element whitespace; no-break spaces are content
func isCollapsible(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\f':
		return true
	}
	return false
}
