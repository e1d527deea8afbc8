// Package doctree is the format-neutral document model produced by the parsers
// and consumed by asset extraction and HTML rendering.
package doctree

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInconsistent marks a tree that violates its structural rules
var ErrInconsistent = errors.New("inconsistent document tree")

type BlockKind uint8

const (
	BlockParagraph BlockKind = iota + 1
	BlockHeading
	BlockListItem
	BlockQuote
	BlockPreformatted
	BlockRule
	BlockChapterBreak
)

var blockKindNames = map[BlockKind]string{
	BlockParagraph:    "paragraph",
	BlockHeading:      "heading",
	BlockListItem:     "list_item",
	BlockQuote:        "quote",
	BlockPreformatted: "preformatted",
	BlockRule:         "rule",
	BlockChapterBreak: "chapter_break",
}

func (k BlockKind) String() string {
	if s, ok := blockKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("block(%d)", k)
}

// Structural blocks carry no inline content
func (k BlockKind) Structural() bool {
	return k == BlockRule || k == BlockChapterBreak
}

type SpanKind uint8

const (
	SpanText SpanKind = iota + 1
	SpanImage
	SpanLineBreak
)

// Style is a bit set of inline formatting
type Style uint8

const (
	Bold Style = 1 << iota
	Italic
	Underline
	Strike
	Code
	Superscript
	Subscript
)

func (s Style) Has(f Style) bool {
	return s&f != 0
}

// Span is one inline run. Image spans carry the asset path as found in the source payload.
type Span struct {
	Kind  SpanKind
	Text  string
	Style Style
	Href  string
	Path  string
	Alt   string
}

// Block is a paragraph-level node. Level is the heading level (1-6) or the list nesting depth.
type Block struct {
	Kind    BlockKind
	Level   int
	Ordered bool
	Spans   []Span
}

// Skip records a construct that was recognized but could not be represented
type Skip struct {
	Feature string
	Detail  string
}

// EmbeddedAsset is an image carried inline by the document itself (data: URIs)
type EmbeddedAsset struct {
	Data        []byte
	ContentType string
}

type Document struct {
	Title    string
	Blocks   []Block
	Skipped  []Skip
	Embedded map[string]EmbeddedAsset

	// Unresolved holds image references the document itself could not map to a path
	Unresolved []string

	defects []string
}

// Skip records an unsupported construct that was left out of the tree
func (d *Document) Skip(feature, detail string) {
	d.Skipped = append(d.Skipped, Skip{Feature: feature, Detail: detail})
}

// NoteMissing records an image reference without a target; the image is left out of the tree
func (d *Document) NoteMissing(ref string) {
	d.Unresolved = append(d.Unresolved, ref)
}

// Embed stores an inline asset and returns the synthetic path that references it.
// Identical payloads share one path.
func (d *Document) Embed(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	path := "embedded/" + hex.EncodeToString(sum[:8]) + extensionFor(contentType)
	if d.Embedded == nil {
		d.Embedded = make(map[string]EmbeddedAsset)
	}
	if _, ok := d.Embedded[path]; !ok {
		d.Embedded[path] = EmbeddedAsset{Data: data, ContentType: contentType}
	}
	return path
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/svg+xml":
		return ".svg"
	case "image/bmp":
		return ".bmp"
	}
	return ".bin"
}

// ImagePaths returns the distinct image paths in order of first appearance
func (d *Document) ImagePaths() []string {
	seen := make(map[string]struct{})
	var paths []string
	for _, b := range d.Blocks {
		for _, s := range b.Spans {
			if s.Kind != SpanImage {
				continue
			}
			if _, ok := seen[s.Path]; ok {
				continue
			}
			seen[s.Path] = struct{}{}
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// Validate checks the structural rules every renderer relies on
func (d *Document) Validate() error {
	if len(d.defects) > 0 {
		return fmt.Errorf("%w: %s", ErrInconsistent, strings.Join(d.defects, "; "))
	}

	for i, b := range d.Blocks {
		if _, ok := blockKindNames[b.Kind]; !ok {
			return fmt.Errorf("%w: block %d has unknown kind %d", ErrInconsistent, i, b.Kind)
		}
		switch {
		case b.Kind == BlockHeading && (b.Level < 1 || b.Level > 6):
			return fmt.Errorf("%w: block %d heading level %d", ErrInconsistent, i, b.Level)
		case b.Kind == BlockListItem && b.Level < 1:
			return fmt.Errorf("%w: block %d list depth %d", ErrInconsistent, i, b.Level)
		case b.Kind.Structural() && len(b.Spans) > 0:
			return fmt.Errorf("%w: block %d (%s) carries inline content", ErrInconsistent, i, b.Kind)
		}

		for j, s := range b.Spans {
			if err := s.validate(); err != nil {
				return fmt.Errorf("%w: block %d span %d: %s", ErrInconsistent, i, j, err)
			}
		}
	}
	return nil
}

func (s Span) validate() error {
	switch s.Kind {
	case SpanText:
		if s.Text == "" {
			return errors.New("empty text span")
		}
		if s.Path != "" {
			return errors.New("text span with asset path")
		}
	case SpanImage:
		if s.Path == "" {
			return errors.New("image span without path")
		}
		if s.Text != "" {
			return errors.New("image span with text")
		}
	case SpanLineBreak:
		if s.Text != "" || s.Path != "" {
			return errors.New("line break with content")
		}
	default:
		return fmt.Errorf("unknown span kind %d", s.Kind)
	}
	return nil
}
