package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

const (
	docxDocument  = "word/document.xml"
	docxRels      = "word/_rels/document.xml.rels"
	docxNumbering = "word/numbering.xml"
	docxStyles    = "word/styles.xml"
	docxCore      = "docProps/core.xml"

	nsRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	nsMarkupCompat  = "http://schemas.openxmlformats.org/markup-compatibility/2006"
)

type relationship struct {
	ID         string `xml:"Id,attr"`
	Type       string `xml:"Type,attr"`
	Target     string `xml:"Target,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

func (r relationship) external() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

type valAttr struct {
	Val string `xml:"val,attr"`
}

type numberingPart struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			Ilvl   int     `xml:"ilvl,attr"`
			NumFmt valAttr `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string  `xml:"numId,attr"`
		Abstract valAttr `xml:"abstractNumId"`
	} `xml:"num"`
}

type stylesPart struct {
	Styles []struct {
		ID      string   `xml:"styleId,attr"`
		Name    valAttr  `xml:"name"`
		BasedOn valAttr  `xml:"basedOn"`
		Outline *valAttr `xml:"pPr>outlineLvl"`
	} `xml:"style"`
}

// numbering answers whether a list instance at a level is ordered
type numbering map[string]map[int]string

func (n numbering) ordered(numID string, ilvl int) bool {
	switch n[numID][ilvl] {
	case "", "bullet", "none":
		return false
	}
	return true
}

func loadNumbering(a *archive) (numbering, error) {
	raw, err := a.read(docxNumbering)
	if errors.Is(err, errEntryMissing) {
		return numbering{}, nil
	}
	if err != nil {
		return nil, err
	}
	var part numberingPart
	if err := xml.Unmarshal(raw, &part); err != nil {
		return nil, malformed("numbering.xml: %v", err)
	}

	formats := make(map[string]map[int]string, len(part.Abstract))
	for _, abs := range part.Abstract {
		levels := make(map[int]string, len(abs.Levels))
		for _, l := range abs.Levels {
			levels[l.Ilvl] = l.NumFmt.Val
		}
		formats[abs.ID] = levels
	}
	n := make(numbering, len(part.Nums))
	for _, num := range part.Nums {
		n[num.ID] = formats[num.Abstract.Val]
	}
	return n, nil
}

// paragraphStyle classifies a paragraph style id
type paragraphStyle struct {
	heading int
	quote   bool
	pre     bool
}

func loadStyles(a *archive) (map[string]paragraphStyle, error) {
	styles := make(map[string]paragraphStyle)
	raw, err := a.read(docxStyles)
	if errors.Is(err, errEntryMissing) {
		return styles, nil
	}
	if err != nil {
		return nil, err
	}
	var part stylesPart
	if err := xml.Unmarshal(raw, &part); err != nil {
		return nil, malformed("styles.xml: %v", err)
	}

	for _, s := range part.Styles {
		ps := classifyStyle(s.Name.Val)
		if ps == (paragraphStyle{}) {
			ps = classifyStyle(s.ID)
		}
		if ps.heading == 0 && s.Outline != nil {
			if lvl, err := strconv.Atoi(s.Outline.Val); err == nil && lvl >= 0 && lvl < 6 {
				ps.heading = lvl + 1
			}
		}
		styles[s.ID] = ps
	}
	return styles, nil
}

func classifyStyle(name string) paragraphStyle {
	n := strings.ToLower(strings.ReplaceAll(name, " ", ""))
	switch {
	case n == "title":
		return paragraphStyle{heading: 1}
	case n == "subtitle":
		return paragraphStyle{heading: 2}
	case strings.HasPrefix(n, "heading"):
		if lvl, err := strconv.Atoi(strings.TrimPrefix(n, "heading")); err == nil && lvl >= 1 && lvl <= 6 {
			return paragraphStyle{heading: lvl}
		}
	case strings.Contains(n, "quote"):
		return paragraphStyle{quote: true}
	case n == "htmlpreformatted", n == "code", n == "sourcecode":
		return paragraphStyle{pre: true}
	}
	return paragraphStyle{}
}

func loadRelationships(a *archive) (map[string]relationship, error) {
	rels := make(map[string]relationship)
	raw, err := a.read(docxRels)
	if errors.Is(err, errEntryMissing) {
		return rels, nil
	}
	if err != nil {
		return nil, err
	}
	var part struct {
		Items []relationship `xml:"Relationship"`
	}
	if err := xml.Unmarshal(raw, &part); err != nil {
		return nil, malformed("document relationships: %v", err)
	}
	for _, r := range part.Items {
		rels[r.ID] = r
	}
	return rels, nil
}

func loadTitle(a *archive) string {
	raw, err := a.read(docxCore)
	if err != nil {
		return ""
	}
	var core struct {
		Title string `xml:"title"`
	}
	if xml.Unmarshal(raw, &core) != nil {
		return ""
	}
	return strings.TrimSpace(core.Title)
}

func parseDOCX(ctx context.Context, payload []byte, opts Options) (*doctree.Document, error) {
	a, err := openArchive(payload, opts.MaxEntryBytes)
	if err != nil {
		return nil, err
	}
	raw, err := a.read(docxDocument)
	if errors.Is(err, errEntryMissing) {
		return nil, malformed("%s missing", docxDocument)
	}
	if err != nil {
		return nil, err
	}

	w := &docxWalker{b: doctree.NewBuilder()}
	if w.rels, err = loadRelationships(a); err != nil {
		return nil, err
	}
	if w.numbering, err = loadNumbering(a); err != nil {
		return nil, err
	}
	if w.styles, err = loadStyles(a); err != nil {
		return nil, err
	}
	w.b.Doc().Title = loadTitle(a)

	if err := w.run(ctx, raw); err != nil {
		return nil, err
	}
	return w.b.Finish(), nil
}

type docxEvent struct {
	kind  doctree.SpanKind
	text  string
	style doctree.Style
	href  string
	alt   string
}

// maxListLevel is the deepest w:ilvl OOXML defines (levels 0..8)
const maxListLevel = 8

type docxParagraph struct {
	style  string
	numID  string
	ilvl   int
	events []docxEvent
}

// docxWalker streams word/document.xml. Paragraph properties precede the runs they govern but
// the block kind is only known once they are read, so inline content is buffered per paragraph.
type docxWalker struct {
	b         *doctree.Builder
	rels      map[string]relationship
	numbering numbering
	styles    map[string]paragraphStyle

	paras []*docxParagraph
	style doctree.Style
	inRPr bool
	inPPr bool
	links []string
	alt   string
	skip  int
	table int
}

func (w *docxWalker) run(ctx context.Context, raw []byte) error {
	d := xml.NewDecoder(bytes.NewReader(raw))
	for n := 0; ; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return malformed("document.xml: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := w.start(d, t); err != nil {
				return err
			}
		case xml.EndElement:
			w.end(t)
		}
	}
	if len(w.paras) > 0 {
		return malformed("document.xml: unterminated paragraph")
	}
	return nil
}

func (w *docxWalker) start(d *xml.Decoder, t xml.StartElement) error {
	if w.skip > 0 {
		w.skip++
		return nil
	}

	switch t.Name.Local {
	case "Fallback":
		if t.Name.Space == nsMarkupCompat {
			w.skip = 1
		}
	case "instrText", "delText", "delInstrText":
		w.skip = 1
	case "oMath", "oMathPara":
		w.doc().Skip(FeatureMath, "")
		w.skip = 1
	case "object":
		w.doc().Skip(FeatureEmbeddedObject, "ole object")
		w.skip = 1
	case "tbl":
		if w.table == 0 {
			w.doc().Skip(FeatureTable, "flattened into paragraphs")
		}
		w.table++
	case "p":
		w.paras = append(w.paras, &docxParagraph{})
	case "pPr":
		w.inPPr = true
	case "rPr":
		w.inRPr = true
	case "pStyle":
		if p := w.para(); p != nil && w.inPPr {
			p.style = attrValue(t, "val")
		}
	case "ilvl":
		if p := w.para(); p != nil && w.inPPr {
			if lvl, err := strconv.Atoi(attrValue(t, "val")); err == nil {
				p.ilvl = min(max(lvl, 0), maxListLevel)
			}
		}
	case "numId":
		if p := w.para(); p != nil && w.inPPr {
			p.numID = attrValue(t, "val")
		}
	case "r":
		w.style = 0
	case "b", "i", "u", "strike", "dstrike", "vertAlign":
		if w.inRPr && !w.inPPr {
			w.runProperty(t)
		}
	case "t":
		var s string
		if err := d.DecodeElement(&s, &t); err != nil {
			return malformed("document.xml: %v", err)
		}
		w.emit(docxEvent{kind: doctree.SpanText, text: s})
	case "tab":
		if !w.inPPr {
			w.emit(docxEvent{kind: doctree.SpanText, text: "\t"})
		}
	case "br":
		if typ := attrValue(t, "type"); typ == "" || typ == "textWrapping" {
			w.emit(docxEvent{kind: doctree.SpanLineBreak})
		}
	case "cr":
		w.emit(docxEvent{kind: doctree.SpanLineBreak})
	case "hyperlink":
		href := ""
		if r, ok := w.rels[relID(t, "id")]; ok && r.external() {
			href = linkTarget(r.Target, "")
		}
		w.links = append(w.links, href)
	case "docPr":
		w.alt = attrValue(t, "descr")
		if w.alt == "" {
			w.alt = attrValue(t, "title")
		}
	case "blip":
		w.image(relID(t, "embed"), w.alt)
	case "imagedata":
		w.image(relID(t, "id"), attrValue(t, "title"))
	}
	return nil
}

func (w *docxWalker) end(t xml.EndElement) {
	if w.skip > 0 {
		w.skip--
		return
	}

	switch t.Name.Local {
	case "p":
		if n := len(w.paras); n > 0 {
			p := w.paras[n-1]
			w.paras = w.paras[:n-1]
			w.flush(p)
		}
	case "pPr":
		w.inPPr = false
	case "rPr":
		w.inRPr = false
	case "hyperlink":
		if n := len(w.links); n > 0 {
			w.links = w.links[:n-1]
		}
	case "tbl":
		w.table--
	case "inline", "anchor":
		w.alt = ""
	}
}

func (w *docxWalker) doc() *doctree.Document {
	return w.b.Doc()
}

func (w *docxWalker) para() *docxParagraph {
	if n := len(w.paras); n > 0 {
		return w.paras[n-1]
	}
	return nil
}

func (w *docxWalker) emit(ev docxEvent) {
	p := w.para()
	if p == nil {
		return
	}
	if ev.kind == doctree.SpanText {
		ev.style = w.style
		if n := len(w.links); n > 0 {
			ev.href = w.links[n-1]
		}
	}
	p.events = append(p.events, ev)
}

func (w *docxWalker) runProperty(t xml.StartElement) {
	val := strings.ToLower(attrValue(t, "val"))
	switch t.Name.Local {
	case "vertAlign":
		w.style &^= doctree.Superscript | doctree.Subscript
		switch val {
		case "superscript":
			w.style |= doctree.Superscript
		case "subscript":
			w.style |= doctree.Subscript
		}
		return
	}

	var flag doctree.Style
	switch t.Name.Local {
	case "b":
		flag = doctree.Bold
	case "i":
		flag = doctree.Italic
	case "u":
		flag = doctree.Underline
	default:
		flag = doctree.Strike
	}
	switch val {
	case "0", "false", "off", "none":
		w.style &^= flag
	default:
		w.style |= flag
	}
}

func (w *docxWalker) image(id, alt string) {
	if id == "" {
		return
	}
	r, ok := w.rels[id]
	if !ok {
		w.doc().NoteMissing(id)
		return
	}
	if r.external() {
		w.doc().Skip(FeatureExternalImage, r.Target)
		return
	}
	target := r.Target
	if strings.HasPrefix(target, "/") {
		target = strings.TrimPrefix(path.Clean(target), "/")
	} else {
		target = relativeRef("word", target)
	}
	if target != "" {
		w.emit(docxEvent{kind: doctree.SpanImage, text: target, alt: alt})
	}
}

func (w *docxWalker) flush(p *docxParagraph) {
	ps := w.styles[p.style]
	if ps == (paragraphStyle{}) {
		ps = classifyStyle(p.style)
	}

	switch {
	case ps.heading > 0:
		w.b.Open(doctree.BlockHeading, ps.heading, false)
	case p.numID != "" && p.numID != "0":
		w.b.Open(doctree.BlockListItem, p.ilvl+1, w.numbering.ordered(p.numID, p.ilvl))
	case ps.quote:
		w.b.Open(doctree.BlockQuote, 0, false)
	case ps.pre:
		w.b.Open(doctree.BlockPreformatted, 0, false)
	default:
		w.b.Open(doctree.BlockParagraph, 0, false)
	}

	for _, ev := range p.events {
		switch ev.kind {
		case doctree.SpanText:
			w.b.Text(ev.text, ev.style, ev.href)
		case doctree.SpanImage:
			w.b.Image(ev.text, ev.alt)
		case doctree.SpanLineBreak:
			w.b.LineBreak()
		}
	}
	w.b.Close()
}

func attrValue(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func relID(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local && a.Name.Space == nsRelationships {
			return a.Value
		}
	}
	return ""
}
