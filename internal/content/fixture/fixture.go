// Package fixture builds EPUB, DOCX and image payloads for tests.
package fixture

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

// Entry is one archive member
type Entry struct {
	Name  string
	Body  []byte
	Store bool
}

// Zip writes entries in order
func Zip(tb testing.TB, entries ...Entry) []byte {
	tb.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		method := zip.Deflate
		if e.Store {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.Name, Method: method})
		if err != nil {
			tb.Fatalf("zip entry %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Body); err != nil {
			tb.Fatalf("zip entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// PNG returns a small distinct PNG per seed
func PNG(tb testing.TB, seed int) []byte {
	tb.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1+seed%7, 1+seed/7))
	img.Set(0, 0, color.RGBA{R: uint8(seed * 37), G: uint8(seed * 11), B: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		tb.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// Image is an archive asset
type Image struct {
	Path string
	Data []byte
}

// Book describes an EPUB. Chapter bodies are XHTML fragments placed in OEBPS/Text/;
// image paths are relative to OEBPS/.
type Book struct {
	Title    string
	Chapters []string
	Images   []Image
}

const containerXML = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// Chapter wraps a body fragment in an XHTML document
func Chapter(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE html>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>` + title + `</title><link rel="stylesheet" href="../Styles/style.css"/></head>
<body>` + body + `</body>
</html>`
}

// EPUB assembles a book with a navigation document that is left out of the spine
func EPUB(tb testing.TB, book Book) []byte {
	tb.Helper()
	var manifest, spine strings.Builder
	manifest.WriteString(`<item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>` + "\n")
	spine.WriteString(`<itemref idref="nav" linear="no"/>` + "\n")

	entries := []Entry{
		{Name: "mimetype", Body: []byte("application/epub+zip"), Store: true},
		{Name: "META-INF/container.xml", Body: []byte(containerXML)},
		{Name: "OEBPS/nav.xhtml", Body: []byte(Chapter("Contents", `<nav epub:type="toc"><ol><li><a href="Text/ch1.xhtml">One</a></li></ol></nav>`))},
	}
	for i, body := range book.Chapters {
		id := fmt.Sprintf("ch%d", i+1)
		fmt.Fprintf(&manifest, `<item id="%s" href="Text/%s.xhtml" media-type="application/xhtml+xml"/>`+"\n", id, id)
		fmt.Fprintf(&spine, `<itemref idref="%s"/>`+"\n", id)
		entries = append(entries, Entry{Name: "OEBPS/Text/" + id + ".xhtml", Body: []byte(Chapter(id, body))})
	}
	for i, img := range book.Images {
		fmt.Fprintf(&manifest, `<item id="img%d" href="%s" media-type="image/png"/>`+"\n", i, img.Path)
		entries = append(entries, Entry{Name: "OEBPS/" + img.Path, Body: img.Data})
	}

	opf := `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:identifier id="uid">urn:uuid:fixture</dc:identifier>
    <dc:title>` + book.Title + `</dc:title>
  </metadata>
  <manifest>
` + manifest.String() + `  </manifest>
  <spine>
` + spine.String() + `  </spine>
</package>`
	entries = append(entries, Entry{Name: "OEBPS/content.opf", Body: []byte(opf)})
	return Zip(tb, entries...)
}

// Word describes a DOCX. Body is the inner XML of w:body; media paths are relative to word/
// and receive relationship ids rIdImg1, rIdImg2, ... in order.
type Word struct {
	Body      string
	Media     []Image
	Links     map[string]string
	Numbering string
	Styles    string
}

const wordNamespaces = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" ` +
	`xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" ` +
	`xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing" ` +
	`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" ` +
	`xmlns:pic="http://schemas.openxmlformats.org/drawingml/2006/picture" ` +
	`xmlns:v="urn:schemas-microsoft-com:vml" ` +
	`xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006" ` +
	`xmlns:m="http://schemas.openxmlformats.org/officeDocument/2006/math"`

// DOCX assembles a word document
func DOCX(tb testing.TB, doc Word) []byte {
	tb.Helper()
	var rels strings.Builder
	rels.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
`)
	entries := []Entry{
		{Name: "[Content_Types].xml", Body: []byte(`<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"/>`)},
		{Name: "word/document.xml", Body: []byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document ` + wordNamespaces + `><w:body>` + doc.Body + `</w:body></w:document>`)},
	}
	for i, m := range doc.Media {
		fmt.Fprintf(&rels, `<Relationship Id="rIdImg%d" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/image" Target="%s"/>`+"\n", i+1, m.Path)
		entries = append(entries, Entry{Name: "word/" + m.Path, Body: m.Data})
	}
	for id, target := range doc.Links {
		fmt.Fprintf(&rels, `<Relationship Id="%s" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="%s" TargetMode="External"/>`+"\n", id, target)
	}
	rels.WriteString(`</Relationships>`)
	entries = append(entries, Entry{Name: "word/_rels/document.xml.rels", Body: []byte(rels.String())})

	if doc.Numbering != "" {
		entries = append(entries, Entry{Name: "word/numbering.xml", Body: []byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:numbering ` + wordNamespaces + `>` + doc.Numbering + `</w:numbering>`)})
	}
	if doc.Styles != "" {
		entries = append(entries, Entry{Name: "word/styles.xml", Body: []byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:styles ` + wordNamespaces + `>` + doc.Styles + `</w:styles>`)})
	}
	return Zip(tb, entries...)
}

// Para is a plain w:p with one run
func Para(text string) string {
	return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

// Drawing is an inline picture run referencing relationship id
func Drawing(relID, alt string) string {
	return `<w:r><w:drawing><wp:inline><wp:docPr id="1" name="Picture" descr="` + alt + `"/>` +
		`<a:graphic><a:graphicData uri="http://schemas.openxmlformats.org/drawingml/2006/picture"><pic:pic>` +
		`<pic:blipFill><a:blip r:embed="` + relID + `"/></pic:blipFill></pic:pic></a:graphicData></a:graphic>` +
		`</wp:inline></w:drawing></w:r>`
}

// Truncate cuts a payload in half, losing the central directory
func Truncate(payload []byte) []byte {
	return payload[:len(payload)/2]
}
