package parser

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseHTML(payload []byte) (*doctree.Document, error) {
	r, err := decodeMarkup(payload, "text/html")
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, malformed("parse html: %v", err)
	}

	b := doctree.NewBuilder()
	b.Doc().Title = documentTitle(root)
	w := newHTMLWalker(b, func(ref string) string {
		return relativeRef("", ref)
	})
	walkBody(w, root)
	return b.Finish(), nil
}

func walkBody(w *htmlWalker, root *html.Node) {
	if bd := findBody(root); bd != nil {
		w.walk(bd, 0, "")
		return
	}
	w.walk(root, 0, "")
}

// decodeMarkup returns a UTF-8 reader over payload. Valid UTF-8 is taken as is; anything else
// goes through BOM, content type and <meta> charset detection.
func decodeMarkup(payload []byte, contentType string) (io.Reader, error) {
	if utf8.Valid(payload) {
		return bytes.NewReader(bytes.TrimPrefix(payload, utf8BOM)), nil
	}
	r, err := charset.NewReader(bytes.NewReader(payload), contentType)
	if err != nil {
		return nil, malformed("decode charset: %v", err)
	}
	return r, nil
}
