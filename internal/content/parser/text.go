package parser

import (
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

var blankLines = regexp.MustCompile(`\n[ \t]*\n`)

// parseText treats blank lines as paragraph separators and single newlines as line breaks.
// A UTF-16 byte order mark switches decoding; otherwise the payload is UTF-8 with invalid
// sequences replaced.
func parseText(payload []byte) (*doctree.Document, error) {
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), payload)
	if err != nil {
		return nil, malformed("decode text: %v", err)
	}
	s := strings.ReplaceAll(string(decoded), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	b := doctree.NewBuilder()
	for _, para := range blankLines.Split(s, -1) {
		para = strings.Trim(para, "\n")
		if strings.TrimSpace(para) == "" {
			continue
		}
		b.Open(doctree.BlockParagraph, 0, false)
		for i, line := range strings.Split(para, "\n") {
			if i > 0 {
				b.LineBreak()
			}
			b.Text(line, 0, "")
		}
		b.Close()
	}
	return b.Finish(), nil
}
