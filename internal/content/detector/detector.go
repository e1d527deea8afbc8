// Package detector classifies an uploaded payload into one of the supported source formats.
//
// Classification is content first: the ZIP signature and its entry names decide between EPUB
// and DOCX, and mimetype sniffing separates markup from binary data. The filename extension and
// an explicit hint only break ties among formats the content is compatible with.
package detector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
)

// PrefixSize bounds how much of a payload detection looks at
const PrefixSize = 64 << 10

var ErrUnsupportedFormat = types.ErrUnsupportedFormat

var zipSignature = []byte("PK\x03\x04")

const (
	mimeEPUB = "application/epub+zip"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type archiveKind int

const (
	archiveUnknown archiveKind = iota
	archiveEPUB
	archiveDOCX
	archiveOOXML // [Content_Types].xml without a word/ part yet
)

// Detect classifies a payload prefix. filename and hint may be empty.
func Detect(prefix []byte, filename, hint string) (types.Format, error) {
	if len(prefix) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUnsupportedFormat)
	}
	if len(prefix) > PrefixSize {
		prefix = prefix[:PrefixSize]
	}

	var hinted types.Format
	if strings.TrimSpace(hint) != "" {
		f, err := types.ParseFormat(hint)
		if err != nil {
			return "", err
		}
		hinted = f
	}

	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	byExt, extErr := types.ParseFormat(ext)
	if ext == "" {
		extErr = nil
	}

	if bytes.HasPrefix(prefix, zipSignature) {
		return detectArchive(prefix, hinted, byExt)
	}

	if !textual(prefix) {
		return "", fmt.Errorf("%w: binary content %s", ErrUnsupportedFormat, mimetype.Detect(prefix).String())
	}
	if hinted.Markup() {
		return hinted, nil
	}
	if byExt.Markup() {
		return byExt, nil
	}
	if extErr != nil {
		return "", fmt.Errorf("%w: unrecognized extension %q", ErrUnsupportedFormat, ext)
	}
	if byExt.Archive() {
		return "", fmt.Errorf("%w: %s extension on non-archive content", ErrUnsupportedFormat, byExt)
	}
	if isHTML(prefix) {
		return types.FormatHTML, nil
	}
	return types.FormatText, nil
}

// DetectReader reads at most PrefixSize bytes from r and classifies them. The returned reader
// replays the consumed prefix followed by the rest of r.
func DetectReader(r io.Reader, filename, hint string) (types.Format, io.Reader, error) {
	prefix, replay, err := Peek(r)
	if err != nil {
		return "", nil, err
	}
	f, err := Detect(prefix, filename, hint)
	if err != nil {
		return "", replay, err
	}
	return f, replay, nil
}

// Peek reads at most PrefixSize bytes from r. The returned reader replays them followed by the
// rest of r.
func Peek(r io.Reader) ([]byte, io.Reader, error) {
	prefix := make([]byte, PrefixSize)
	n, err := io.ReadFull(r, prefix)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil, fmt.Errorf("read payload prefix: %w", err)
	}
	prefix = prefix[:n]
	return prefix, io.MultiReader(bytes.NewReader(prefix), r), nil
}

// Screen is Detect for a caller that does not know the hint yet. It returns the hint-less
// detection error only when no hint could make the prefix acceptable.
func Screen(prefix []byte, filename string) error {
	_, err := Detect(prefix, filename, "")
	if err == nil {
		return nil
	}
	for _, f := range types.Formats {
		if _, hintErr := Detect(prefix, filename, string(f)); hintErr == nil {
			return nil
		}
	}
	return err
}

func detectArchive(prefix []byte, hinted, byExt types.Format) (types.Format, error) {
	switch archiveFlavour(prefix) {
	case archiveEPUB:
		return types.FormatEPUB, nil
	case archiveDOCX:
		return types.FormatDOCX, nil
	case archiveOOXML:
		if hinted == types.FormatDOCX || byExt == types.FormatDOCX {
			return types.FormatDOCX, nil
		}
		return "", fmt.Errorf("%w: office archive is not a word document", ErrUnsupportedFormat)
	}

	if hinted.Archive() {
		return hinted, nil
	}
	if byExt.Archive() {
		return byExt, nil
	}
	return "", fmt.Errorf("%w: unrecognized zip archive", ErrUnsupportedFormat)
}

func archiveFlavour(prefix []byte) archiveKind {
	mt := mimetype.Detect(prefix)
	switch {
	case mt.Is(mimeEPUB):
		return archiveEPUB
	case mt.Is(mimeDOCX):
		return archiveDOCX
	}

	kind := archiveUnknown
	for _, name := range entryNames(prefix) {
		switch {
		case name == "mimetype", name == "META-INF/container.xml", strings.HasSuffix(name, ".opf"):
			return archiveEPUB
		case strings.HasPrefix(name, "word/"):
			return archiveDOCX
		case name == "[Content_Types].xml":
			kind = archiveOOXML
		}
	}
	return kind
}

// entryNames walks the local file headers contained in prefix
func entryNames(prefix []byte) []string {
	const headerLen = 30
	var names []string
	for off := 0; off+headerLen <= len(prefix); {
		h := prefix[off:]
		if !bytes.HasPrefix(h, zipSignature) {
			break
		}
		flags := binary.LittleEndian.Uint16(h[6:8])
		compressed := int(binary.LittleEndian.Uint32(h[18:22]))
		nameLen := int(binary.LittleEndian.Uint16(h[26:28]))
		extraLen := int(binary.LittleEndian.Uint16(h[28:30]))
		if off+headerLen+nameLen > len(prefix) {
			break
		}
		names = append(names, string(h[headerLen:headerLen+nameLen]))

		next := off + headerLen + nameLen + extraLen
		if flags&0x08 == 0 {
			next += compressed
		} else {
			// sizes live in a trailing data descriptor; resync on the next header
			i := bytes.Index(prefix[min(next, len(prefix)):], zipSignature)
			if i < 0 {
				break
			}
			next += i
		}
		if next <= off {
			break
		}
		off = next
	}
	return names
}

func textual(prefix []byte) bool {
	for mt := mimetype.Detect(prefix); mt != nil; mt = mt.Parent() {
		if mt.Is("text/plain") {
			return true
		}
	}
	return false
}

func isHTML(prefix []byte) bool {
	mt := mimetype.Detect(prefix)
	return mt.Is("text/html") || mt.Is("application/xhtml+xml")
}
