package parser

import (
	"context"
	"encoding/xml"
	"errors"
	"path"
	"strings"

	"golang.org/x/net/html"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

const containerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Titles   []string       `xml:"metadata>title"`
	Manifest []manifestItem `xml:"manifest>item"`
	Spine    struct {
		Toc      string `xml:"toc,attr"`
		Itemrefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

func (it manifestItem) navigation() bool {
	for _, p := range strings.Fields(it.Properties) {
		if p == "nav" {
			return true
		}
	}
	return it.MediaType == "application/x-dtbncx+xml"
}

func (it manifestItem) chapter() bool {
	switch it.MediaType {
	case "application/xhtml+xml", "text/html":
		return true
	}
	return isChapterName(it.Href)
}

func isChapterName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".xhtml", ".html", ".htm":
		return true
	}
	return false
}

// isNavigationName matches table-of-contents documents found without an OPF
func isNavigationName(name string) bool {
	base := strings.ToLower(path.Base(name))
	return strings.Contains(base, "toc") || strings.Contains(base, "nav")
}

func parseEPUB(ctx context.Context, payload []byte, opts Options) (*doctree.Document, error) {
	a, err := openArchive(payload, opts.MaxEntryBytes)
	if err != nil {
		return nil, err
	}

	b := doctree.NewBuilder()
	chapters, title, err := epubChapters(a)
	if err != nil {
		return nil, err
	}
	b.Doc().Title = title

	for _, ch := range chapters {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := a.read(ch)
		if errors.Is(err, errEntryMissing) {
			return nil, malformed("spine document %s missing", ch)
		}
		if err != nil {
			return nil, err
		}
		if err := walkChapter(b, ch, data); err != nil {
			return nil, err
		}
		b.ChapterBreak()
	}
	return b.Finish(), nil
}

// epubChapters lists the reading-order documents. Without a container the archive is scanned
// for markup entries in archive order.
func epubChapters(a *archive) ([]string, string, error) {
	raw, err := a.read(containerPath)
	if errors.Is(err, errEntryMissing) {
		return scanChapters(a), "", nil
	}
	if err != nil {
		return nil, "", err
	}

	var c epubContainer
	if err := xml.Unmarshal(raw, &c); err != nil {
		return nil, "", malformed("container.xml: %v", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return nil, "", malformed("container.xml names no package document")
	}

	opfPath := strings.TrimPrefix(c.Rootfiles[0].FullPath, "/")
	raw, err = a.read(opfPath)
	if errors.Is(err, errEntryMissing) {
		return nil, "", malformed("package document %s missing", opfPath)
	}
	if err != nil {
		return nil, "", err
	}

	var pkg epubPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, "", malformed("package document: %v", err)
	}

	var title string
	for _, t := range pkg.Titles {
		if t = strings.TrimSpace(t); t != "" {
			title = t
			break
		}
	}

	items := make(map[string]manifestItem, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		items[it.ID] = it
	}

	base := path.Dir(opfPath)
	var chapters []string
	for _, ref := range pkg.Spine.Itemrefs {
		it, ok := items[ref.IDRef]
		if !ok || ref.IDRef == pkg.Spine.Toc || it.navigation() || !it.chapter() {
			continue
		}
		if p := relativeRef(base, it.Href); p != "" {
			chapters = append(chapters, p)
		}
	}
	if len(chapters) == 0 {
		chapters = scanChapters(a)
	}
	return chapters, title, nil
}

func scanChapters(a *archive) []string {
	var chapters []string
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() || !isChapterName(f.Name) || isNavigationName(f.Name) {
			continue
		}
		chapters = append(chapters, f.Name)
	}
	return chapters
}

func walkChapter(b *doctree.Builder, name string, data []byte) error {
	r, err := decodeMarkup(data, "application/xhtml+xml")
	if err != nil {
		return err
	}
	root, err := html.Parse(r)
	if err != nil {
		return malformed("chapter %s: %v", name, err)
	}

	dir := path.Dir(name)
	w := newHTMLWalker(b, func(ref string) string {
		return relativeRef(dir, ref)
	})
	walkBody(w, root)
	return nil
}
