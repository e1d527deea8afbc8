package extractor

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
)

// Source resolves asset paths to bytes. Implementations return ErrAssetNotFound for unknown
// paths and ErrAssetTooLarge when the asset exceeds max (max <= 0 disables the check).
type Source interface {
	Read(path string, max int64) ([]byte, error)
}

// ArchiveSource serves the entries of an EPUB or DOCX container
type ArchiveSource struct {
	files  map[string]*zip.File
	folded map[string]*zip.File
}

func NewArchiveSource(payload []byte) (*ArchiveSource, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	s := &ArchiveSource{
		files:  make(map[string]*zip.File, len(zr.File)),
		folded: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, ok := s.files[f.Name]; !ok {
			s.files[f.Name] = f
		}
		key := strings.ToLower(f.Name)
		if _, ok := s.folded[key]; !ok {
			s.folded[key] = f
		}
	}
	return s, nil
}

// lookup tries the exact name, the URL-decoded name, then a case-insensitive match
func (s *ArchiveSource) lookup(p string) *zip.File {
	p = strings.TrimPrefix(p, "/")
	if f, ok := s.files[p]; ok {
		return f
	}
	if decoded, err := url.PathUnescape(p); err == nil && decoded != p {
		if f, ok := s.files[decoded]; ok {
			return f
		}
		p = decoded
	}
	return s.folded[strings.ToLower(p)]
}

func (s *ArchiveSource) Read(p string, max int64) ([]byte, error) {
	f := s.lookup(p)
	if f == nil {
		return nil, ErrAssetNotFound
	}
	if max > 0 && f.UncompressedSize64 > uint64(max) {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if max > 0 {
		r = io.LimitReader(rc, max+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	if max > 0 && int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrAssetTooLarge, max)
	}
	return data, nil
}

// EmbeddedSource serves assets carried inline by the document
type EmbeddedSource map[string]doctree.EmbeddedAsset

func (s EmbeddedSource) Read(p string, max int64) ([]byte, error) {
	a, ok := s[p]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if max > 0 && int64(len(a.Data)) > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrAssetTooLarge, len(a.Data))
	}
	return a.Data, nil
}

// MultiSource consults each source in turn until one knows the path
type MultiSource []Source

func (m MultiSource) Read(p string, max int64) ([]byte, error) {
	for _, s := range m {
		data, err := s.Read(p, max)
		if errors.Is(err, ErrAssetNotFound) {
			continue
		}
		return data, err
	}
	return nil, ErrAssetNotFound
}

// EmptySource knows no assets. Flat formats without embedded images use it.
type EmptySource struct{}

func (EmptySource) Read(string, int64) ([]byte, error) {
	return nil, ErrAssetNotFound
}
