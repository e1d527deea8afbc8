package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"strings"
)

var errEntryMissing = errors.New("entry missing")

// archive indexes the entries of a ZIP payload by name
type archive struct {
	zr       *zip.Reader
	files    map[string]*zip.File
	maxEntry int64
}

func openArchive(payload []byte, maxEntry int64) (*archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, malformed("open archive: %v", err)
	}
	a := &archive{zr: zr, files: make(map[string]*zip.File, len(zr.File)), maxEntry: maxEntry}
	for _, f := range zr.File {
		if _, dup := a.files[f.Name]; !dup {
			a.files[f.Name] = f
		}
	}
	return a, nil
}

// lookup finds an entry by exact name, then case-insensitively
func (a *archive) lookup(name string) *zip.File {
	name = strings.TrimPrefix(name, "/")
	if f, ok := a.files[name]; ok {
		return f
	}
	for _, f := range a.zr.File {
		if strings.EqualFold(f.Name, name) {
			return f
		}
	}
	return nil
}

func (a *archive) has(name string) bool {
	return a.lookup(name) != nil
}

// read returns the decompressed entry. A missing entry yields errEntryMissing; every other
// failure is a malformed document.
func (a *archive) read(name string) ([]byte, error) {
	f := a.lookup(name)
	if f == nil {
		return nil, errEntryMissing
	}
	return readEntry(f, a.maxEntry)
}

func readEntry(f *zip.File, max int64) ([]byte, error) {
	if max > 0 && f.UncompressedSize64 > uint64(max) {
		return nil, malformed("entry %s exceeds %d bytes", f.Name, max)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, malformed("open entry %s: %v", f.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if max > 0 {
		r = io.LimitReader(rc, max+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed("read entry %s: %v", f.Name, err)
	}
	if max > 0 && int64(len(data)) > max {
		return nil, malformed("entry %s exceeds %d bytes", f.Name, max)
	}
	return data, nil
}
