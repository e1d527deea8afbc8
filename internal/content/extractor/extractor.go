// Package extractor pulls the image assets referenced by a document out of its payload.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrInvalidAsset  = errors.New("invalid asset")
	ErrAssetTooLarge = errors.New("asset too large")
)

// Asset is an image ready for upload
type Asset struct {
	Path        string
	Data        []byte
	ContentType string
	Size        int64
}

// Failure is an asset that was dropped. Err matches one of the package sentinels or the
// context error.
type Failure struct {
	Path string
	Err  error
}

type Extractor struct {
	maxAssetBytes int64
}

// New returns an Extractor. maxAssetBytes <= 0 disables the size cap.
func New(maxAssetBytes int64) *Extractor {
	return &Extractor{maxAssetBytes: maxAssetBytes}
}

// Extract reads each distinct path from src in order of first appearance. Individual failures
// never abort the run; a cancelled context marks the remaining paths as failed.
func (e *Extractor) Extract(ctx context.Context, src Source, paths []string) ([]Asset, []Failure) {
	var (
		assets   []Asset
		failures []Failure
		seen     = make(map[string]struct{}, len(paths))
	)
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}

		if err := ctx.Err(); err != nil {
			failures = append(failures, Failure{Path: p, Err: err})
			continue
		}

		asset, err := e.extract(src, p)
		if err != nil {
			failures = append(failures, Failure{Path: p, Err: err})
			continue
		}
		assets = append(assets, asset)
	}
	return assets, failures
}

func (e *Extractor) extract(src Source, p string) (Asset, error) {
	data, err := src.Read(p, e.maxAssetBytes)
	if err != nil {
		return Asset{}, err
	}
	if len(data) == 0 {
		return Asset{}, fmt.Errorf("%w: empty", ErrInvalidAsset)
	}
	ct, err := contentType(p, data)
	if err != nil {
		return Asset{}, err
	}
	return Asset{Path: p, Data: data, ContentType: ct, Size: int64(len(data))}, nil
}

// contentType sniffs the bytes. Unrecognized binaries fall back to the file extension; any
// other non-image content is rejected.
func contentType(p string, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return baseType(m.String()), nil
		}
	}

	if mt.Is("application/octet-stream") {
		if byExt := baseType(mime.TypeByExtension(strings.ToLower(path.Ext(p)))); strings.HasPrefix(byExt, "image/") {
			return byExt, nil
		}
	}
	return "", fmt.Errorf("%w: content is %s", ErrInvalidAsset, mt.String())
}

func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
