// Package parser decodes a payload of a known format into a doctree.Document.
package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/lk2023060901/bookshelf-backend/internal/content/doctree"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
)

var (
	// ErrMalformedDocument means the payload claims a format but cannot be decoded as one
	ErrMalformedDocument = errors.New("malformed document")

	// ErrUnsupportedFeature classifies entries of Document.Skipped. Parsers never return it.
	ErrUnsupportedFeature = errors.New("unsupported feature")
)

// Feature names recorded in Document.Skipped
const (
	FeatureTable          = "table"
	FeatureMath           = "math"
	FeatureEmbeddedObject = "embedded_object"
	FeatureMedia          = "media"
	FeatureForm           = "form"
	FeatureFrame          = "iframe"
	FeatureRawHTML        = "raw_html"
	FeatureExternalImage  = "external_image"
	FeatureDataURI        = "data_uri"
)

type Options struct {
	// MaxEntryBytes caps the decompressed size of a single archive entry. Zero disables the cap.
	MaxEntryBytes int64
}

// Parse decodes payload as format
func Parse(ctx context.Context, format types.Format, payload []byte, opts Options) (*doctree.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		doc *doctree.Document
		err error
	)
	switch format {
	case types.FormatEPUB:
		doc, err = parseEPUB(ctx, payload, opts)
	case types.FormatDOCX:
		doc, err = parseDOCX(ctx, payload, opts)
	case types.FormatHTML:
		doc, err = parseHTML(payload)
	case types.FormatMarkdown:
		doc, err = parseMarkdown(payload)
	case types.FormatText:
		doc, err = parseText(payload)
	default:
		return nil, fmt.Errorf("%w: no parser for %q", types.ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// SkipError converts a recorded skip into an error matching ErrUnsupportedFeature
func SkipError(s doctree.Skip) error {
	if s.Detail == "" {
		return fmt.Errorf("%w: %s", ErrUnsupportedFeature, s.Feature)
	}
	return fmt.Errorf("%w: %s (%s)", ErrUnsupportedFeature, s.Feature, s.Detail)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}
