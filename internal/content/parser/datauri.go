package parser

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
)

// decodeDataURI decodes an RFC 2397 data URI carrying an image
func decodeDataURI(uri string) ([]byte, string, error) {
	if len(uri) < 5 || !strings.EqualFold(uri[:5], "data:") {
		return nil, "", errors.New("not a data uri")
	}
	meta, payload, ok := strings.Cut(uri[5:], ",")
	if !ok {
		return nil, "", errors.New("data uri without payload separator")
	}

	isBase64 := false
	if m, found := strings.CutSuffix(strings.ToLower(meta), ";base64"); found {
		isBase64 = true
		meta = meta[:len(m)]
	}
	contentType := "text/plain"
	if meta != "" {
		mt, _, err := mime.ParseMediaType(meta)
		if err != nil {
			return nil, "", fmt.Errorf("data uri media type: %w", err)
		}
		contentType = mt
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("data uri carries %s, not an image", contentType)
	}

	var (
		data []byte
		err  error
	)
	if isBase64 {
		payload = strings.Map(func(r rune) rune {
			if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
				return -1
			}
			return r
		}, payload)
		if unescaped, uerr := url.PathUnescape(payload); uerr == nil {
			payload = unescaped
		}
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, "", fmt.Errorf("data uri payload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("data uri is empty")
	}
	return data, contentType, nil
}
