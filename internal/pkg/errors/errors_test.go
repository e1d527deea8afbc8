package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsExistingCode(t *testing.T) {
	inner := New(ErrContentMalformed, "truncated archive")
	wrapped := Wrap(fmt.Errorf("ingest: %w", inner), ErrInternalServer)

	assert.Equal(t, ErrContentMalformed, wrapped.Code)
	assert.True(t, Is(wrapped, ErrContentMalformed))
	assert.Nil(t, Wrap(nil, ErrInternalServer))
}

func TestExtractCodeAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		status int
	}{
		{"unsupported", New(ErrContentUnsupportedFormat), ErrContentUnsupportedFormat, http.StatusUnsupportedMediaType},
		{"too large", New(ErrContentTooLarge), ErrContentTooLarge, http.StatusRequestEntityTooLarge},
		{"not found", New(ErrContentUploadNotFound), ErrContentUploadNotFound, http.StatusNotFound},
		{"plain error", stderrors.New("boom"), ErrInternalServer, http.StatusInternalServerError},
		{"unknown code", New(424242), 424242, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := ExtractCode(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, GetHTTPStatus(code))
		})
	}
}

func TestGetDetailsHidesInternalCauses(t *testing.T) {
	internal := Wrap(stderrors.New("pq: connection refused"), ErrContentPersistFailed)
	assert.Empty(t, GetDetails(internal))

	client := Wrap(stderrors.New("zip: not a valid zip file"), ErrContentMalformed)
	assert.Equal(t, "zip: not a valid zip file", GetDetails(client))

	assert.Equal(t, "Malformed document: bad", FormatError(ErrContentMalformed, "bad"))
	assert.Equal(t, "Malformed document", FormatError(ErrContentMalformed))
}
