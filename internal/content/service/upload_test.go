package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/bookshelf-backend/internal/content/biz"
	"github.com/lk2023060901/bookshelf-backend/internal/content/detector"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	apperrors "github.com/lk2023060901/bookshelf-backend/internal/pkg/errors"
)

type fakeIngester struct {
	req      *biz.IngestRequest
	page     types.Page
	reingest string
	err      error
	uploads  map[string]*types.UploadDetail
	deleted  []string
}

func (f *fakeIngester) Ingest(_ context.Context, req *biz.IngestRequest) (*biz.IngestResult, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &biz.IngestResult{
		Upload: &types.ContentUpload{ID: "u1", BookID: req.BookID, OriginalFilename: req.Filename, Format: types.FormatMarkdown, HTMLContent: "<h1>Hi</h1>"},
		Images: []*types.UploadedImage{{ID: "i1", UploadID: "u1", OriginalPath: "embedded/abc.png", CDNURL: "https://cdn/x.png", ContentType: "image/png", Size: 3}},
		Warnings: []biz.Warning{
			{Code: biz.WarningAssetNotFound, Path: "missing.png", Message: "asset not found"},
		},
	}, nil
}

func (f *fakeIngester) Reingest(_ context.Context, id, filename, hint string, payload []byte) (*biz.IngestResult, error) {
	f.reingest = id
	if f.err != nil {
		return nil, f.err
	}
	return &biz.IngestResult{Upload: &types.ContentUpload{ID: id, OriginalFilename: filename, HTMLContent: string(payload)}}, nil
}

func (f *fakeIngester) GetUpload(_ context.Context, id string) (*types.UploadDetail, error) {
	d, ok := f.uploads[id]
	if !ok {
		return nil, fmt.Errorf("failed to get upload: %w", biz.ErrUploadNotFound)
	}
	return d, nil
}

func (f *fakeIngester) ListUploads(_ context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error) {
	f.page = page
	if bookID != "b1" {
		return nil, biz.ErrBookNotFound
	}
	var out []*types.ContentUpload
	for _, d := range f.uploads {
		out = append(out, d.Upload)
	}
	return out, nil
}

func (f *fakeIngester) DeleteUpload(_ context.Context, id string) error {
	if _, ok := f.uploads[id]; !ok {
		return biz.ErrUploadNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(ing Ingester, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewUploadService(ing, opts).RegisterRoutes(r.Group("/api/v1"))
	return r
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, r http.Handler, method, path string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestCreateUpload(t *testing.T) {
	ing := &fakeIngester{}
	r := newRouter(ing, Options{MaxPayloadBytes: 1 << 20, RequestTimeout: time.Minute})

	body, ct := multipartBody(t, "notes.md", []byte("# Hi"), map[string]string{"book_id": "b1", "format": "markdown"})
	w, env := do(t, r, http.MethodPost, "/api/v1/uploads", body, ct)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, apperrors.Success, env.Code)
	require.NotNil(t, ing.req)
	assert.Equal(t, "notes.md", ing.req.Filename)
	assert.Equal(t, "markdown", ing.req.FormatHint)
	assert.Equal(t, []byte("# Hi"), ing.req.Payload)
	require.NotNil(t, ing.req.BookID)
	assert.Equal(t, "b1", *ing.req.BookID)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "u1", resp.ID)
	assert.Equal(t, "<h1>Hi</h1>", resp.HTMLContent)
	require.Len(t, resp.Images, 1)
	assert.Equal(t, "abc.png", resp.Images[0].Filename)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, biz.WarningAssetNotFound, resp.Warnings[0].Code)
}

func TestCreateUploadRejects(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  []byte
		err      error
		status   int
		code     int
	}{
		{"missing file", "", nil, nil, http.StatusBadRequest, apperrors.ErrBadRequest},
		{"empty file", "a.txt", []byte{}, nil, http.StatusBadRequest, apperrors.ErrContentEmpty},
		{"too large", "a.txt", bytes.Repeat([]byte("x"), 2048), nil, http.StatusRequestEntityTooLarge, apperrors.ErrContentTooLarge},
		{"unsupported prefix", "blob.bin", []byte{0, 1, 2, 3, 0xfe, 0xff}, nil, http.StatusUnsupportedMediaType, apperrors.ErrContentUnsupportedFormat},
		{"malformed", "a.txt", []byte("x"), &biz.IngestError{Stage: biz.StageParsing, Err: biz.ErrMalformedDocument}, http.StatusUnprocessableEntity, apperrors.ErrContentMalformed},
		{"escalated", "a.txt", []byte("x"), &biz.IngestError{Stage: biz.StageUploading, Err: fmt.Errorf("%w: all failed: %w", biz.ErrIngestionFailed, biz.ErrStorageUnavailable)}, http.StatusUnprocessableEntity, apperrors.ErrContentIngestionFailed},
		{"book missing", "a.txt", []byte("x"), &biz.IngestError{Stage: biz.StagePersisting, Err: biz.ErrBookNotFound}, http.StatusNotFound, apperrors.ErrContentBookNotFound},
		{"persist", "a.txt", []byte("x"), &biz.IngestError{Stage: biz.StagePersisting, Err: fmt.Errorf("%w: deadlock", biz.ErrPersistFailed)}, http.StatusInternalServerError, apperrors.ErrContentPersistFailed},
		{"timeout", "a.txt", []byte("x"), &biz.IngestError{Stage: biz.StageUploading, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, apperrors.ErrRequestTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &fakeIngester{err: tt.err}
			r := newRouter(ing, Options{MaxPayloadBytes: 1024})

			body, ct := multipartBody(t, tt.filename, tt.content, nil)
			w, env := do(t, r, http.MethodPost, "/api/v1/uploads", body, ct)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, env.Code)
		})
	}
}

func TestCreateUploadRejectsUnsupportedBeforeReadingBody(t *testing.T) {
	var head bytes.Buffer
	w := multipart.NewWriter(&head)
	part, err := w.CreateFormFile("file", "blob.bin")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte{0x00, 0xff, 0x10, 0x80}, detector.PrefixSize/2))
	require.NoError(t, err)

	// the part is never terminated; reading past the first bytes hits the failing reader
	body := io.MultiReader(&head, iotest.ErrReader(errors.New("connection reset")))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	ing := &fakeIngester{}
	newRouter(ing, Options{MaxPayloadBytes: 1 << 20}).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code, rec.Body.String())
	assert.Nil(t, ing.req)
}

func TestCreateUploadFormatFieldAfterFile(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "notes.xyz")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Heading"))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("format", "markdown"))
	require.NoError(t, w.WriteField("book_id", " b1 "))
	require.NoError(t, w.Close())

	ing := &fakeIngester{}
	rec, _ := do(t, newRouter(ing, Options{MaxPayloadBytes: 1024}), http.MethodPost, "/api/v1/uploads", &buf, w.FormDataContentType())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, ing.req)
	assert.Equal(t, "markdown", ing.req.FormatHint)
	assert.Equal(t, "notes.xyz", ing.req.Filename)
	require.NotNil(t, ing.req.BookID)
	assert.Equal(t, "b1", *ing.req.BookID)
}

func TestCreateUploadRequiresMultipart(t *testing.T) {
	ing := &fakeIngester{}
	rec, env := do(t, newRouter(ing, Options{}), http.MethodPost, "/api/v1/uploads", bytes.NewBufferString("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperrors.ErrBadRequest, env.Code)
	assert.Nil(t, ing.req)
}

func TestCreateUploadHidesInternalDetails(t *testing.T) {
	ing := &fakeIngester{err: &biz.IngestError{Stage: biz.StagePersisting, Err: fmt.Errorf("%w: password=secret", biz.ErrPersistFailed)}}
	r := newRouter(ing, Options{})

	body, ct := multipartBody(t, "a.txt", []byte("x"), nil)
	_, env := do(t, r, http.MethodPost, "/api/v1/uploads", body, ct)
	assert.NotContains(t, env.Message, "secret")
}

func TestUploadCRUD(t *testing.T) {
	book := "b1"
	ing := &fakeIngester{uploads: map[string]*types.UploadDetail{
		"u1": {
			Upload: &types.ContentUpload{ID: "u1", BookID: &book, OriginalFilename: "a.epub", Format: types.FormatEPUB, HTMLContent: "<p>x</p>"},
			Images: []*types.UploadedImage{{ID: "i1", OriginalPath: "OEBPS/img/a.png", CDNURL: "https://cdn/a.png"}},
		},
	}}
	r := newRouter(ing, Options{})

	w, env := do(t, r, http.MethodGet, "/api/v1/uploads/u1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &detail))
	assert.Equal(t, "<p>x</p>", detail.HTMLContent)
	assert.Equal(t, "a.png", detail.Images[0].Filename)
	assert.Empty(t, detail.Warnings)

	w, env = do(t, r, http.MethodGet, "/api/v1/uploads/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.ErrContentUploadNotFound, env.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/books/b1/uploads", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0]["id"])
	assert.NotContains(t, list[0], "html_content")

	w, _ = do(t, r, http.MethodGet, "/api/v1/books/b1/uploads?page=3&page_size=5", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.Page{Number: 3, Size: 5}, ing.page)

	w, env = do(t, r, http.MethodGet, "/api/v1/books/b1/uploads?page=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.ErrBadRequest, env.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/books/b9/uploads", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.ErrContentBookNotFound, env.Code)

	w, _ = do(t, r, http.MethodDelete, "/api/v1/uploads/u1", nil, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"u1"}, ing.deleted)

	w, _ = do(t, r, http.MethodDelete, "/api/v1/uploads/zz", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplaceContent(t *testing.T) {
	ing := &fakeIngester{}
	r := newRouter(ing, Options{MaxPayloadBytes: 1024})

	body, ct := multipartBody(t, "a.txt", []byte("new text"), nil)
	w, env := do(t, r, http.MethodPut, "/api/v1/uploads/u7/content", body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "u7", ing.reingest)
	assert.True(t, strings.Contains(string(env.Data), "new text"))

	ing.err = &biz.IngestError{Stage: biz.StageDetecting, Err: biz.ErrFormatMismatch}
	body, ct = multipartBody(t, "a.txt", []byte("new text"), nil)
	w, env = do(t, r, http.MethodPut, "/api/v1/uploads/u7/content", body, ct)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperrors.ErrContentFormatMismatch, env.Code)
}
