package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/bookshelf-backend/internal/content/biz"
	"github.com/lk2023060901/bookshelf-backend/internal/content/detector"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	apperrors "github.com/lk2023060901/bookshelf-backend/internal/pkg/errors"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/response"
)

const (
	// multipartOverhead 预留给 multipart 边界和其他表单字段
	multipartOverhead = 1 << 20
	maxFieldBytes     = 4 << 10
)

var errBadForm = errors.New("invalid form")

// Ingester HTTP 层使用的导入用例接口
type Ingester interface {
	Ingest(ctx context.Context, req *biz.IngestRequest) (*biz.IngestResult, error)
	Reingest(ctx context.Context, id, filename, hint string, payload []byte) (*biz.IngestResult, error)
	GetUpload(ctx context.Context, id string) (*types.UploadDetail, error)
	ListUploads(ctx context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error)
	DeleteUpload(ctx context.Context, id string) error
}

// Options 上传接口配置
type Options struct {
	MaxPayloadBytes int64
	// RequestTimeout 单次导入超时，0 表示只受客户端连接限制
	RequestTimeout time.Duration
}

// UploadService 上传 HTTP 服务
type UploadService struct {
	useCase Ingester
	opts    Options
}

// NewUploadService 创建上传服务
func NewUploadService(useCase Ingester, opts Options) *UploadService {
	return &UploadService{
		useCase: useCase,
		opts:    opts,
	}
}

// RegisterRoutes 注册路由
func (s *UploadService) RegisterRoutes(r *gin.RouterGroup) {
	uploads := r.Group("/uploads")
	{
		uploads.POST("", s.CreateUpload)
		uploads.GET("/:id", s.GetUpload)
		uploads.DELETE("/:id", s.DeleteUpload)
		uploads.PUT("/:id/content", s.ReplaceContent)
	}
	r.GET("/books/:id/uploads", s.ListBookUploads)
}

// CreateUpload 上传并导入文档
// @Summary Upload document
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Document (epub, docx, html, markdown, text)"
// @Param book_id formData string false "Parent book"
// @Param format formData string false "Format hint"
// @Success 201 {object} uploadResponse
// @Router /api/v1/uploads [post]
func (s *UploadService) CreateUpload(c *gin.Context) {
	doc, ok := s.readDocument(c)
	if !ok {
		return
	}

	req := &biz.IngestRequest{
		Filename:   doc.filename,
		FormatHint: doc.hint,
		Payload:    doc.payload,
	}
	if bookID := doc.fields["book_id"]; bookID != "" {
		req.BookID = &bookID
	}

	ctx, cancel := s.withTimeout(c.Request.Context())
	defer cancel()

	result, err := s.useCase.Ingest(ctx, req)
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Created(c, newUploadResponse(result.Upload, result.Images, result.Warnings))
}

// ReplaceContent 用同格式的新文档重新导入
// @Summary Replace upload content
// @Tags uploads
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Upload ID"
// @Param file formData file true "Document"
// @Success 200 {object} uploadResponse
// @Router /api/v1/uploads/{id}/content [put]
func (s *UploadService) ReplaceContent(c *gin.Context) {
	doc, ok := s.readDocument(c)
	if !ok {
		return
	}

	ctx, cancel := s.withTimeout(c.Request.Context())
	defer cancel()

	result, err := s.useCase.Reingest(ctx, c.Param("id"), doc.filename, doc.hint, doc.payload)
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, newUploadResponse(result.Upload, result.Images, result.Warnings))
}

// GetUpload 获取上传详情
// @Summary Get upload
// @Tags uploads
// @Produce json
// @Param id path string true "Upload ID"
// @Success 200 {object} uploadResponse
// @Router /api/v1/uploads/{id} [get]
func (s *UploadService) GetUpload(c *gin.Context) {
	detail, err := s.useCase.GetUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, newUploadResponse(detail.Upload, detail.Images, nil))
}

// DeleteUpload 删除上传记录、图片及存储对象
// @Summary Delete upload
// @Tags uploads
// @Param id path string true "Upload ID"
// @Success 204
// @Router /api/v1/uploads/{id} [delete]
func (s *UploadService) DeleteUpload(c *gin.Context) {
	if err := s.useCase.DeleteUpload(c.Request.Context(), c.Param("id")); err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.NoContent(c)
}

// ListBookUploads 分页获取书籍的上传列表
// @Summary List book uploads
// @Tags uploads
// @Produce json
// @Param id path string true "Book ID"
// @Param page query int false "Page number, from 1"
// @Param page_size query int false "Page size (default 20, max 100)"
// @Success 200 {array} uploadSummary
// @Router /api/v1/books/{id}/uploads [get]
func (s *UploadService) ListBookUploads(c *gin.Context) {
	var query pageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.BadRequest(c, "page and page_size must be non-negative integers")
		return
	}

	uploads, err := s.useCase.ListUploads(c.Request.Context(), c.Param("id"), types.Page{Number: query.Page, Size: query.PageSize})
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}

	items := make([]uploadSummary, 0, len(uploads))
	for _, u := range uploads {
		items = append(items, newUploadSummary(u))
	}
	response.Success(c, items)
}

type pageQuery struct {
	Page     int `form:"page" binding:"min=0"`
	PageSize int `form:"page_size" binding:"min=0"`
}

type document struct {
	filename string
	hint     string
	payload  []byte
	fields   map[string]string
}

// readDocument 流式读取 multipart 请求体
// "file" 部分先检查开头字节，不支持的格式在读取剩余请求体之前就被拒绝
func (s *UploadService) readDocument(c *gin.Context) (*document, bool) {
	limit := s.opts.MaxPayloadBytes
	if limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
	}

	mr, err := c.Request.MultipartReader()
	if err != nil {
		response.BadRequest(c, "multipart/form-data body is required")
		return nil, false
	}

	doc := &document{fields: make(map[string]string)}
	seen := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			bodyError(c, err)
			return nil, false
		}

		switch {
		case part.FormName() == "file" && !seen:
			seen = true
			doc.filename = part.FileName()
			hint, hinted := doc.fields["format"]
			doc.payload, err = readFile(part, doc.filename, hint, hinted, limit)
		case part.FileName() == "":
			err = readField(part, doc.fields)
		}
		part.Close()
		if err != nil {
			bodyError(c, err)
			return nil, false
		}
	}

	if !seen {
		response.BadRequest(c, "multipart field \"file\" is required")
		return nil, false
	}
	doc.hint = doc.fields["format"]
	return doc, true
}

// readFile 在 limit 内读取文件部分
// 还没读到 format 字段时，只提前拒绝任何格式提示都无法识别的内容；用例会用最终提示重新识别
func readFile(part *multipart.Part, filename, hint string, hinted bool, limit int64) ([]byte, error) {
	prefix, r, err := detector.Peek(part)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(prefix) == 0 {
		return nil, biz.ErrEmptyPayload
	}
	if hinted {
		_, err = detector.Detect(prefix, filename, hint)
	} else {
		err = detector.Screen(prefix, filename)
	}
	if err != nil {
		return nil, err
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if limit > 0 && int64(len(payload)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", biz.ErrPayloadTooLarge, limit)
	}
	return payload, nil
}

func readField(part *multipart.Part, fields map[string]string) error {
	v, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return fmt.Errorf("failed to read form field: %w", err)
	}
	if len(v) > maxFieldBytes {
		return fmt.Errorf("%w: form field %q is too long", errBadForm, part.FormName())
	}
	fields[part.FormName()] = strings.TrimSpace(string(v))
	return nil
}

// bodyError 处理读取请求体的错误
func bodyError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		response.ErrorWithCode(c, apperrors.ErrContentTooLarge)
	case errors.Is(err, errBadForm):
		response.BadRequest(c, err.Error())
	case errors.Is(err, biz.ErrUnsupportedFormat), errors.Is(err, biz.ErrEmptyPayload), errors.Is(err, biz.ErrPayloadTooLarge):
		response.HandleError(c, toAppError(err))
	default:
		response.BadRequest(c, "malformed multipart body")
	}
}

func (s *UploadService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.RequestTimeout)
}

// toAppError 业务错误转换为应用错误码
func toAppError(err error) error {
	code := apperrors.ErrInternalServer
	switch {
	case errors.Is(err, biz.ErrUnsupportedFormat):
		code = apperrors.ErrContentUnsupportedFormat
	case errors.Is(err, biz.ErrMalformedDocument):
		code = apperrors.ErrContentMalformed
	case errors.Is(err, biz.ErrPayloadTooLarge):
		code = apperrors.ErrContentTooLarge
	case errors.Is(err, biz.ErrEmptyPayload):
		code = apperrors.ErrContentEmpty
	case errors.Is(err, biz.ErrIngestionFailed):
		code = apperrors.ErrContentIngestionFailed
	case errors.Is(err, biz.ErrStorageUnavailable):
		code = apperrors.ErrContentStorageFailed
	case errors.Is(err, biz.ErrRender):
		code = apperrors.ErrContentRenderFailed
	case errors.Is(err, biz.ErrPersistFailed):
		code = apperrors.ErrContentPersistFailed
	case errors.Is(err, biz.ErrUploadNotFound):
		code = apperrors.ErrContentUploadNotFound
	case errors.Is(err, biz.ErrBookNotFound):
		code = apperrors.ErrContentBookNotFound
	case errors.Is(err, biz.ErrFormatMismatch):
		code = apperrors.ErrContentFormatMismatch
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		code = apperrors.ErrRequestTimeout
	}
	return apperrors.Wrap(err, code)
}

type imageResponse struct {
	ID           string    `json:"id"`
	OriginalPath string    `json:"original_path"`
	Filename     string    `json:"filename"`
	CDNURL       string    `json:"cdn_url"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

type uploadSummary struct {
	ID               string       `json:"id"`
	BookID           *string      `json:"book_id"`
	OriginalFilename string       `json:"original_filename"`
	Format           types.Format `json:"format"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

type uploadResponse struct {
	uploadSummary
	HTMLContent string          `json:"html_content"`
	Images      []imageResponse `json:"images"`
	Warnings    []biz.Warning   `json:"warnings,omitempty"`
}

func newUploadSummary(u *types.ContentUpload) uploadSummary {
	return uploadSummary{
		ID:               u.ID,
		BookID:           u.BookID,
		OriginalFilename: u.OriginalFilename,
		Format:           u.Format,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func newUploadResponse(u *types.ContentUpload, images []*types.UploadedImage, warnings []biz.Warning) uploadResponse {
	resp := uploadResponse{
		uploadSummary: newUploadSummary(u),
		HTMLContent:   u.HTMLContent,
		Images:        make([]imageResponse, 0, len(images)),
		Warnings:      warnings,
	}
	for _, img := range images {
		resp.Images = append(resp.Images, imageResponse{
			ID:           img.ID,
			OriginalPath: img.OriginalPath,
			Filename:     img.Filename(),
			CDNURL:       img.CDNURL,
			ContentType:  img.ContentType,
			Size:         img.Size,
			CreatedAt:    img.CreatedAt,
		})
	}
	return resp
}
