package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lk2023060901/bookshelf-backend/internal/content/extractor"
	"github.com/lk2023060901/bookshelf-backend/internal/content/metrics"
	"github.com/lk2023060901/bookshelf-backend/internal/content/render"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/logger"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/workerpool"
)

// UploadRepo 上传记录仓储接口
// ctx 携带事务时实现必须使用该事务
type UploadRepo interface {
	// Create 插入上传记录和图片，书籍不存在返回 ErrBookNotFound
	Create(ctx context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error
	GetByID(ctx context.Context, id string) (*types.ContentUpload, error)
	// GetForUpdate 加行锁读取，直到事务结束
	GetForUpdate(ctx context.Context, id string) (*types.ContentUpload, error)
	ListImages(ctx context.Context, uploadID string) ([]*types.UploadedImage, error)
	ListByBook(ctx context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error)
	// ReplaceContent 保存新 html 并替换图片行
	ReplaceContent(ctx context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error
	// Delete 删除上传记录和图片，不存在返回 ErrUploadNotFound
	Delete(ctx context.Context, id string) error
}

// BookRepo 书籍目录仓储接口
type BookRepo interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Transactor 在一个数据库事务内执行 fn，事务通过 ctx 传递
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AssetUploader 图片存储接口（返回公开 URL）
// 失败必须匹配 ErrStorageUnavailable
type AssetUploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, url string) error
}

// IngestOptions 导入策略参数
type IngestOptions struct {
	MaxPayloadBytes      int64
	MaxAssetBytes        int64
	MaxEntryBytes        int64
	UploadConcurrency    int
	UploadRetries        int
	RetryInitialInterval time.Duration
	// FailureThreshold 允许失败的图片比例，超出则整个导入失败
	FailureThreshold    float64
	FailOnStorageOutage bool
	ImageFolder         string
	Sanitize            bool
}

// DefaultIngestOptions 默认参数
func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		MaxPayloadBytes:      50 << 20,
		MaxAssetBytes:        20 << 20,
		MaxEntryBytes:        64 << 20,
		UploadConcurrency:    4,
		UploadRetries:        3,
		RetryInitialInterval: 200 * time.Millisecond,
		FailureThreshold:     0.5,
		FailOnStorageOutage:  true,
		ImageFolder:          "content-images",
		Sanitize:             true,
	}
}

// IngestRequest 导入请求
type IngestRequest struct {
	BookID     *string
	Filename   string
	FormatHint string
	Payload    []byte
}

// IngestResult 导入结果
type IngestResult struct {
	Upload   *types.ContentUpload   `json:"upload"`
	Images   []*types.UploadedImage `json:"images"`
	Warnings []Warning              `json:"warnings"`
}

// IngestUseCase 导入用例
type IngestUseCase struct {
	repo     UploadRepo
	books    BookRepo
	tx       Transactor
	uploader AssetUploader
	pool     *workerpool.Pool
	observer metrics.Observer
	logger   *logger.Logger
	opts     IngestOptions

	extractor *extractor.Extractor
	renderer  *render.Renderer

	now   func() time.Time
	newID func() string
}

// NewIngestUseCase 创建导入用例
func NewIngestUseCase(
	repo UploadRepo,
	books BookRepo,
	tx Transactor,
	uploader AssetUploader,
	pool *workerpool.Pool,
	observer metrics.Observer,
	log *logger.Logger,
	opts IngestOptions,
) *IngestUseCase {
	if observer == nil {
		observer = metrics.NopObserver{}
	}
	if log == nil {
		log = logger.L()
	}
	return &IngestUseCase{
		repo:      repo,
		books:     books,
		tx:        tx,
		uploader:  uploader,
		pool:      pool,
		observer:  observer,
		logger:    log.Named("ingest"),
		opts:      opts,
		extractor: extractor.New(opts.MaxAssetBytes),
		renderer:  render.New(render.Options{Sanitize: opts.Sanitize}),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// GetUpload 获取上传详情（含图片）
func (uc *IngestUseCase) GetUpload(ctx context.Context, id string) (*types.UploadDetail, error) {
	upload, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	images, err := uc.repo.ListImages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return &types.UploadDetail{Upload: upload, Images: images}, nil
}

// ListUploads 分页列出书籍的上传记录（最新在前）
func (uc *IngestUseCase) ListUploads(ctx context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return nil, ErrBookNotFound
	}
	ok, err := uc.books.Exists(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to check book: %w", err)
	}
	if !ok {
		return nil, ErrBookNotFound
	}

	uploads, err := uc.repo.ListByBook(ctx, bookID, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	return uploads, nil
}

// DeleteUpload 先删除已存储的图片，再在一个事务内删除记录
// 存储失败只记录日志，不阻塞删除
func (uc *IngestUseCase) DeleteUpload(ctx context.Context, id string) error {
	ctx = logger.WithUploadID(ctx, id)

	if _, err := uc.repo.GetByID(ctx, id); err != nil {
		return fmt.Errorf("failed to get upload: %w", err)
	}
	images, err := uc.repo.ListImages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}

	uc.discard(ctx, imageURLs(images))

	if err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		return uc.repo.Delete(ctx, id)
	}); err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}

	uc.logger.WithContext(ctx).Info("upload deleted", zap.Int("images", len(images)))
	return nil
}

// discard 尽力删除已存储的对象，不受 ctx 取消影响
func (uc *IngestUseCase) discard(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	log := uc.logger.WithContext(ctx)
	for _, u := range urls {
		if err := uc.uploader.Delete(ctx, u); err != nil {
			log.Warn("failed to delete stored image", zap.String("url", u), zap.Error(err))
		}
	}
}

const cleanupTimeout = 30 * time.Second

func imageURLs(images []*types.UploadedImage) []string {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, img.CDNURL)
	}
	return urls
}
