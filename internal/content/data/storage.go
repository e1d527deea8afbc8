package data

import (
	"context"
	"fmt"

	"github.com/lk2023060901/bookshelf-backend/internal/content/biz"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/minio"
)

// objectStore 上传器用到的 MinIO 客户端方法
type objectStore interface {
	PutObject(ctx context.Context, key string, data []byte, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, key string) error
}

// CDNUploader 图片上传实现（CDN 前置的 MinIO 桶）
type CDNUploader struct {
	store        objectStore
	config       *minio.Config
	cacheControl string
}

// NewCDNUploader 创建图片上传器，每个对象都带 cacheControl
func NewCDNUploader(client *minio.Client, cacheControl string) *CDNUploader {
	return newCDNUploader(client, client.Config(), cacheControl)
}

func newCDNUploader(store objectStore, config *minio.Config, cacheControl string) *CDNUploader {
	return &CDNUploader{store: store, config: config, cacheControl: cacheControl}
}

// Upload 上传对象并返回公开 URL
func (u *CDNUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	info, err := u.store.PutObject(ctx, key, data, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: u.cacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", biz.ErrStorageUnavailable, err)
	}
	return info.URL, nil
}

// Delete 根据 Upload 返回的 URL 删除对象
func (u *CDNUploader) Delete(ctx context.Context, url string) error {
	key, ok := u.config.KeyFromURL(url)
	if !ok {
		return fmt.Errorf("url %q does not belong to bucket %s", url, u.config.Bucket)
	}
	if err := u.store.RemoveObject(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", biz.ErrStorageUnavailable, err)
	}
	return nil
}
