package minio

import (
	"bytes"
	"context"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// PutObjectOptions represents options for uploading an object
type PutObjectOptions struct {
	ContentType  string
	CacheControl string
	UserMetadata map[string]string
}

// UploadInfo describes a stored object
type UploadInfo struct {
	Bucket string
	Key    string
	ETag   string
	Size   int64
	URL    string
}

// ObjectInfo is the metadata of a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.config.RequestTimeout)
}

// PutObject stores data under key in the configured bucket
func (c *Client) PutObject(ctx context.Context, key string, data []byte, opts PutObjectOptions) (UploadInfo, error) {
	if err := c.checkClosed(); err != nil {
		return UploadInfo{}, err
	}

	bucket := c.config.Bucket
	key = SanitizeObjectName(key)
	if err := ValidateObjectName(key); err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucket, key)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		UserMetadata: opts.UserMetadata,
	})
	if err != nil {
		return UploadInfo{}, WrapError("PutObject", err, bucket, key)
	}

	c.logger.Debug("object uploaded",
		zap.String("bucket", bucket),
		zap.String("object", key),
		zap.Int64("size", info.Size),
	)

	return UploadInfo{
		Bucket: bucket,
		Key:    key,
		ETag:   info.ETag,
		Size:   info.Size,
		URL:    c.config.ObjectURL(key),
	}, nil
}

// StatObject returns object metadata
func (c *Client) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	if err := c.checkClosed(); err != nil {
		return ObjectInfo{}, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	info, err := c.client.StatObject(ctx, c.config.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, WrapError("StatObject", err, c.config.Bucket, key)
	}
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

// RemoveObject deletes key; removing a missing object is not an error
func (c *Client) RemoveObject(ctx context.Context, key string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.client.RemoveObject(ctx, c.config.Bucket, key, minio.RemoveObjectOptions{}); err != nil && !IsNotFound(err) {
		return WrapError("RemoveObject", err, c.config.Bucket, key)
	}

	c.logger.Debug("object removed", zap.String("bucket", c.config.Bucket), zap.String("object", key))
	return nil
}
