package biz

import (
	"errors"
	"fmt"

	"github.com/lk2023060901/bookshelf-backend/internal/content/extractor"
	"github.com/lk2023060901/bookshelf-backend/internal/content/parser"
	"github.com/lk2023060901/bookshelf-backend/internal/content/render"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
)

var (
	ErrUnsupportedFormat  = types.ErrUnsupportedFormat
	ErrMalformedDocument  = parser.ErrMalformedDocument
	ErrUnsupportedFeature = parser.ErrUnsupportedFeature
	ErrAssetNotFound      = extractor.ErrAssetNotFound
	ErrRender             = render.ErrRender

	// ErrStorageUnavailable 对象存储不可用
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrIngestionFailed 图片失败比例超出阈值
	ErrIngestionFailed    = errors.New("ingestion failed")
	ErrPersistFailed      = errors.New("persist failed")
	ErrPayloadTooLarge    = errors.New("payload too large")
	ErrEmptyPayload       = errors.New("empty payload")
	ErrUploadNotFound     = errors.New("upload not found")
	ErrBookNotFound       = errors.New("book not found")
	// ErrFormatMismatch 替换内容的格式与原上传不一致
	ErrFormatMismatch     = errors.New("format mismatch")
)

// Stage 导入流程的阶段
type Stage string

const (
	StageDetecting  Stage = "detecting"
	StageParsing    Stage = "parsing"
	StageExtracting Stage = "extracting"
	StageUploading  Stage = "uploading"
	StageRendering  Stage = "rendering"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// IngestError 导入失败的最终错误，带失败所在阶段
type IngestError struct {
	Stage Stage
	Err   error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingestion failed at %s: %v", e.Stage, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}

// FailedStage 返回 err 所在阶段，非导入错误返回空串
func FailedStage(err error) Stage {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return ""
}
