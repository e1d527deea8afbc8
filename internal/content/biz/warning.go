package biz

import (
	"errors"

	"github.com/lk2023060901/bookshelf-backend/internal/content/extractor"
)

// WarningCode 警告类型
type WarningCode string

const (
	WarningAssetNotFound      WarningCode = "asset_not_found"
	WarningAssetInvalid       WarningCode = "asset_invalid"
	WarningAssetTooLarge      WarningCode = "asset_too_large"
	WarningStorageUnavailable WarningCode = "storage_unavailable"
	WarningUnsupportedFeature WarningCode = "unsupported_feature"
)

// Warning 导入成功时附带的警告
type Warning struct {
	Code    WarningCode `json:"code"`
	Path    string      `json:"path,omitempty"`
	Message string      `json:"message"`
}

func assetWarningCode(err error) WarningCode {
	switch {
	case errors.Is(err, extractor.ErrAssetNotFound):
		return WarningAssetNotFound
	case errors.Is(err, extractor.ErrAssetTooLarge):
		return WarningAssetTooLarge
	default:
		return WarningAssetInvalid
	}
}
