package types

import (
	"path"
	"strings"
	"time"
)

// ContentUpload 上传记录（导入后的规范化 HTML）
type ContentUpload struct {
	ID               string  `json:"id"`
	BookID           *string `json:"book_id"` // 未关联或书籍已删除时为 nil
	OriginalFilename string  `json:"original_filename"`
	Format           Format  `json:"format"`
	HTMLContent      string  `json:"html_content"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UploadedImage 已上传到 CDN 的图片
type UploadedImage struct {
	ID           string    `json:"id"`
	UploadID     string    `json:"upload_id"`
	OriginalPath string    `json:"original_path"` // 源文档中的引用路径
	CDNURL       string    `json:"cdn_url"`
	ContentType  string    `json:"content_type"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filename 返回原始路径的文件名
func (i *UploadedImage) Filename() string {
	p := strings.TrimRight(strings.ReplaceAll(i.OriginalPath, "\\", "/"), "/")
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// Page 分页参数，Number 从 1 开始，零值使用默认值
type Page struct {
	Number int
	Size   int
}

// UploadDetail 上传详情（含图片）
type UploadDetail struct {
	Upload *ContentUpload   `json:"upload"`
	Images []*UploadedImage `json:"images"`
}
