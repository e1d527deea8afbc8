package models

import "time"

// ContentUpload 上传记录数据库模型
type ContentUpload struct {
	ID               string  `gorm:"primaryKey;type:varchar(36)"`
	BookID           *string `gorm:"type:varchar(36);index:idx_content_upload_book_id"`
	OriginalFilename string  `gorm:"type:text;not null"`
	Format           string  `gorm:"type:varchar(16);not null"`
	HTMLContent      string  `gorm:"column:html_content;type:text;not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Images []UploadedImage `gorm:"foreignKey:UploadID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name
func (ContentUpload) TableName() string {
	return "ContentUpload"
}

// UploadedImage 图片数据库模型
type UploadedImage struct {
	ID           string `gorm:"primaryKey;type:varchar(36)"`
	UploadID     string `gorm:"type:varchar(36);not null;index:idx_uploaded_image_upload_id"`
	OriginalPath string `gorm:"type:text;not null"`
	CDNURL       string `gorm:"column:cdn_url;type:text;not null"`
	ContentType  string `gorm:"type:varchar(255);not null"`
	Size         int64  `gorm:"not null"`
	CreatedAt    time.Time
}

// TableName specifies the table name
func (UploadedImage) TableName() string {
	return "UploadedImage"
}
