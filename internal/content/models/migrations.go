package models

import (
	"fmt"

	"gorm.io/gorm"
)

const (
	// BookTable 平台书籍表（不由本模块迁移）
	BookTable = "Book"

	bookForeignKey = "fk_content_upload_book"
)

// AutoMigrate 执行内容模块数据库迁移
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ContentUpload{},
		&UploadedImage{},
	); err != nil {
		return err
	}
	return ensureBookForeignKey(db)
}

// ensureBookForeignKey 书籍表存在时创建外键，删除书籍时上传记录的 book_id 置空
func ensureBookForeignKey(db *gorm.DB) error {
	m := db.Migrator()
	if !m.HasTable(BookTable) || m.HasConstraint(&ContentUpload{}, bookForeignKey) {
		return nil
	}
	sql := fmt.Sprintf(
		`ALTER TABLE %q ADD CONSTRAINT %q FOREIGN KEY ("book_id") REFERENCES %q ("id") ON DELETE SET NULL`,
		ContentUpload{}.TableName(), bookForeignKey, BookTable,
	)
	if err := db.Exec(sql).Error; err != nil {
		return fmt.Errorf("failed to add book foreign key: %w", err)
	}
	return nil
}
