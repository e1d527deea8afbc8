package data

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/lk2023060901/bookshelf-backend/internal/content/models"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/database"
)

// BookRepo 书籍仓储实现（读取平台的 "Book" 表，表不存在时任何书籍都无法引用）
type BookRepo struct {
	db *database.DB
}

// NewBookRepo 创建书籍仓储
func NewBookRepo(db *database.DB) *BookRepo {
	return &BookRepo{db: db}
}

// Exists 判断书籍是否存在
func (r *BookRepo) Exists(ctx context.Context, id string) (bool, error) {
	db := r.db.Conn(ctx)
	if !db.Migrator().HasTable(models.BookTable) {
		return false, nil
	}

	var count int64
	if err := db.Table(models.BookTable).Where("id = ?", id).Limit(1).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check book: %w", err)
	}
	return count > 0, nil
}

// Transactor 事务执行器
type Transactor struct {
	db *database.DB
}

// NewTransactor 创建事务执行器
func NewTransactor(db *database.DB) *Transactor {
	return &Transactor{db: db}
}

// InTx 在事务内执行 fn，使用该 ctx 的仓储调用加入同一事务
func (t *Transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.Transaction(ctx, func(ctx context.Context, _ *gorm.DB) error {
		return fn(ctx)
	})
}
