package data

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/bookshelf-backend/internal/content/biz"
	"github.com/lk2023060901/bookshelf-backend/internal/content/models"
	"github.com/lk2023060901/bookshelf-backend/internal/content/types"
	"github.com/lk2023060901/bookshelf-backend/internal/pkg/database"
)

const imageBatchSize = 100

// UploadRepo 上传记录仓储实现
type UploadRepo struct {
	db *database.DB
}

// NewUploadRepo 创建上传记录仓储
func NewUploadRepo(db *database.DB) *UploadRepo {
	return &UploadRepo{db: db}
}

// Create 原子插入上传记录和图片
func (r *UploadRepo) Create(ctx context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error {
	return r.atomic(ctx, func(ctx context.Context) error {
		db := r.db.Conn(ctx)
		if err := db.Omit(clause.Associations).Create(toUploadModel(upload)).Error; err != nil {
			if database.IsForeignKeyViolation(err) {
				return biz.ErrBookNotFound
			}
			return fmt.Errorf("failed to create upload: %w", err)
		}
		return r.insertImages(ctx, images)
	})
}

// GetByID 根据 ID 获取上传记录
func (r *UploadRepo) GetByID(ctx context.Context, id string) (*types.ContentUpload, error) {
	return r.get(r.db.Conn(ctx), id)
}

// GetForUpdate 加行锁获取上传记录（直到所在事务结束）
func (r *UploadRepo) GetForUpdate(ctx context.Context, id string) (*types.ContentUpload, error) {
	return r.get(r.db.Conn(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *UploadRepo) get(db *gorm.DB, id string) (*types.ContentUpload, error) {
	var model models.ContentUpload
	if err := db.Where("id = ?", id).First(&model).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrUploadNotFound
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return toUploadDomain(&model), nil
}

// ListImages 列出上传的图片
func (r *UploadRepo) ListImages(ctx context.Context, uploadID string) ([]*types.UploadedImage, error) {
	var modelList []models.UploadedImage
	if err := r.db.Conn(ctx).
		Where("upload_id = ?", uploadID).
		Order("created_at ASC").Order("original_path ASC").
		Find(&modelList).Error; err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	images := make([]*types.UploadedImage, 0, len(modelList))
	for i := range modelList {
		images = append(images, toImageDomain(&modelList[i]))
	}
	return images, nil
}

// ListByBook 分页列出书籍的上传记录（最新在前）
func (r *UploadRepo) ListByBook(ctx context.Context, bookID string, page types.Page) ([]*types.ContentUpload, error) {
	var modelList []models.ContentUpload
	if err := r.db.Conn(ctx).
		Where("book_id = ?", bookID).
		Scopes(database.Newest, database.Paginate(page.Number, page.Size)).
		Find(&modelList).Error; err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}

	uploads := make([]*types.ContentUpload, 0, len(modelList))
	for i := range modelList {
		uploads = append(uploads, toUploadDomain(&modelList[i]))
	}
	return uploads, nil
}

// ReplaceContent 保存新 html 并替换图片行
func (r *UploadRepo) ReplaceContent(ctx context.Context, upload *types.ContentUpload, images []*types.UploadedImage) error {
	return r.atomic(ctx, func(ctx context.Context) error {
		db := r.db.Conn(ctx)
		// UpdateColumns 保留调用方的 updated_at
		result := db.Model(&models.ContentUpload{}).
			Where("id = ?", upload.ID).
			UpdateColumns(map[string]any{
				"html_content": upload.HTMLContent,
				"updated_at":   upload.UpdatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update upload: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return biz.ErrUploadNotFound
		}

		if err := db.Where("upload_id = ?", upload.ID).Delete(&models.UploadedImage{}).Error; err != nil {
			return fmt.Errorf("failed to delete images: %w", err)
		}
		return r.insertImages(ctx, images)
	})
}

// Delete 删除上传记录和图片
func (r *UploadRepo) Delete(ctx context.Context, id string) error {
	return r.atomic(ctx, func(ctx context.Context) error {
		db := r.db.Conn(ctx)
		if err := db.Where("upload_id = ?", id).Delete(&models.UploadedImage{}).Error; err != nil {
			return fmt.Errorf("failed to delete images: %w", err)
		}
		result := db.Where("id = ?", id).Delete(&models.ContentUpload{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete upload: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return biz.ErrUploadNotFound
		}
		return nil
	})
}

func (r *UploadRepo) insertImages(ctx context.Context, images []*types.UploadedImage) error {
	if len(images) == 0 {
		return nil
	}
	modelList := make([]*models.UploadedImage, 0, len(images))
	for _, img := range images {
		modelList = append(modelList, toImageModel(img))
	}
	if err := r.db.Conn(ctx).CreateInBatches(modelList, imageBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create images: %w", err)
	}
	return nil
}

// atomic 加入 ctx 中的事务，没有则新开
func (r *UploadRepo) atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := database.TransactionFromContext(ctx); ok {
		return fn(ctx)
	}
	return r.db.Transaction(ctx, func(ctx context.Context, _ *gorm.DB) error {
		return fn(ctx)
	})
}

// toUploadModel 转换业务对象到 PO
func toUploadModel(u *types.ContentUpload) *models.ContentUpload {
	return &models.ContentUpload{
		ID:               u.ID,
		BookID:           u.BookID,
		OriginalFilename: u.OriginalFilename,
		Format:           string(u.Format),
		HTMLContent:      u.HTMLContent,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// toUploadDomain 转换 PO 到业务对象
func toUploadDomain(m *models.ContentUpload) *types.ContentUpload {
	return &types.ContentUpload{
		ID:               m.ID,
		BookID:           m.BookID,
		OriginalFilename: m.OriginalFilename,
		Format:           types.Format(m.Format),
		HTMLContent:      m.HTMLContent,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func toImageModel(i *types.UploadedImage) *models.UploadedImage {
	return &models.UploadedImage{
		ID:           i.ID,
		UploadID:     i.UploadID,
		OriginalPath: i.OriginalPath,
		CDNURL:       i.CDNURL,
		ContentType:  i.ContentType,
		Size:         i.Size,
		CreatedAt:    i.CreatedAt,
	}
}

func toImageDomain(m *models.UploadedImage) *types.UploadedImage {
	return &types.UploadedImage{
		ID:           m.ID,
		UploadID:     m.UploadID,
		OriginalPath: m.OriginalPath,
		CDNURL:       m.CDNURL,
		ContentType:  m.ContentType,
		Size:         m.Size,
		CreatedAt:    m.CreatedAt,
	}
}
