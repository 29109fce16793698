package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
)

// documentRepository 文档仓库实现
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建文档仓库
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 创建文档
func (r *documentRepository) Create(ctx context.Context, doc *models.Document) error {
	now := time.Now()
	doc.CreateTime = now
	doc.UpdateTime = now
	if doc.Status == "" {
		doc.Status = models.DocumentStatusPending
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID 根据ID获取文档
func (r *documentRepository) GetByID(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where("document_id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("document")
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByKnowledgeBase 分页获取知识库下的文档，status为空时不过滤
func (r *documentRepository) ListByKnowledgeBase(ctx context.Context, kbID uint, page, limit int, status string) ([]models.Document, int64, error) {
	var docs []models.Document
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Document{}).Where("knowledge_base_id = ?", kbID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("document_id DESC").Offset(offset).Limit(limit).Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// Update 更新文档
func (r *documentRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	updates["update_time"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.Document{}).
		Where("document_id = ?", id).
		Updates(updates).Error
}

// Delete 删除文档
func (r *documentRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Where("document_id = ?", id).
		Delete(&models.Document{}).Error
}
