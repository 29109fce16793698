package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
)

// knowledgeBaseRepository 知识库仓库实现
type knowledgeBaseRepository struct {
	db *gorm.DB
}

// NewKnowledgeBaseRepository 创建知识库仓库
func NewKnowledgeBaseRepository(db *gorm.DB) KnowledgeBaseRepository {
	return &knowledgeBaseRepository{db: db}
}

// Create 创建知识库
func (r *knowledgeBaseRepository) Create(ctx context.Context, kb *models.KnowledgeBase) error {
	now := time.Now()
	kb.CreateTime = now
	kb.UpdateTime = now
	return r.db.WithContext(ctx).Create(kb).Error
}

// GetByID 根据ID获取知识库
func (r *knowledgeBaseRepository) GetByID(ctx context.Context, id uint) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := r.db.WithContext(ctx).Where("knowledge_base_id = ?", id).First(&kb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("knowledge base")
	}
	if err != nil {
		return nil, err
	}
	return &kb, nil
}

// List 分页获取知识库列表，search按名称和描述模糊匹配
func (r *knowledgeBaseRepository) List(ctx context.Context, page, limit int, search string) ([]models.KnowledgeBase, int64, error) {
	var knowledgeBases []models.KnowledgeBase
	var total int64

	query := r.db.WithContext(ctx).Model(&models.KnowledgeBase{})
	if search != "" {
		query = query.Where("name ILIKE ? OR description ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("knowledge_base_id DESC").Offset(offset).Limit(limit).Find(&knowledgeBases).Error; err != nil {
		return nil, 0, err
	}
	return knowledgeBases, total, nil
}

// Update 更新知识库
func (r *knowledgeBaseRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	updates["update_time"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.KnowledgeBase{}).
		Where("knowledge_base_id = ?", id).
		Updates(updates).Error
}

// Delete 删除知识库
func (r *knowledgeBaseRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Where("knowledge_base_id = ?", id).
		Delete(&models.KnowledgeBase{}).Error
}

// AddAggregates 累加统计字段
func (r *knowledgeBaseRepository) AddAggregates(ctx context.Context, id uint, docDelta, chunkDelta int) error {
	return r.db.WithContext(ctx).Model(&models.KnowledgeBase{}).
		Where("knowledge_base_id = ?", id).
		Updates(map[string]interface{}{
			"document_count": gorm.Expr("document_count + ?", docDelta),
			"total_chunks":   gorm.Expr("total_chunks + ?", chunkDelta),
			"update_time":    time.Now(),
		}).Error
}
