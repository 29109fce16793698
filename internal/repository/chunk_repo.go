package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/wengyuechuan/rag-backend/internal/models"
)

// chunkRepository 分块仓库实现
type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建分块仓库
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// CreateBatch 批量创建分块
func (r *chunkRepository) CreateBatch(ctx context.Context, chunks []*models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now()
	for _, chunk := range chunks {
		chunk.CreateTime = now
	}
	return r.db.WithContext(ctx).CreateInBatches(chunks, 200).Error
}

// Update 更新分块
func (r *chunkRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.DocumentChunk{}).
		Where("chunk_id = ?", id).
		Updates(updates).Error
}

// ListByDocument 获取文档的全部分块，按分块序号排序
func (r *chunkRepository) ListByDocument(ctx context.Context, documentID uint) ([]models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

// ListByKnowledgeBase 联表获取知识库下的全部分块
func (r *chunkRepository) ListByKnowledgeBase(ctx context.Context, kbID uint) ([]models.DocumentChunk, error) {
	var chunks []models.DocumentChunk
	err := r.db.WithContext(ctx).
		Joins("JOIN documents ON documents.document_id = document_chunks.document_id").
		Where("documents.knowledge_base_id = ?", kbID).
		Order("document_chunks.document_id ASC, document_chunks.chunk_index ASC").
		Find(&chunks).Error
	return chunks, err
}

// DeleteByDocument 删除文档的全部分块，返回删除条数
func (r *chunkRepository) DeleteByDocument(ctx context.Context, documentID uint) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&models.DocumentChunk{})
	return result.RowsAffected, result.Error
}
