package services

import (
	"context"
	"encoding/json"
	"strings"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/models"
	"github.com/wengyuechuan/rag-backend/internal/repository"
)

// 合法的分块策略
var validChunkStrategies = map[string]bool{
	models.ChunkStrategySemantic:  true,
	models.ChunkStrategyFixed:     true,
	models.ChunkStrategyRecursive: true,
	models.ChunkStrategyParagraph: true,
}

// CreateKnowledgeBaseRequest 创建知识库请求
type CreateKnowledgeBaseRequest struct {
	Name                 string `json:"name" valid:"Required;MaxSize(200)"`
	Description          string `json:"description"`
	DefaultChunkStrategy string `json:"default_chunk_strategy"`
	DefaultChunkSize     int    `json:"default_chunk_size"`
	DefaultChunkOverlap  int    `json:"default_chunk_overlap"`
	EnableVectorStore    *bool  `json:"enable_vector_store"`
	EnableKnowledgeGraph bool   `json:"enable_knowledge_graph"`
	EnableNER            bool   `json:"enable_ner"`
	EmbeddingModel       string `json:"embedding_model"`
}

// UpdateKnowledgeBaseRequest 更新知识库请求，nil字段不更新
type UpdateKnowledgeBaseRequest struct {
	Name                 *string `json:"name"`
	Description          *string `json:"description"`
	DefaultChunkStrategy *string `json:"default_chunk_strategy"`
	DefaultChunkSize     *int    `json:"default_chunk_size"`
	DefaultChunkOverlap  *int    `json:"default_chunk_overlap"`
	EnableVectorStore    *bool   `json:"enable_vector_store"`
	EnableKnowledgeGraph *bool   `json:"enable_knowledge_graph"`
	EnableNER            *bool   `json:"enable_ner"`
}

// KnowledgeBaseService 知识库服务
type KnowledgeBaseService struct {
	kbs  repository.KnowledgeBaseRepository
	docs repository.DocumentRepository
}

// NewKnowledgeBaseService 创建知识库服务
func NewKnowledgeBaseService(kbs repository.KnowledgeBaseRepository, docs repository.DocumentRepository) *KnowledgeBaseService {
	return &KnowledgeBaseService{kbs: kbs, docs: docs}
}

// Create 创建知识库
func (s *KnowledgeBaseService) Create(ctx context.Context, req *CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.NewInvalidInputError("name", "must not be empty")
	}

	kb := &models.KnowledgeBase{
		Name:                 strings.TrimSpace(req.Name),
		Description:          req.Description,
		DefaultChunkStrategy: models.ChunkStrategySemantic,
		DefaultChunkSize:     500,
		DefaultChunkOverlap:  100,
		EnableVectorStore:    true,
		EnableKnowledgeGraph: req.EnableKnowledgeGraph,
		EnableNER:            req.EnableNER,
		EmbeddingModel:       "nomic-embed-text",
	}

	if req.DefaultChunkStrategy != "" {
		if !validChunkStrategies[req.DefaultChunkStrategy] {
			return nil, apperrors.NewInvalidInputError("default_chunk_strategy", "unknown chunk strategy")
		}
		kb.DefaultChunkStrategy = req.DefaultChunkStrategy
	}
	if req.DefaultChunkSize > 0 {
		kb.DefaultChunkSize = req.DefaultChunkSize
	}
	if req.DefaultChunkOverlap > 0 {
		kb.DefaultChunkOverlap = req.DefaultChunkOverlap
	}
	if kb.DefaultChunkOverlap >= kb.DefaultChunkSize {
		return nil, apperrors.NewConfigurationError("chunk overlap must be smaller than chunk size")
	}
	if req.EnableVectorStore != nil {
		kb.EnableVectorStore = *req.EnableVectorStore
	}
	if req.EmbeddingModel != "" {
		kb.EmbeddingModel = req.EmbeddingModel
	}

	if err := s.kbs.Create(ctx, kb); err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to create knowledge base").WithCause(err)
	}
	return kb, nil
}

// Get 获取知识库
func (s *KnowledgeBaseService) Get(ctx context.Context, id uint) (*models.KnowledgeBase, error) {
	return s.kbs.GetByID(ctx, id)
}

// List 分页获取知识库列表
func (s *KnowledgeBaseService) List(ctx context.Context, page, limit int, search string) ([]models.KnowledgeBase, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.kbs.List(ctx, page, limit, search)
}

// Update 更新知识库配置，分块参数合法性在生效组合上校验
func (s *KnowledgeBaseService) Update(ctx context.Context, id uint, req *UpdateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	kb, err := s.kbs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return nil, apperrors.NewInvalidInputError("name", "must not be empty")
		}
		updates["name"] = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.DefaultChunkStrategy != nil {
		if !validChunkStrategies[*req.DefaultChunkStrategy] {
			return nil, apperrors.NewInvalidInputError("default_chunk_strategy", "unknown chunk strategy")
		}
		updates["default_chunk_strategy"] = *req.DefaultChunkStrategy
	}

	size := kb.DefaultChunkSize
	overlap := kb.DefaultChunkOverlap
	if req.DefaultChunkSize != nil {
		size = *req.DefaultChunkSize
	}
	if req.DefaultChunkOverlap != nil {
		overlap = *req.DefaultChunkOverlap
	}
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, apperrors.NewConfigurationError("chunk overlap must be smaller than chunk size")
	}
	if req.DefaultChunkSize != nil {
		updates["default_chunk_size"] = size
	}
	if req.DefaultChunkOverlap != nil {
		updates["default_chunk_overlap"] = overlap
	}
	if req.EnableVectorStore != nil {
		updates["enable_vector_store"] = *req.EnableVectorStore
	}
	if req.EnableKnowledgeGraph != nil {
		updates["enable_knowledge_graph"] = *req.EnableKnowledgeGraph
	}
	if req.EnableNER != nil {
		updates["enable_ner"] = *req.EnableNER
	}

	if len(updates) > 0 {
		if err := s.kbs.Update(ctx, id, updates); err != nil {
			return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to update knowledge base").WithCause(err)
		}
	}
	return s.kbs.GetByID(ctx, id)
}

// Delete 删除知识库
func (s *KnowledgeBaseService) Delete(ctx context.Context, id uint) error {
	if _, err := s.kbs.GetByID(ctx, id); err != nil {
		return err
	}
	return s.kbs.Delete(ctx, id)
}

// KnowledgeBaseStats 知识库统计信息
type KnowledgeBaseStats struct {
	KnowledgeBaseID uint  `json:"knowledge_base_id"`
	DocumentCount   int   `json:"document_count"`
	TotalChunks     int   `json:"total_chunks"`
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`
}

// Stats 统计知识库下各状态文档数量
func (s *KnowledgeBaseService) Stats(ctx context.Context, id uint) (*KnowledgeBaseStats, error) {
	kb, err := s.kbs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &KnowledgeBaseStats{
		KnowledgeBaseID: kb.KnowledgeBaseID,
		DocumentCount:   kb.DocumentCount,
		TotalChunks:     kb.TotalChunks,
	}
	for status, target := range map[string]*int64{
		models.DocumentStatusPending:    &stats.PendingCount,
		models.DocumentStatusProcessing: &stats.ProcessingCount,
		models.DocumentStatusCompleted:  &stats.CompletedCount,
		models.DocumentStatusFailed:     &stats.FailedCount,
	} {
		_, total, err := s.docs.ListByKnowledgeBase(ctx, id, 1, 1, status)
		if err != nil {
			return nil, err
		}
		*target = total
	}
	return stats, nil
}

// MarshalTags 标签序列化为JSON列
func MarshalTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(data)
}
