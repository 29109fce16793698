package services

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/wengyuechuan/rag-backend/internal/errors"
	"github.com/wengyuechuan/rag-backend/internal/knowledge"
	"github.com/wengyuechuan/rag-backend/internal/logger"
	"github.com/wengyuechuan/rag-backend/internal/models"
	"github.com/wengyuechuan/rag-backend/internal/repository"
)

// CreateDocumentRequest 新建文档请求
type CreateDocumentRequest struct {
	KnowledgeBaseID uint     `json:"knowledge_base_id" valid:"Required"`
	Title           string   `json:"title" valid:"Required;MaxSize(200)"`
	Content         string   `json:"content" valid:"Required"`
	Source          string   `json:"source"`
	Author          string   `json:"author"`
	Category        string   `json:"category"`
	Tags            []string `json:"tags"`

	// 分块配置覆盖，缺省沿用知识库默认
	ChunkStrategy *string `json:"chunk_strategy"`
	ChunkSize     *int    `json:"chunk_size"`
	ChunkOverlap  *int    `json:"chunk_overlap"`

	// AutoProcess 创建后立即提交处理
	AutoProcess bool `json:"auto_process"`
}

// DocumentService 文档管理：创建、上传、查询、删除与处理触发
type DocumentService struct {
	kbs    repository.KnowledgeBaseRepository
	docs   repository.DocumentRepository
	chunks repository.ChunkRepository

	parser    *knowledge.FileParser
	processor *DocumentProcessingService
}

// NewDocumentService 创建文档服务
func NewDocumentService(
	kbs repository.KnowledgeBaseRepository,
	docs repository.DocumentRepository,
	chunks repository.ChunkRepository,
	processor *DocumentProcessingService,
) *DocumentService {
	return &DocumentService{
		kbs:       kbs,
		docs:      docs,
		chunks:    chunks,
		parser:    knowledge.NewFileParser(),
		processor: processor,
	}
}

// Create 创建文本文档
func (s *DocumentService) Create(ctx context.Context, req *CreateDocumentRequest) (*models.Document, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperrors.NewInvalidInputError("title", "must not be empty")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, apperrors.NewInvalidInputError("content", "must not be empty")
	}
	kb, err := s.kbs.GetByID(ctx, req.KnowledgeBaseID)
	if err != nil {
		return nil, err
	}

	if req.ChunkStrategy != nil && *req.ChunkStrategy != "" && !validChunkStrategies[*req.ChunkStrategy] {
		return nil, apperrors.NewInvalidInputError("chunk_strategy", "unknown chunk strategy")
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	doc := &models.Document{
		KnowledgeBaseID: kb.KnowledgeBaseID,
		Title:           strings.TrimSpace(req.Title),
		Content:         req.Content,
		Source:          source,
		Author:          req.Author,
		Category:        req.Category,
		Tags:            MarshalTags(req.Tags),
		ChunkStrategy:   req.ChunkStrategy,
		ChunkSize:       req.ChunkSize,
		ChunkOverlap:    req.ChunkOverlap,
		Status:          models.DocumentStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to create document").WithCause(err)
	}

	if req.AutoProcess {
		s.processor.Submit(doc.DocumentID)
	}
	return doc, nil
}

// CreateFromFile 解析上传文件并创建文档
func (s *DocumentService) CreateFromFile(ctx context.Context, kbID uint, filename string, reader io.Reader, autoProcess bool) (*models.Document, error) {
	kb, err := s.kbs.GetByID(ctx, kbID)
	if err != nil {
		return nil, err
	}

	content, err := s.parser.Parse(reader, filename)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewBusinessError(apperrors.ErrCodeInvalidFileFormat, "file contains no extractable text")
	}

	title := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	doc := &models.Document{
		KnowledgeBaseID: kb.KnowledgeBaseID,
		Title:           title,
		Content:         content,
		Source:          "file",
		FilePath:        filename,
		Status:          models.DocumentStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, apperrors.NewSystemError(apperrors.ErrCodeDatabaseError, "failed to create document").WithCause(err)
	}

	logger.Info("文件文档创建成功",
		zap.Uint("document_id", doc.DocumentID),
		zap.String("filename", filename),
		zap.Int("chars", len([]rune(content))))

	if autoProcess {
		s.processor.Submit(doc.DocumentID)
	}
	return doc, nil
}

// Get 获取文档
func (s *DocumentService) Get(ctx context.Context, id uint) (*models.Document, error) {
	return s.docs.GetByID(ctx, id)
}

// List 分页获取知识库下的文档
func (s *DocumentService) List(ctx context.Context, kbID uint, page, limit int, status string) ([]models.Document, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if _, err := s.kbs.GetByID(ctx, kbID); err != nil {
		return nil, 0, err
	}
	return s.docs.ListByKnowledgeBase(ctx, kbID, page, limit, status)
}

// Chunks 获取文档的全部分块
func (s *DocumentService) Chunks(ctx context.Context, documentID uint) ([]models.DocumentChunk, error) {
	if _, err := s.docs.GetByID(ctx, documentID); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, documentID)
}

// Delete 删除文档及其分块和向量
func (s *DocumentService) Delete(ctx context.Context, id uint) error {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if vs := s.processor.cachedVectorStore(doc.KnowledgeBaseID); vs != nil {
		records, err := s.chunks.ListByDocument(ctx, id)
		if err == nil {
			ids := make([]string, 0, len(records))
			for _, record := range records {
				if record.VectorID != "" {
					ids = append(ids, record.VectorID)
				}
			}
			if len(ids) > 0 {
				if _, err := vs.DeleteByIDs(ctx, ids); err != nil {
					logger.Warn("文档向量删除失败", zap.Uint("document_id", id), zap.Error(err))
				} else {
					s.processor.persistVectorIndex(doc.KnowledgeBaseID, vs)
				}
			}
		}
	}

	deleted, err := s.chunks.DeleteByDocument(ctx, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		return err
	}

	if err := s.kbs.AddAggregates(ctx, doc.KnowledgeBaseID, -1, -int(deleted)); err != nil {
		logger.Warn("知识库统计更新失败", zap.Uint("knowledge_base_id", doc.KnowledgeBaseID), zap.Error(err))
	}
	return nil
}

// Process 提交文档处理，已在队列中的文档静默忽略
func (s *DocumentService) Process(ctx context.Context, id uint) error {
	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return err
	}
	if !s.processor.Submit(id) {
		logger.Debug("文档已在处理队列中", zap.Uint("document_id", id))
	}
	return nil
}

// Reprocess 重新处理文档
func (s *DocumentService) Reprocess(ctx context.Context, id uint) error {
	return s.processor.Reprocess(ctx, id)
}

// Status 查询文档处理状态，优先读缓存
func (s *DocumentService) Status(ctx context.Context, id uint) (string, string, error) {
	if cached := s.processor.CachedStatus(ctx, id); cached != "" {
		return cached, "", nil
	}
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return "", "", err
	}
	return doc.Status, doc.ErrorMessage, nil
}

// SupportedFormats 支持的上传格式
func (s *DocumentService) SupportedFormats() []string {
	return s.parser.SupportedFormats()
}
